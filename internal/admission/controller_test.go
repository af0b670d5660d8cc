package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Mekann2904/agentgate/internal/capacity"
	"github.com/Mekann2904/agentgate/internal/config"
	"github.com/Mekann2904/agentgate/internal/errors"
	"github.com/Mekann2904/agentgate/internal/penalty"
	"github.com/Mekann2904/agentgate/internal/turnqueue"
)

// testConfig returns defaults tightened for fast tests: small limits, quick
// scans, no file sharing, runtime dir under the test tempdir.
func testConfig(t *testing.T, maxActive int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Limits.MaxActiveRequests = maxActive
	cfg.Limits.MaxActiveLLM = maxActive
	cfg.Queue.PromotionScanIntervalMs = 10
	cfg.Lease.SweepIntervalSeconds = 1
	cfg.Gate.ShareViaFile = false
	cfg.Coordination.RuntimeDir = t.TempDir()
	return cfg
}

func startController(t *testing.T, cfg *config.Config) *Controller {
	t.Helper()
	c := New(cfg, WithoutCoordination())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

// waitForDepth polls until the pending depth reaches want.
func waitForDepth(t *testing.T, c *Controller, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().PendingDepth == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("pending depth never reached %d (now %d)", want, c.Snapshot().PendingDepth)
}

func TestRequestTurnFastPath(t *testing.T) {
	c := startController(t, testConfig(t, 4))

	lease, err := c.RequestTurn(context.Background(), Request{
		ToolName: "dispatch_agent", Class: turnqueue.ClassStandard, PlannedCount: 1,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if lease == nil || lease.PlannedCount != 1 {
		t.Fatalf("unexpected lease: %+v", lease)
	}
	if snap := c.Snapshot(); snap.TotalActiveRequests != 1 {
		t.Errorf("active = %d, want 1", snap.TotalActiveRequests)
	}
}

func TestRequestTurnQueuesAndDispatchesOnRelease(t *testing.T) {
	c := startController(t, testConfig(t, 4))
	ctx := context.Background()

	// Saturate: four immediate grants.
	leases := make([]*capacity.Lease, 0, 4)
	for i := 0; i < 4; i++ {
		lease, err := c.RequestTurn(ctx, Request{ToolName: "tool", Class: turnqueue.ClassStandard, PlannedCount: 1})
		if err != nil {
			t.Fatalf("grant %d: %v", i+1, err)
		}
		leases = append(leases, lease)
	}

	// Two more queue up.
	type result struct {
		lease *capacity.Lease
		err   error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := c.RequestTurn(ctx, Request{ToolName: "queued", Class: turnqueue.ClassStandard, PlannedCount: 1})
			results <- result{lease, err}
		}()
		waitForDepth(t, c, i+1)
	}

	// Releasing frees both waiters, one per release.
	c.ReleaseTurn(leases[0].ID)
	c.ReleaseTurn(leases[1].ID)
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			t.Errorf("queued request failed: %v", r.err)
		}
	}
	if depth := c.Snapshot().PendingDepth; depth != 0 {
		t.Errorf("pending depth = %d, want 0", depth)
	}
}

func TestQueuedRequestsDispatchInArrivalOrder(t *testing.T) {
	c := startController(t, testConfig(t, 1))
	ctx := context.Background()

	first, err := c.RequestTurn(ctx, Request{ToolName: "holder", Class: turnqueue.ClassStandard})
	if err != nil {
		t.Fatalf("holder: %v", err)
	}

	granted := make(chan string, 2)
	start := func(name string) {
		go func() {
			if _, err := c.RequestTurn(ctx, Request{ToolName: name, Class: turnqueue.ClassStandard}); err == nil {
				granted <- name
			}
		}()
	}

	start("early")
	waitForDepth(t, c, 1)
	start("late")
	waitForDepth(t, c, 2)

	c.ReleaseTurn(first.ID)
	if got := <-granted; got != "early" {
		t.Errorf("first grant = %s, want early", got)
	}
}

func TestHigherClassJumpsQueue(t *testing.T) {
	c := startController(t, testConfig(t, 1))
	ctx := context.Background()

	holder, _ := c.RequestTurn(ctx, Request{ToolName: "holder", Class: turnqueue.ClassStandard})

	granted := make(chan string, 2)
	start := func(name string, class turnqueue.Class) {
		go func() {
			if _, err := c.RequestTurn(ctx, Request{ToolName: name, Class: class}); err == nil {
				granted <- name
			}
		}()
	}

	start("batch", turnqueue.ClassBatch)
	waitForDepth(t, c, 1)
	start("interactive", turnqueue.ClassInteractive)
	waitForDepth(t, c, 2)

	c.ReleaseTurn(holder.ID)
	if got := <-granted; got != "interactive" {
		t.Errorf("first grant = %s, want interactive", got)
	}
}

func TestRequestTurnTimeout(t *testing.T) {
	c := startController(t, testConfig(t, 1))

	holder, _ := c.RequestTurn(context.Background(), Request{ToolName: "holder", Class: turnqueue.ClassStandard})
	defer c.ReleaseTurn(holder.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.RequestTurn(ctx, Request{ToolName: "waiter", Class: turnqueue.ClassStandard})
	if !errors.Is(err, errors.ErrQueueTimeout) {
		t.Errorf("expected ErrQueueTimeout, got %v", err)
	}
	if depth := c.Snapshot().PendingDepth; depth != 0 {
		t.Errorf("abandoned entry still queued, depth = %d", depth)
	}
}

func TestRequestTurnAborted(t *testing.T) {
	c := startController(t, testConfig(t, 1))

	holder, _ := c.RequestTurn(context.Background(), Request{ToolName: "holder", Class: turnqueue.ClassStandard})
	defer c.ReleaseTurn(holder.ID)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.RequestTurn(ctx, Request{ToolName: "waiter", Class: turnqueue.ClassStandard})
	if !errors.Is(err, errors.ErrQueueAborted) {
		t.Errorf("expected ErrQueueAborted, got %v", err)
	}
}

func TestQueueFullFailsFast(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.Queue.MaxDepth = 1
	c := startController(t, cfg)
	ctx := context.Background()

	holder, _ := c.RequestTurn(ctx, Request{ToolName: "holder", Class: turnqueue.ClassStandard})
	defer c.ReleaseTurn(holder.ID)

	go c.RequestTurn(ctx, Request{ToolName: "queued", Class: turnqueue.ClassStandard})
	waitForDepth(t, c, 1)

	_, err := c.RequestTurn(ctx, Request{ToolName: "overflow", Class: turnqueue.ClassStandard})
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestConsumeFreesUnitsForWaiters(t *testing.T) {
	c := startController(t, testConfig(t, 2))
	ctx := context.Background()

	// Planned 2 units, saturating the limit.
	big, err := c.RequestTurn(ctx, Request{ToolName: "big", Class: turnqueue.ClassStandard, PlannedCount: 2})
	if err != nil {
		t.Fatalf("big: %v", err)
	}

	granted := make(chan struct{})
	go func() {
		if _, err := c.RequestTurn(ctx, Request{ToolName: "small", Class: turnqueue.ClassStandard}); err == nil {
			close(granted)
		}
	}()
	waitForDepth(t, c, 1)

	// Actual usage was 1; the spare unit goes to the waiter.
	if err := c.ConsumeLease(big.ID, 1); err != nil {
		t.Fatalf("consume: %v", err)
	}

	select {
	case <-granted:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never granted after consume freed a unit")
	}
}

func TestRunWithResilienceFeedsPenalty(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Gate.BaseDelayMs = 1
	cfg.Gate.MaxDelayMs = 5
	c := startController(t, cfg)

	calls := 0
	err := c.RunWithResilience(context.Background(), "anthropic/opus", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.ErrRateLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The throttle raised the scope's penalty; success reset its streak but
	// the penalty decays on the clock, not instantly.
	if got := c.Penalties().GetPenalty("anthropic/opus"); got != 1.0 {
		t.Errorf("penalty = %v, want 1.0", got)
	}
	if len(c.Gates().Scopes()) != 1 {
		t.Errorf("gate scopes = %v, want one", c.Gates().Scopes())
	}
}

func TestPenaltyShrinksAdmission(t *testing.T) {
	c := startController(t, testConfig(t, 4))
	ctx := context.Background()

	// Three throttles put the scope at penalty 3.0: floor(4/4) = 1 effective.
	for i := 0; i < 3; i++ {
		c.Penalties().Raise("hot", penalty.ReasonThrottled)
	}

	if _, err := c.RequestTurn(ctx, Request{ToolName: "a", ScopeKey: "hot", Class: turnqueue.ClassStandard}); err != nil {
		t.Fatalf("first: %v", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := c.RequestTurn(ctxTimeout, Request{ToolName: "b", ScopeKey: "hot", Class: turnqueue.ClassStandard})
	if !errors.Is(err, errors.ErrQueueTimeout) {
		t.Errorf("expected queueing under penalized limit, got %v", err)
	}

	// An unpenalized scope still admits freely.
	if _, err := c.RequestTurn(ctx, Request{ToolName: "c", ScopeKey: "cold", Class: turnqueue.ClassStandard}); err != nil {
		t.Errorf("cold scope should admit: %v", err)
	}
}

func TestPenalizedScopeDoesNotBlockOthers(t *testing.T) {
	c := startController(t, testConfig(t, 4))
	ctx := context.Background()

	// Penalty 3.0 shrinks "hot" to an effective limit of 1, and that one
	// slot is taken.
	for i := 0; i < 3; i++ {
		c.Penalties().Raise("hot", penalty.ReasonThrottled)
	}
	holder, err := c.RequestTurn(ctx, Request{ToolName: "a", ScopeKey: "hot", Class: turnqueue.ClassStandard})
	if err != nil {
		t.Fatalf("hot holder: %v", err)
	}
	defer c.ReleaseTurn(holder.ID)

	// A second hot request parks at the head of the queue.
	go c.RequestTurn(ctx, Request{ToolName: "b", ScopeKey: "hot", Class: turnqueue.ClassStandard})
	waitForDepth(t, c, 1)

	// Three base units are still free; the cold-scope request behind the
	// blocked hot entry must dispatch, not starve behind it.
	coldCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	lease, err := c.RequestTurn(coldCtx, Request{ToolName: "c", ScopeKey: "cold", Class: turnqueue.ClassStandard})
	if err != nil {
		t.Fatalf("cold scope starved behind penalized entry: %v", err)
	}
	c.ReleaseTurn(lease.ID)

	// The hot entry is still queued, position preserved.
	if depth := c.Snapshot().PendingDepth; depth != 1 {
		t.Errorf("pending depth = %d, want 1 (hot entry held)", depth)
	}
}

func TestSnapshotReflectsUsage(t *testing.T) {
	c := startController(t, testConfig(t, 4))

	lease, _ := c.RequestTurn(context.Background(), Request{ToolName: "tool", Class: turnqueue.ClassStandard, PlannedCount: 2})

	snap := c.Snapshot()
	if snap.TotalActiveRequests != 2 || snap.TotalActiveLLM != 2 {
		t.Errorf("snapshot = %+v, want 2 active", snap)
	}
	if len(c.Leases()) != 1 {
		t.Errorf("leases = %d, want 1", len(c.Leases()))
	}

	c.ReleaseTurn(lease.ID)
	if snap := c.Snapshot(); snap.TotalActiveRequests != 0 {
		t.Errorf("snapshot after release = %+v, want 0 active", snap)
	}
}

func TestStarvationPromotionUnblocksBatch(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.Queue.StarvationThresholdSeconds = 0 // promote on the first scan
	c := startController(t, cfg)
	ctx := context.Background()

	holder, _ := c.RequestTurn(ctx, Request{ToolName: "holder", Class: turnqueue.ClassStandard})

	granted := make(chan string, 2)
	go func() {
		if _, err := c.RequestTurn(ctx, Request{ToolName: "batch", Class: turnqueue.ClassBatch}); err == nil {
			granted <- "batch"
		}
	}()
	waitForDepth(t, c, 1)

	// Give the promotion scan a couple of cycles to lift the batch entry.
	time.Sleep(40 * time.Millisecond)

	pending := c.Queue()
	if len(pending) != 1 || pending[0].CurrentClass == turnqueue.ClassBatch {
		t.Errorf("batch entry not promoted: %+v", pending)
	}

	c.ReleaseTurn(holder.ID)
	select {
	case <-granted:
	case <-time.After(2 * time.Second):
		t.Fatal("promoted entry never dispatched")
	}
}
