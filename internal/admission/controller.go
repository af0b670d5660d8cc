// Package admission is the orchestration layer tying the queue, leases,
// penalties, retries, and peer coordination together. Callers ask for a
// turn, run their LLM work under the returned lease, and release it; the
// controller decides who runs, when, and at what concurrency.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/Mekann2904/agentgate/internal/capacity"
	"github.com/Mekann2904/agentgate/internal/config"
	"github.com/Mekann2904/agentgate/internal/errors"
	"github.com/Mekann2904/agentgate/internal/event"
	"github.com/Mekann2904/agentgate/internal/logging"
	"github.com/Mekann2904/agentgate/internal/peers"
	"github.com/Mekann2904/agentgate/internal/penalty"
	"github.com/Mekann2904/agentgate/internal/retry"
	"github.com/Mekann2904/agentgate/internal/state"
	"github.com/Mekann2904/agentgate/internal/turnqueue"
)

// DefaultScope is the coordination scope used when a request does not name
// one. Scopes typically identify a provider/model pair so throttling and
// penalties stay isolated per upstream.
const DefaultScope = "default"

// Request describes one admission ask.
type Request struct {
	ToolName     string          // Requesting tool, for logs and events
	ScopeKey     string          // Coordination scope; empty means DefaultScope
	Class        turnqueue.Class // Priority class
	PlannedCount int             // Concurrent units the caller intends to use
}

// waiter is a queued requester parked until dispatch or abandonment.
type waiter struct {
	scope string
	tool  string
	ch    chan *capacity.Lease
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithBus supplies an externally owned event bus; by default the controller
// creates its own.
func WithBus(bus *event.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithoutCoordination disables the cross-process registry; the instance
// runs solo with the full base budget. Used by tests and one-shot tools.
func WithoutCoordination() Option {
	return func(c *Controller) { c.coordinate = false }
}

// Controller owns the admission pipeline for one process.
type Controller struct {
	cfg    *config.Config
	bus    *event.Bus
	logger *logging.Logger

	store     *state.Store
	queue     *turnqueue.Queue
	leases    *capacity.Manager
	penalties *penalty.Controller
	gates     *retry.GateTable
	executor  *retry.Executor
	registry  *peers.Registry

	mu      sync.Mutex
	waiters map[string]*waiter

	coordinate bool
	dispatchCh chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New wires a Controller from configuration. Call Start before use.
func New(cfg *config.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		logger:     logging.NopLogger(),
		waiters:    make(map[string]*waiter),
		coordinate: true,
		dispatchCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = event.NewBus()
	}

	c.store = state.NewStore()
	c.queue = turnqueue.New(cfg.Queue.MaxDepth, cfg.Queue.StarvationThreshold(), c.bus)
	c.penalties = penalty.NewController(c.bus,
		penalty.WithRecoveryWindow(cfg.Penalty.RecoveryWindow()),
		penalty.WithDecayFactor(cfg.Penalty.DecayFactor),
		penalty.WithMaxPenalty(cfg.Penalty.MaxPenalty),
	)

	runtimeDir := cfg.Coordination.ResolveRuntimeDir()
	gateOpts := []retry.GateOption{retry.WithGateLogger(c.logger.WithComponent("gate"))}
	if cfg.Gate.ShareViaFile {
		gateOpts = append(gateOpts, retry.WithGateDir(runtimeDir))
	}
	c.gates = retry.NewGateTable(cfg.Gate.BaseDelay(), cfg.Gate.GateMaxDelay(),
		cfg.Gate.ResetAfter(), c.bus, gateOpts...)

	c.executor = retry.NewExecutor(
		retry.Backoff{
			Initial:    cfg.Backoff.InitialDelay(),
			Max:        cfg.Backoff.MaxDelay(),
			Multiplier: cfg.Backoff.Multiplier,
			Jitter:     retry.ParseJitterMode(cfg.Backoff.Jitter),
		},
		cfg.Backoff.MaxRetries,
		cfg.Backoff.RateLimitMaxRetries,
		cfg.Backoff.RateLimitMaxWait(),
		c.gates,
		retry.WithExecutorLogger(c.logger.WithComponent("retry")),
		retry.WithReporter(c.reportOutcome),
	)

	capOpts := []capacity.Option{
		capacity.WithPenaltyProvider(c.penalties),
		capacity.WithLogger(c.logger.WithComponent("capacity")),
	}
	if c.coordinate {
		c.registry = peers.NewRegistry(runtimeDir,
			cfg.Coordination.HeartbeatInterval(), cfg.Coordination.StaleTimeout(), c.bus,
			peers.WithRegistryLogger(c.logger.WithComponent("peers")),
			peers.WithFairShareMode(peers.ParseFairShareMode(cfg.Coordination.FairShareMode)),
			peers.WithLockTimeout(cfg.Coordination.LockTimeout()),
		)
		capOpts = append(capOpts, capacity.WithShareProvider(c.registry))
	}
	c.leases = capacity.NewManager(c.store,
		state.Limits{
			MaxActiveRequests: cfg.Limits.MaxActiveRequests,
			MaxActiveLLM:      cfg.Limits.MaxActiveLLM,
		},
		cfg.Lease.TTL(), cfg.Lease.SweepInterval(), c.bus, capOpts...)

	return c
}

// Start launches the background loops: lease sweep, starvation promotion,
// peer heartbeat, and the dispatcher. Idempotent only across Stop.
func (c *Controller) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if c.registry != nil {
		if err := c.registry.Register(); err != nil {
			return err
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.registry.Start(ctx)
		}()
	}

	// Freed capacity is the dispatcher's cue.
	c.bus.Subscribe("lease.released", func(event.Event) { c.kickDispatch() })
	c.bus.Subscribe("lease.expired", func(event.Event) { c.kickDispatch() })

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.leases.Start(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.promotionLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.dispatchLoop(ctx)
	}()

	c.logger.Info("admission controller started",
		"max_active_requests", c.cfg.Limits.MaxActiveRequests,
		"max_active_llm", c.cfg.Limits.MaxActiveLLM,
		"queue_depth_max", c.cfg.Queue.MaxDepth)
	return nil
}

// Stop cancels the background loops and waits for them to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// RequestTurn asks for admission. If capacity is free under the scope's
// effective limit the lease is granted immediately; otherwise the request
// queues in its priority class until dispatch, ctx deadline (ErrQueueTimeout),
// or cancellation (ErrQueueAborted).
func (c *Controller) RequestTurn(ctx context.Context, req Request) (*capacity.Lease, error) {
	scope := req.ScopeKey
	if scope == "" {
		scope = DefaultScope
	}
	if req.PlannedCount < 1 {
		req.PlannedCount = 1
	}

	// Fast path: capacity is free right now and nobody is ahead of us.
	if c.queue.Depth() == 0 {
		lease, err := c.leases.TryReserve(scope, req.ToolName, req.PlannedCount)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, errors.ErrCapacityDenied) {
			return nil, err
		}
	}

	entry, err := c.queue.Enqueue(req.ToolName, req.Class, req.PlannedCount)
	if err != nil {
		return nil, err
	}
	c.syncPendingDepth()

	w := &waiter{scope: scope, tool: req.ToolName, ch: make(chan *capacity.Lease, 1)}
	c.mu.Lock()
	c.waiters[entry.Token] = w
	c.mu.Unlock()

	// Capacity may have freed between the fast path and the enqueue.
	c.kickDispatch()

	select {
	case lease := <-w.ch:
		c.bus.Publish(event.NewTurnDispatchedEvent(entry.Token, req.ToolName,
			entry.Waited(time.Now()), entry.Promotions))
		return lease, nil

	case <-ctx.Done():
		return nil, c.abandon(entry.Token, req.ToolName, w, ctx.Err())
	}
}

// abandon withdraws a queued request after its context ended, reclaiming a
// lease that raced in during the withdrawal.
func (c *Controller) abandon(token, toolName string, w *waiter, cause error) error {
	c.mu.Lock()
	delete(c.waiters, token)
	var raced *capacity.Lease
	select {
	case raced = <-w.ch:
	default:
	}
	c.mu.Unlock()

	if raced != nil {
		// Dispatched and abandoned in the same instant; hand the units back.
		if err := c.leases.Release(raced.ID); err != nil {
			c.logger.Warn("releasing raced lease failed", "lease_id", raced.ID, "error", err)
		}
	} else if err := c.queue.Remove(token); err != nil {
		c.logger.Debug("abandoned entry already gone", "token", token, "error", err)
	}
	c.syncPendingDepth()

	reason := "aborted"
	sentinel := errors.ErrQueueAborted
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "timeout"
		sentinel = errors.ErrQueueTimeout
	}
	c.bus.Publish(event.NewTurnAbandonedEvent(token, toolName, reason))
	return errors.NewQueueError(toolName, sentinel)
}

// ReleaseTurn hands back a lease's units. Dispatch wakes through the
// lease.released subscription.
func (c *Controller) ReleaseTurn(leaseID string) error {
	return c.leases.Release(leaseID)
}

// HeartbeatLease extends a granted lease's TTL.
func (c *Controller) HeartbeatLease(leaseID string) error {
	return c.leases.Heartbeat(leaseID)
}

// ConsumeLease records actual usage, returning over-planned units early.
func (c *Controller) ConsumeLease(leaseID string, actual int) error {
	err := c.leases.Consume(leaseID, actual)
	if err == nil {
		c.kickDispatch()
	}
	return err
}

// RunWithResilience executes op under the retry executor for the scope:
// transient failures back off, throttles wait on the shared gate, and every
// outcome feeds the penalty controller.
func (c *Controller) RunWithResilience(ctx context.Context, scopeKey string, op retry.Operation) error {
	if scopeKey == "" {
		scopeKey = DefaultScope
	}
	return c.executor.Run(ctx, scopeKey, op)
}

// Snapshot returns current usage, queue depth, and lease count.
func (c *Controller) Snapshot() state.Snapshot {
	c.store.SetPendingDepth(c.queue.Depth())
	return c.store.Snapshot()
}

// Queue exposes pending entries for inspection tooling.
func (c *Controller) Queue() []*turnqueue.Entry {
	return c.queue.Pending()
}

// Leases exposes active leases for inspection tooling.
func (c *Controller) Leases() []capacity.Lease {
	return c.leases.Leases()
}

// Bus returns the controller's event bus for external subscribers.
func (c *Controller) Bus() *event.Bus {
	return c.bus
}

// Penalties exposes the penalty controller for inspection tooling.
func (c *Controller) Penalties() *penalty.Controller {
	return c.penalties
}

// Gates exposes the shared rate-limit gate table for inspection tooling.
func (c *Controller) Gates() *retry.GateTable {
	return c.gates
}

// reportOutcome feeds per-attempt results into the penalty controller.
func (c *Controller) reportOutcome(scopeKey string, err error) {
	switch {
	case err == nil:
		c.penalties.Lower(scopeKey)
	case errors.Is(err, errors.ErrRateLimited):
		c.penalties.Raise(scopeKey, penalty.ReasonThrottled)
	case errors.Is(err, context.DeadlineExceeded):
		c.penalties.Raise(scopeKey, penalty.ReasonTimeout)
	case errors.Is(err, errors.ErrCapacityDenied):
		c.penalties.Raise(scopeKey, penalty.ReasonCapacityExhausted)
	}
}

// promotionLoop runs the starvation scan on its interval.
func (c *Controller) promotionLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Queue.PromotionScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.queue.PromoteStarving(time.Now()); n > 0 {
				c.logger.Debug("starvation promotions applied", "count", n)
				c.kickDispatch()
			}
		}
	}
}

// dispatchLoop drains the queue whenever capacity frees up.
func (c *Controller) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.dispatchCh:
			c.dispatchPending()
		}
	}
}

// dispatchPending grants leases to queued entries while capacity lasts.
// The free estimate is optimistic (base limits); the per-scope reserve
// recheck is authoritative. A denied entry is held aside and the scan
// continues, so a penalized scope at the head of the queue cannot block
// dispatchable work from other scopes behind it. Held entries rejoin the
// queue at the end of the pass with position and starvation clock intact.
func (c *Controller) dispatchPending() {
	base := state.Limits{
		MaxActiveRequests: c.cfg.Limits.MaxActiveRequests,
		MaxActiveLLM:      c.cfg.Limits.MaxActiveLLM,
	}

	var skipped []*turnqueue.Entry
	defer func() {
		for _, entry := range skipped {
			c.queue.Requeue(entry)
		}
		if len(skipped) > 0 {
			c.syncPendingDepth()
		}
	}()

	for {
		free := c.store.FreeUnder(base)
		if free < 1 {
			return
		}
		entry := c.queue.DequeueNextDispatchable(free)
		if entry == nil {
			return
		}

		c.mu.Lock()
		w, ok := c.waiters[entry.Token]
		c.mu.Unlock()
		if !ok {
			// The requester abandoned between dequeue and delivery.
			c.syncPendingDepth()
			continue
		}

		lease, err := c.leases.TryReserve(w.scope, entry.ToolName, entry.PlannedCount)
		if err != nil {
			if !errors.Is(err, errors.ErrCapacityDenied) {
				c.logger.Error("dispatch reserve failed", "tool", entry.ToolName, "error", err)
			}
			skipped = append(skipped, entry)
			continue
		}

		c.mu.Lock()
		w, ok = c.waiters[entry.Token]
		if ok {
			delete(c.waiters, entry.Token)
			w.ch <- lease
		}
		c.mu.Unlock()
		if !ok {
			// Abandoned while reserving; hand the units straight back.
			if err := c.leases.Release(lease.ID); err != nil {
				c.logger.Warn("releasing orphaned lease failed", "lease_id", lease.ID, "error", err)
			}
		}
		c.syncPendingDepth()
	}
}

// kickDispatch nudges the dispatcher without blocking or piling up.
func (c *Controller) kickDispatch() {
	select {
	case c.dispatchCh <- struct{}{}:
	default:
	}
}

// syncPendingDepth mirrors queue depth into the snapshot store and the
// peer record.
func (c *Controller) syncPendingDepth() {
	depth := c.queue.Depth()
	c.store.SetPendingDepth(depth)
	if c.registry != nil {
		c.registry.SetPendingCount(depth)
	}
}
