package retry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mekann2904/agentgate/internal/event"
)

func TestGateHitEscalatesDelay(t *testing.T) {
	clock := &gateClock{t: time.Now()}
	g := NewGateTable(5*time.Second, 120*time.Second, time.Minute, nil,
		withGateClock(clock.now))

	// Delays double per consecutive hit: 5s, 10s, 20s.
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, expected := range want {
		until := g.Hit("scope")
		if got := until.Sub(clock.t); got != expected {
			t.Errorf("hit %d: gate delay = %v, want %v", i+1, got, expected)
		}
	}
}

func TestGateDelayCapped(t *testing.T) {
	clock := &gateClock{t: time.Now()}
	g := NewGateTable(5*time.Second, 30*time.Second, time.Minute, nil,
		withGateClock(clock.now))

	var until time.Time
	for i := 0; i < 10; i++ {
		until = g.Hit("scope")
	}
	if got := until.Sub(clock.t); got != 30*time.Second {
		t.Errorf("gate delay = %v, want cap 30s", got)
	}
}

func TestGateDeadlineNeverMovesBackward(t *testing.T) {
	clock := &gateClock{t: time.Now()}
	g := NewGateTable(5*time.Second, 120*time.Second, time.Minute, nil,
		withGateClock(clock.now))

	g.Hit("scope")
	second := g.Hit("scope") // 10s out

	clock.advance(2 * time.Second)
	third := g.Hit("scope")
	if third.Before(second) {
		t.Errorf("gate deadline moved backward: %v before %v", third, second)
	}
}

func TestGateHitsResetAfterQuietPeriod(t *testing.T) {
	clock := &gateClock{t: time.Now()}
	g := NewGateTable(5*time.Second, 120*time.Second, time.Minute, nil,
		withGateClock(clock.now))

	g.Hit("scope")
	g.Hit("scope")

	clock.advance(5 * time.Minute) // quiet long past the reset window

	until := g.Hit("scope")
	if got := until.Sub(clock.t); got != 5*time.Second {
		t.Errorf("delay after reset = %v, want base 5s", got)
	}
}

func TestGateUntilZeroWhenOpen(t *testing.T) {
	clock := &gateClock{t: time.Now()}
	g := NewGateTable(5*time.Second, 120*time.Second, time.Minute, nil,
		withGateClock(clock.now))

	if !g.GateUntil("scope").IsZero() {
		t.Error("fresh scope should have no gate")
	}

	g.Hit("scope")
	if g.GateUntil("scope").IsZero() {
		t.Error("gate should be closed after a hit")
	}

	clock.advance(10 * time.Second)
	if !g.GateUntil("scope").IsZero() {
		t.Error("gate should reopen once the deadline passes")
	}
}

func TestGateMirrorSharedAcrossTables(t *testing.T) {
	dir := t.TempDir()
	clock := &gateClock{t: time.Now()}

	writer := NewGateTable(5*time.Second, 120*time.Second, time.Minute, nil,
		WithGateDir(dir), withGateClock(clock.now))
	reader := NewGateTable(5*time.Second, 120*time.Second, time.Minute, nil,
		WithGateDir(dir), withGateClock(clock.now))

	until := writer.Hit("anthropic/opus")

	// A sibling process (second table) observes the gate through the file.
	got := reader.GateUntil("anthropic/opus")
	if !got.Equal(until) {
		t.Errorf("shared gate = %v, want %v", got, until)
	}

	// The mirror file name is sanitized.
	if _, err := os.Stat(filepath.Join(dir, "gate-anthropic_opus.json")); err != nil {
		t.Errorf("sanitized mirror file missing: %v", err)
	}
}

func TestGateWaitAbortable(t *testing.T) {
	g := NewGateTable(time.Hour, 2*time.Hour, time.Minute, nil)
	g.Hit("scope")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.Wait(ctx, "scope"); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestGateWaitReturnsWhenClear(t *testing.T) {
	g := NewGateTable(5*time.Millisecond, time.Second, time.Minute, nil)
	g.Hit("scope")

	if err := g.Wait(context.Background(), "scope"); err != nil {
		t.Errorf("wait should clear: %v", err)
	}
	if !g.GateUntil("scope").IsZero() {
		t.Error("gate should be open after waiting it out")
	}
}

func TestGatePublishesEvent(t *testing.T) {
	bus := event.NewBus()
	var got []event.Event
	bus.Subscribe("gate.opened", func(e event.Event) { got = append(got, e) })

	g := NewGateTable(5*time.Second, 120*time.Second, time.Minute, bus)
	g.Hit("scope")

	if len(got) != 1 {
		t.Fatalf("expected 1 gate event, got %d", len(got))
	}
	ev := got[0].(event.GateOpenedEvent)
	if ev.ScopeKey != "scope" || ev.HitCount != 1 {
		t.Errorf("unexpected event payload: %+v", ev)
	}
}

// gateClock is a controllable time source for gate tests.
type gateClock struct {
	t time.Time
}

func (c *gateClock) now() time.Time          { return c.t }
func (c *gateClock) advance(d time.Duration) { c.t = c.t.Add(d) }
