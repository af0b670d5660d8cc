package event

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe("lease.granted", func(e Event) {
		received = append(received, e)
	})

	bus.Publish(NewLeaseGrantedEvent("lease-1", "anthropic/sonnet", 2))
	bus.Publish(NewLeaseReleasedEvent("lease-1", 1)) // different type, not delivered

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	granted, ok := received[0].(LeaseGrantedEvent)
	if !ok {
		t.Fatalf("wrong event type: %T", received[0])
	}
	if granted.ScopeKey != "anthropic/sonnet" || granted.PlannedCount != 2 {
		t.Errorf("event fields mismatch: %+v", granted)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(NewQueueDepthEvent(3))
	bus.Publish(NewGateOpenedEvent("scope", 1, time.Now()))
	bus.Publish(NewPeerSeenEvent("inst", 0))

	if count != 3 {
		t.Errorf("wildcard handler saw %d events, want 3", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe("queue.depth_changed", func(Event) { count++ })

	bus.Publish(NewQueueDepthEvent(1))
	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should find the subscription")
	}
	bus.Publish(NewQueueDepthEvent(2))

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should return false")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("penalty.changed", func(Event) { panic("boom") })

	delivered := false
	bus.Subscribe("penalty.changed", func(Event) { delivered = true })

	bus.Publish(NewPenaltyChangedEvent("scope", 1.0, "warning"))

	if !delivered {
		t.Error("second handler should run despite first handler's panic")
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("queue.depth_changed", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(depth int) {
			defer wg.Done()
			bus.Publish(NewQueueDepthEvent(depth))
		}(i)
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("handler called %d times, want 20", count)
	}
}

func TestClearAndCount(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", func(Event) {})
	bus.Subscribe("b", func(Event) {})
	bus.SubscribeAll(func(Event) {})

	if got := bus.SubscriptionCount(); got != 3 {
		t.Errorf("SubscriptionCount = %d, want 3", got)
	}

	bus.Clear()
	if got := bus.SubscriptionCount(); got != 0 {
		t.Errorf("after Clear, SubscriptionCount = %d, want 0", got)
	}
}

func TestEventTypesAndTimestamps(t *testing.T) {
	before := time.Now()
	tests := []struct {
		event Event
		want  string
	}{
		{NewTurnEnqueuedEvent("tok", "tool", "standard", 1, 4), "queue.enqueued"},
		{NewTurnDispatchedEvent("tok", "tool", time.Second, 0), "queue.dispatched"},
		{NewTurnAbandonedEvent("tok", "tool", "timeout"), "queue.abandoned"},
		{NewQueueDepthEvent(2), "queue.depth_changed"},
		{NewLeaseGrantedEvent("l", "s", 1), "lease.granted"},
		{NewLeaseReleasedEvent("l", 1), "lease.released"},
		{NewLeaseExpiredEvent("l", before), "lease.expired"},
		{NewPenaltyChangedEvent("s", 1, "warning"), "penalty.changed"},
		{NewGateOpenedEvent("s", 2, before), "gate.opened"},
		{NewPeerSeenEvent("i", 1), "peer.seen"},
		{NewPeerReapedEvent("i", before), "peer.reaped"},
	}

	for _, tt := range tests {
		if got := tt.event.EventType(); got != tt.want {
			t.Errorf("EventType = %q, want %q", got, tt.want)
		}
		if tt.event.Timestamp().Before(before) {
			t.Errorf("%s timestamp predates construction", tt.want)
		}
	}
}
