// Package event defines event types for decoupling agentgate components.
// Admission, capacity, penalty, and coordination components publish typed
// events that logging hooks, tests, and out-of-process status collaborators
// can observe without direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "queue.enqueued", "lease.granted")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Queue Events
// -----------------------------------------------------------------------------

// TurnEnqueuedEvent is emitted when an admission request joins the queue.
type TurnEnqueuedEvent struct {
	baseEvent
	Token        string // Queue entry token
	ToolName     string // Name of the tool requesting admission
	Class        string // Priority class name
	PlannedCount int    // Concurrent units requested
	Depth        int    // Queue depth after enqueue
}

// NewTurnEnqueuedEvent creates a TurnEnqueuedEvent.
func NewTurnEnqueuedEvent(token, toolName, class string, plannedCount, depth int) TurnEnqueuedEvent {
	return TurnEnqueuedEvent{
		baseEvent:    newBaseEvent("queue.enqueued"),
		Token:        token,
		ToolName:     toolName,
		Class:        class,
		PlannedCount: plannedCount,
		Depth:        depth,
	}
}

// TurnDispatchedEvent is emitted when a queued entry is granted capacity.
type TurnDispatchedEvent struct {
	baseEvent
	Token    string        // Queue entry token
	ToolName string        // Name of the tool
	Waited   time.Duration // Time spent queued
	Promoted int           // Number of starvation promotions received
}

// NewTurnDispatchedEvent creates a TurnDispatchedEvent.
func NewTurnDispatchedEvent(token, toolName string, waited time.Duration, promoted int) TurnDispatchedEvent {
	return TurnDispatchedEvent{
		baseEvent: newBaseEvent("queue.dispatched"),
		Token:     token,
		ToolName:  toolName,
		Waited:    waited,
		Promoted:  promoted,
	}
}

// TurnAbandonedEvent is emitted when a queued entry is removed without
// dispatch (timeout or abort).
type TurnAbandonedEvent struct {
	baseEvent
	Token    string // Queue entry token
	ToolName string // Name of the tool
	Reason   string // "timeout" or "aborted"
}

// NewTurnAbandonedEvent creates a TurnAbandonedEvent.
func NewTurnAbandonedEvent(token, toolName, reason string) TurnAbandonedEvent {
	return TurnAbandonedEvent{
		baseEvent: newBaseEvent("queue.abandoned"),
		Token:     token,
		ToolName:  toolName,
		Reason:    reason,
	}
}

// QueueDepthEvent is emitted when the pending depth changes.
type QueueDepthEvent struct {
	baseEvent
	Depth int // Current pending depth
}

// NewQueueDepthEvent creates a QueueDepthEvent.
func NewQueueDepthEvent(depth int) QueueDepthEvent {
	return QueueDepthEvent{
		baseEvent: newBaseEvent("queue.depth_changed"),
		Depth:     depth,
	}
}

// -----------------------------------------------------------------------------
// Lease Events
// -----------------------------------------------------------------------------

// LeaseGrantedEvent is emitted when a reservation succeeds.
type LeaseGrantedEvent struct {
	baseEvent
	LeaseID      string // Lease identifier
	ScopeKey     string // Coordination scope
	PlannedCount int    // Units reserved
}

// NewLeaseGrantedEvent creates a LeaseGrantedEvent.
func NewLeaseGrantedEvent(leaseID, scopeKey string, plannedCount int) LeaseGrantedEvent {
	return LeaseGrantedEvent{
		baseEvent:    newBaseEvent("lease.granted"),
		LeaseID:      leaseID,
		ScopeKey:     scopeKey,
		PlannedCount: plannedCount,
	}
}

// LeaseReleasedEvent is emitted when a lease is released by its holder.
type LeaseReleasedEvent struct {
	baseEvent
	LeaseID  string // Lease identifier
	Consumed int    // Units actually consumed
}

// NewLeaseReleasedEvent creates a LeaseReleasedEvent.
func NewLeaseReleasedEvent(leaseID string, consumed int) LeaseReleasedEvent {
	return LeaseReleasedEvent{
		baseEvent: newBaseEvent("lease.released"),
		LeaseID:   leaseID,
		Consumed:  consumed,
	}
}

// LeaseExpiredEvent is emitted when the sweep reclaims a lease that missed
// its heartbeats.
type LeaseExpiredEvent struct {
	baseEvent
	LeaseID  string    // Lease identifier
	LastSeen time.Time // Last heartbeat time
}

// NewLeaseExpiredEvent creates a LeaseExpiredEvent.
func NewLeaseExpiredEvent(leaseID string, lastSeen time.Time) LeaseExpiredEvent {
	return LeaseExpiredEvent{
		baseEvent: newBaseEvent("lease.expired"),
		LeaseID:   leaseID,
		LastSeen:  lastSeen,
	}
}

// -----------------------------------------------------------------------------
// Penalty and Gate Events
// -----------------------------------------------------------------------------

// PenaltyChangedEvent is emitted when a scope's penalty moves.
type PenaltyChangedEvent struct {
	baseEvent
	ScopeKey string  // Coordination scope
	Penalty  float64 // New penalty value
	Tier     string  // Tier name after the change
}

// NewPenaltyChangedEvent creates a PenaltyChangedEvent.
func NewPenaltyChangedEvent(scopeKey string, penalty float64, tier string) PenaltyChangedEvent {
	return PenaltyChangedEvent{
		baseEvent: newBaseEvent("penalty.changed"),
		ScopeKey:  scopeKey,
		Penalty:   penalty,
		Tier:      tier,
	}
}

// GateOpenedEvent is emitted when a throttling signal opens (or extends)
// the shared rate-limit gate for a scope.
type GateOpenedEvent struct {
	baseEvent
	ScopeKey  string    // Coordination scope
	HitCount  int       // Consecutive throttling hits
	GateUntil time.Time // When the gate closes
}

// NewGateOpenedEvent creates a GateOpenedEvent.
func NewGateOpenedEvent(scopeKey string, hitCount int, gateUntil time.Time) GateOpenedEvent {
	return GateOpenedEvent{
		baseEvent: newBaseEvent("gate.opened"),
		ScopeKey:  scopeKey,
		HitCount:  hitCount,
		GateUntil: gateUntil,
	}
}

// -----------------------------------------------------------------------------
// Peer Events
// -----------------------------------------------------------------------------

// PeerSeenEvent is emitted when a directory scan discovers a live peer record.
type PeerSeenEvent struct {
	baseEvent
	InstanceID string // Peer instance identifier
	Pending    int    // Peer's reported pending workload
}

// NewPeerSeenEvent creates a PeerSeenEvent.
func NewPeerSeenEvent(instanceID string, pending int) PeerSeenEvent {
	return PeerSeenEvent{
		baseEvent:  newBaseEvent("peer.seen"),
		InstanceID: instanceID,
		Pending:    pending,
	}
}

// PeerReapedEvent is emitted when a stale peer record is removed.
type PeerReapedEvent struct {
	baseEvent
	InstanceID string    // Peer instance identifier
	LastSeen   time.Time // The stale record's last heartbeat
}

// NewPeerReapedEvent creates a PeerReapedEvent.
func NewPeerReapedEvent(instanceID string, lastSeen time.Time) PeerReapedEvent {
	return PeerReapedEvent{
		baseEvent:  newBaseEvent("peer.reaped"),
		InstanceID: instanceID,
		LastSeen:   lastSeen,
	}
}
