// Package capacity grants time-bounded reservations (leases) against the
// global usage counters. A lease reserves plannedCount units atomically under
// the effective limit for its scope; the holder heartbeats it alive, reports
// actual usage via Consume, and releases it when done. Leases that miss their
// heartbeats are reclaimed by a periodic sweep so a crashed holder cannot pin
// capacity forever.
package capacity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mekann2904/agentgate/internal/errors"
	"github.com/Mekann2904/agentgate/internal/event"
	"github.com/Mekann2904/agentgate/internal/logging"
	"github.com/Mekann2904/agentgate/internal/state"
)

// PenaltyProvider supplies the current penalty for a scope. The effective
// limit is divided by (1 + penalty).
type PenaltyProvider interface {
	GetPenalty(scopeKey string) float64
}

// ShareProvider supplies this instance's fair share of a base limit when
// multiple processes coordinate. A nil provider means the full base limit.
type ShareProvider interface {
	FairShare(base int) int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPenaltyProvider wires the adaptive penalty controller.
func WithPenaltyProvider(p PenaltyProvider) Option {
	return func(m *Manager) { m.penalties = p }
}

// WithShareProvider wires the cross-process fair-share coordinator.
func WithShareProvider(p ShareProvider) Option {
	return func(m *Manager) { m.shares = p }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// withClock overrides the time source. Used by tests.
func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns lease lifecycle and the effective-limit computation.
// All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	leases map[string]*Lease

	store      *state.Store
	baseLimits state.Limits
	ttl        time.Duration
	sweepEvery time.Duration

	penalties PenaltyProvider
	shares    ShareProvider
	bus       *event.Bus
	logger    *logging.Logger
	now       func() time.Time
}

// NewManager creates a Manager over the given store and base limits.
// The bus may be nil.
func NewManager(store *state.Store, baseLimits state.Limits, ttl, sweepEvery time.Duration, bus *event.Bus, opts ...Option) *Manager {
	m := &Manager{
		leases:     make(map[string]*Lease),
		store:      store,
		baseLimits: baseLimits,
		ttl:        ttl,
		sweepEvery: sweepEvery,
		bus:        bus,
		logger:     logging.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EffectiveLimits returns the limits in force for a scope right now:
// base, scaled to this instance's fair share, divided by (1 + penalty),
// floored at one unit so a penalized scope degrades rather than deadlocks.
func (m *Manager) EffectiveLimits(scopeKey string) state.Limits {
	return state.Limits{
		MaxActiveRequests: m.effective(m.baseLimits.MaxActiveRequests, scopeKey),
		MaxActiveLLM:      m.effective(m.baseLimits.MaxActiveLLM, scopeKey),
	}
}

func (m *Manager) effective(base int, scopeKey string) int {
	share := base
	if m.shares != nil {
		share = m.shares.FairShare(base)
	}
	penalty := 0.0
	if m.penalties != nil {
		penalty = m.penalties.GetPenalty(scopeKey)
	}
	limit := int(float64(share) / (1 + penalty))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// FreeUnits reports how many units fit under the scope's effective limits.
func (m *Manager) FreeUnits(scopeKey string) int {
	return m.store.FreeUnder(m.EffectiveLimits(scopeKey))
}

// TryReserve attempts to reserve plannedCount units for the scope. On denial
// it returns a CapacityError itemizing every limit that blocked the grant;
// counters are untouched so the caller can queue and retry.
func (m *Manager) TryReserve(scopeKey, toolName string, plannedCount int) (*Lease, error) {
	if plannedCount < 1 {
		return nil, fmt.Errorf("%w: planned count must be at least 1", errors.ErrInvalidInput)
	}

	limits := m.EffectiveLimits(scopeKey)
	ok, reasons := m.store.TryAcquire(plannedCount, limits)
	if !ok {
		return nil, errors.NewCapacityError(scopeKey, reasons...)
	}

	now := m.now()
	lease := &Lease{
		ID:              uuid.NewString(),
		ScopeKey:        scopeKey,
		ToolName:        toolName,
		PlannedCount:    plannedCount,
		GrantedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
		LastHeartbeatAt: now,
		held:            plannedCount,
	}

	m.mu.Lock()
	m.leases[lease.ID] = lease
	m.mu.Unlock()

	m.logger.Debug("lease granted",
		"lease_id", lease.ID, "scope", scopeKey, "planned", plannedCount)
	m.publish(event.NewLeaseGrantedEvent(lease.ID, scopeKey, plannedCount))
	return lease, nil
}

// Heartbeat extends the lease's expiry to now+TTL. Idempotent: repeated
// heartbeats within the TTL are harmless. Returns ErrLeaseNotFound for an
// unknown or already-released lease and ErrLeaseExpired for one the sweep
// has not yet collected but that already missed its deadline.
func (m *Manager) Heartbeat(leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[leaseID]
	if !ok {
		return errors.NewLeaseError(leaseID, errors.ErrLeaseNotFound)
	}
	now := m.now()
	if lease.Expired(now) {
		return errors.NewLeaseError(leaseID, errors.ErrLeaseExpired)
	}
	lease.LastHeartbeatAt = now
	lease.ExpiresAt = now.Add(m.ttl)
	return nil
}

// Consume records the actual number of units the holder ended up using.
// Unused planned units (planned - actual) are released back immediately so
// over-planning does not pin capacity for the lease's remaining lifetime.
// Raising consumption after lowering it must re-acquire the difference: the
// freed units may already back another lease, so a raise that no longer fits
// is denied with a CapacityError. Consuming more than planned is an error:
// the grant never covered it.
func (m *Manager) Consume(leaseID string, actual int) error {
	if actual < 0 {
		return fmt.Errorf("%w: consumed count must be non-negative", errors.ErrInvalidInput)
	}

	m.mu.Lock()
	lease, ok := m.leases[leaseID]
	if !ok {
		m.mu.Unlock()
		return errors.NewLeaseError(leaseID, errors.ErrLeaseNotFound)
	}
	if actual > lease.PlannedCount {
		m.mu.Unlock()
		return fmt.Errorf("%w: consumed %d exceeds planned %d for lease %s",
			errors.ErrOverConsume, actual, lease.PlannedCount, leaseID)
	}

	delta := actual - lease.held
	if delta > 0 {
		ok, reasons := m.store.TryAcquire(delta, m.EffectiveLimits(lease.ScopeKey))
		if !ok {
			m.mu.Unlock()
			return errors.NewCapacityError(lease.ScopeKey, reasons...)
		}
	}
	lease.ConsumedCount = actual
	lease.held = actual
	m.mu.Unlock()

	if delta < 0 {
		m.store.Release(-delta)
	}
	return nil
}

// Release returns the lease's remaining held units and forgets it.
// Releasing an unknown lease returns ErrLeaseNotFound; the caller treats a
// double release as a no-op by checking that sentinel.
func (m *Manager) Release(leaseID string) error {
	m.mu.Lock()
	lease, ok := m.leases[leaseID]
	if !ok {
		m.mu.Unlock()
		return errors.NewLeaseError(leaseID, errors.ErrLeaseNotFound)
	}
	delete(m.leases, leaseID)
	held := lease.held
	consumed := lease.ConsumedCount
	m.mu.Unlock()

	m.store.Release(held)
	m.logger.Debug("lease released", "lease_id", leaseID, "consumed", consumed)
	m.publish(event.NewLeaseReleasedEvent(leaseID, consumed))
	return nil
}

// SweepExpired reclaims every lease past its heartbeat deadline, returning
// their units to the store. Returns the number of leases reclaimed.
func (m *Manager) SweepExpired() int {
	now := m.now()

	m.mu.Lock()
	var expired []*Lease
	for id, lease := range m.leases {
		if lease.Expired(now) {
			expired = append(expired, lease)
			delete(m.leases, id)
		}
	}
	m.mu.Unlock()

	for _, lease := range expired {
		m.store.Release(lease.held)
		m.logger.Warn("lease expired without release",
			"lease_id", lease.ID, "scope", lease.ScopeKey,
			"last_heartbeat", lease.LastHeartbeatAt)
		m.publish(event.NewLeaseExpiredEvent(lease.ID, lease.LastHeartbeatAt))
	}
	return len(expired)
}

// Start runs the sweep loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepExpired()
		}
	}
}

// Leases returns a snapshot of active leases.
func (m *Manager) Leases() []Lease {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Lease, 0, len(m.leases))
	for _, lease := range m.leases {
		out = append(out, *lease)
	}
	return out
}

func (m *Manager) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
