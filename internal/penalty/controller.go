// Package penalty implements adaptive penalty-based rate control. Each
// coordination scope (typically provider+model) carries a penalty learned
// from failure signals; the capacity manager divides its effective limit by
// (1 + penalty). This is a control loop, not a hard limiter: it only shrinks
// the divisor, and sustained success decays it back toward zero.
package penalty

import (
	"sync"
	"time"

	"github.com/Mekann2904/agentgate/internal/event"
)

// Default controller values.
const (
	defaultRecoveryWindow = 120 * time.Second
	defaultDecayFactor    = 0.5
	defaultMaxPenalty     = 7.0

	// Consecutive-failure counts at which tiers begin.
	warningFailures  = 1
	criticalFailures = 3
	minimalFailures  = 5

	// Penalty floors enforced on entry to each tier.
	warningFloor  = 1.0
	criticalFloor = 3.0
)

// Tier is the per-scope health tier derived from consecutive failures.
type Tier int

const (
	// TierNormal indicates no recent failures.
	TierNormal Tier = iota

	// TierWarning indicates at least one recent failure (moderate cut).
	TierWarning

	// TierCritical indicates sustained failures (larger cut).
	TierCritical

	// TierMinimal indicates the scope is floored to minimum concurrency.
	TierMinimal
)

// String returns a human-readable name for a tier.
func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	case TierMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// Reason classifies what kind of failure is being reported.
// Different reasons contribute different penalty weights.
type Reason int

const (
	// ReasonCapacityExhausted is an internal capacity denial observed downstream.
	ReasonCapacityExhausted Reason = iota

	// ReasonTimeout is an operation timeout.
	ReasonTimeout

	// ReasonThrottled is an explicit provider throttling signal.
	ReasonThrottled
)

// Weight returns the additive penalty contribution for this reason.
func (r Reason) Weight() float64 {
	switch r {
	case ReasonCapacityExhausted:
		return 0.5
	case ReasonTimeout:
		return 0.75
	case ReasonThrottled:
		return 1.0
	default:
		return 0.5
	}
}

// scopeState tracks one coordination scope.
type scopeState struct {
	penalty             float64
	consecutiveFailures int
	lastRaisedAt        time.Time
	successSince        time.Time // zero while failures are ongoing
	lastDecayAt         time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecoveryWindow sets the uninterrupted-success duration after which
// penalty decays one step.
func WithRecoveryWindow(d time.Duration) Option {
	return func(c *Controller) { c.recoveryWindow = d }
}

// WithDecayFactor sets the multiplicative decay applied per recovery window.
func WithDecayFactor(f float64) Option {
	return func(c *Controller) { c.decayFactor = f }
}

// WithMaxPenalty caps the accumulated penalty.
func WithMaxPenalty(max float64) Option {
	return func(c *Controller) { c.maxPenalty = max }
}

// withClock overrides the time source. Used by tests.
func withClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller holds per-scope penalty state for the process lifetime.
// All methods are safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	scopes map[string]*scopeState
	bus    *event.Bus

	recoveryWindow time.Duration
	decayFactor    float64
	maxPenalty     float64
	now            func() time.Time
}

// NewController creates a Controller. The bus may be nil.
func NewController(bus *event.Bus, opts ...Option) *Controller {
	c := &Controller{
		scopes:         make(map[string]*scopeState),
		bus:            bus,
		recoveryWindow: defaultRecoveryWindow,
		decayFactor:    defaultDecayFactor,
		maxPenalty:     defaultMaxPenalty,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Raise reports a failure for the scope. The penalty grows additively by the
// reason's weight, with tier floors applied as consecutive failures mount:
// one failure enters Warning, three Critical, five Minimal (penalty pinned
// to the cap so the effective limit floors at minimum concurrency).
func (c *Controller) Raise(scopeKey string, reason Reason) {
	c.mu.Lock()
	s := c.scope(scopeKey)
	now := c.now()

	s.consecutiveFailures++
	s.successSince = time.Time{}
	s.lastRaisedAt = now
	s.lastDecayAt = time.Time{}

	s.penalty += reason.Weight()
	switch {
	case s.consecutiveFailures >= minimalFailures:
		s.penalty = c.maxPenalty
	case s.consecutiveFailures >= criticalFailures && s.penalty < criticalFloor:
		s.penalty = criticalFloor
	case s.consecutiveFailures >= warningFailures && s.penalty < warningFloor:
		s.penalty = warningFloor
	}
	if s.penalty > c.maxPenalty {
		s.penalty = c.maxPenalty
	}

	penalty := s.penalty
	tier := tierFor(s.consecutiveFailures)
	c.mu.Unlock()

	c.publish(event.NewPenaltyChangedEvent(scopeKey, penalty, tier.String()))
}

// Lower reports a success for the scope. Recovery is gradual: the penalty
// only starts decaying after a full recovery window of uninterrupted
// success, and then halves (by the configured factor) per further window
// rather than resetting instantly, preventing oscillation.
func (c *Controller) Lower(scopeKey string) {
	c.mu.Lock()
	s := c.scope(scopeKey)
	now := c.now()

	s.consecutiveFailures = 0
	if s.successSince.IsZero() {
		s.successSince = now
	}
	c.decayLocked(s, now)
	penalty := s.penalty
	c.mu.Unlock()

	if penalty == 0 {
		return
	}
	c.publish(event.NewPenaltyChangedEvent(scopeKey, penalty, TierNormal.String()))
}

// GetPenalty returns the current penalty for the scope, applying any decay
// earned by elapsed success time. Unknown scopes have penalty zero.
func (c *Controller) GetPenalty(scopeKey string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.scopes[scopeKey]
	if !ok {
		return 0
	}
	c.decayLocked(s, c.now())
	return s.penalty
}

// GetTier returns the scope's current tier from its consecutive failures.
func (c *Controller) GetTier(scopeKey string) Tier {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.scopes[scopeKey]
	if !ok {
		return TierNormal
	}
	return tierFor(s.consecutiveFailures)
}

// Scopes returns the keys of all scopes seen so far.
func (c *Controller) Scopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.scopes))
	for k := range c.scopes {
		keys = append(keys, k)
	}
	return keys
}

// scope returns (creating if needed) the state for a key. Caller holds mu.
func (c *Controller) scope(scopeKey string) *scopeState {
	s, ok := c.scopes[scopeKey]
	if !ok {
		s = &scopeState{}
		c.scopes[scopeKey] = s
	}
	return s
}

// decayLocked applies multiplicative decay for each full recovery window of
// uninterrupted success since the last decay step. Caller holds mu.
func (c *Controller) decayLocked(s *scopeState, now time.Time) {
	if s.penalty == 0 || s.successSince.IsZero() {
		return
	}

	from := s.successSince
	if !s.lastDecayAt.IsZero() && s.lastDecayAt.After(from) {
		from = s.lastDecayAt
	}

	for now.Sub(from) >= c.recoveryWindow {
		s.penalty *= c.decayFactor
		from = from.Add(c.recoveryWindow)
		s.lastDecayAt = from
	}
	if s.penalty < 0.05 {
		s.penalty = 0
	}
}

// tierFor maps consecutive failures to a tier.
func tierFor(consecutiveFailures int) Tier {
	switch {
	case consecutiveFailures >= minimalFailures:
		return TierMinimal
	case consecutiveFailures >= criticalFailures:
		return TierCritical
	case consecutiveFailures >= warningFailures:
		return TierWarning
	default:
		return TierNormal
	}
}

func (c *Controller) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
