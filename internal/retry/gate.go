package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Mekann2904/agentgate/internal/event"
	"github.com/Mekann2904/agentgate/internal/logging"
)

// gateRecord is the on-disk mirror of a scope's gate, shared with sibling
// processes through the runtime directory.
type gateRecord struct {
	ScopeKey  string    `json:"scope_key"`
	HitCount  int       `json:"hit_count"`
	GateUntil time.Time `json:"gate_until"`
	UpdatedAt time.Time `json:"updated_at"`
}

// gateState tracks one scope's throttling history in process.
type gateState struct {
	hits      int
	gateUntil time.Time
	lastHitAt time.Time
}

// GateOption configures a GateTable.
type GateOption func(*GateTable)

// WithGateDir enables the file mirror: gate state is written to (and merged
// from) gate-<scope>.json files under dir, so a throttling signal seen by one
// process holds back its siblings too.
func WithGateDir(dir string) GateOption {
	return func(g *GateTable) { g.dir = dir }
}

// WithGateLogger sets the logger. Defaults to a no-op logger.
func WithGateLogger(logger *logging.Logger) GateOption {
	return func(g *GateTable) { g.logger = logger }
}

// withGateClock overrides the time source. Used by tests.
func withGateClock(now func() time.Time) GateOption {
	return func(g *GateTable) { g.now = now }
}

// GateTable holds one shared rate-limit gate per coordination scope. A
// throttling hit opens the gate for base × 2^(hits-1), capped; every caller
// for that scope waits behind the same gate instead of retrying
// independently. Hits decay after a hit-free reset window.
type GateTable struct {
	mu    sync.Mutex
	gates map[string]*gateState

	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	dir        string
	bus        *event.Bus
	logger     *logging.Logger
	now        func() time.Time
}

// NewGateTable creates a GateTable. The bus may be nil.
func NewGateTable(baseDelay, maxDelay, resetAfter time.Duration, bus *event.Bus, opts ...GateOption) *GateTable {
	g := &GateTable{
		gates:      make(map[string]*gateState),
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		resetAfter: resetAfter,
		bus:        bus,
		logger:     logging.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Hit records a throttling signal for the scope and returns when the gate
// closes. The deadline never moves backward: a weaker signal cannot shorten
// a gate already opened by a stronger one.
func (g *GateTable) Hit(scopeKey string) time.Time {
	g.mu.Lock()
	s := g.scope(scopeKey)
	now := g.now()

	if !s.lastHitAt.IsZero() && now.Sub(s.lastHitAt) > g.resetAfter {
		s.hits = 0
	}
	s.hits++
	s.lastHitAt = now

	delay := g.baseDelay << (s.hits - 1)
	if delay > g.maxDelay || delay <= 0 {
		delay = g.maxDelay
	}
	until := now.Add(delay)
	if until.After(s.gateUntil) {
		s.gateUntil = until
	}
	hits := s.hits
	gateUntil := s.gateUntil
	g.mu.Unlock()

	g.logger.Warn("rate-limit gate opened",
		"scope", scopeKey, "hits", hits, "gate_until", gateUntil)
	if g.bus != nil {
		g.bus.Publish(event.NewGateOpenedEvent(scopeKey, hits, gateUntil))
	}
	g.mirror(scopeKey, hits, gateUntil)
	return gateUntil
}

// GateUntil returns when the scope's gate closes (zero time if open now).
// With the file mirror enabled, a later deadline written by a sibling
// process is merged in.
func (g *GateTable) GateUntil(scopeKey string) time.Time {
	shared := g.readMirror(scopeKey)

	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.scope(scopeKey)
	if shared != nil && shared.GateUntil.After(s.gateUntil) {
		s.gateUntil = shared.GateUntil
		if shared.HitCount > s.hits {
			s.hits = shared.HitCount
			s.lastHitAt = shared.UpdatedAt
		}
	}
	if g.now().After(s.gateUntil) {
		return time.Time{}
	}
	return s.gateUntil
}

// Wait blocks until the scope's gate closes or ctx is done. Returns
// ctx.Err() on abort, nil once the gate is clear.
func (g *GateTable) Wait(ctx context.Context, scopeKey string) error {
	for {
		until := g.GateUntil(scopeKey)
		if until.IsZero() {
			return nil
		}
		d := until.Sub(g.now())
		if d <= 0 {
			return nil
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: the gate may have been extended while sleeping.
		}
	}
}

// Scopes returns the keys of all scopes with gate history.
func (g *GateTable) Scopes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.gates))
	for k := range g.gates {
		keys = append(keys, k)
	}
	return keys
}

// scope returns (creating if needed) the state for a key. Caller holds mu.
func (g *GateTable) scope(scopeKey string) *gateState {
	s, ok := g.gates[scopeKey]
	if !ok {
		s = &gateState{}
		g.gates[scopeKey] = s
	}
	return s
}

// mirror writes the gate record to disk via temp-file-and-rename so sibling
// processes never observe a partial write. Mirror failures are logged and
// otherwise ignored: the in-process gate still holds.
func (g *GateTable) mirror(scopeKey string, hits int, gateUntil time.Time) {
	if g.dir == "" {
		return
	}

	rec := gateRecord{
		ScopeKey:  scopeKey,
		HitCount:  hits,
		GateUntil: gateUntil,
		UpdatedAt: g.now(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		g.logger.Warn("gate mirror marshal failed", "scope", scopeKey, "error", err)
		return
	}

	path := g.mirrorPath(scopeKey)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		g.logger.Warn("gate mirror write failed", "scope", scopeKey, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		g.logger.Warn("gate mirror rename failed", "scope", scopeKey, "error", err)
	}
}

// readMirror loads a sibling's gate record, or nil when the mirror is
// disabled, absent, or unreadable.
func (g *GateTable) readMirror(scopeKey string) *gateRecord {
	if g.dir == "" {
		return nil
	}
	data, err := os.ReadFile(g.mirrorPath(scopeKey))
	if err != nil {
		return nil
	}
	var rec gateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

func (g *GateTable) mirrorPath(scopeKey string) string {
	return filepath.Join(g.dir, fmt.Sprintf("gate-%s.json", sanitizeScope(scopeKey)))
}

// sanitizeScope makes a scope key safe for use in a file name.
func sanitizeScope(scopeKey string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		default:
			return '_'
		}
	}, scopeKey)
}
