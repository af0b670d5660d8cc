// Package state holds the per-process runtime usage counters behind a single
// serialization point. Every mutation of active-request and active-LLM counts
// goes through the Store so admission checks and grants are atomic relative
// to each other. One Store is constructed per process and passed by handle;
// there are no package-level singletons.
package state

import (
	"fmt"
	"sync"
)

// Limits are the effective concurrency limits in force for an admission
// check. They are computed by the caller (base limit adjusted by fair share
// and penalty) and passed in per check.
type Limits struct {
	MaxActiveRequests int
	MaxActiveLLM      int
}

// Snapshot is a read-only view of global usage, derived on demand.
type Snapshot struct {
	TotalActiveRequests int    `json:"total_active_requests"`
	TotalActiveLLM      int    `json:"total_active_llm"`
	PendingDepth        int    `json:"pending_depth"`
	Limits              Limits `json:"limits"`
}

// Store is the in-process holder of usage counters.
// All methods are safe for concurrent use.
type Store struct {
	mu             sync.Mutex
	activeRequests int
	activeLLM      int
	pendingDepth   int
	lastLimits     Limits // most recent limits seen by an admission check
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// TryAcquire atomically checks the given limits and, if n units fit under
// both, records them as active. On denial it returns the itemized
// human-readable reasons and leaves the counters untouched.
func (s *Store) TryAcquire(n int, limits Limits) (ok bool, reasons []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastLimits = limits

	if s.activeRequests+n > limits.MaxActiveRequests {
		reasons = append(reasons, fmt.Sprintf("active requests at limit %d/%d (requested %d)",
			s.activeRequests, limits.MaxActiveRequests, n))
	}
	if s.activeLLM+n > limits.MaxActiveLLM {
		reasons = append(reasons, fmt.Sprintf("active llm calls at limit %d/%d (requested %d)",
			s.activeLLM, limits.MaxActiveLLM, n))
	}
	if len(reasons) > 0 {
		return false, reasons
	}

	s.activeRequests += n
	s.activeLLM += n
	return true, nil
}

// Release returns n previously acquired units. Counters never go negative;
// over-release is clamped, which keeps a replayed release harmless.
func (s *Store) Release(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeRequests -= n
	if s.activeRequests < 0 {
		s.activeRequests = 0
	}
	s.activeLLM -= n
	if s.activeLLM < 0 {
		s.activeLLM = 0
	}
}

// FreeUnder reports how many units fit under the given limits right now.
// The answer is advisory: a later TryAcquire may still deny if usage moved.
func (s *Store) FreeUnder(limits Limits) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	freeReq := limits.MaxActiveRequests - s.activeRequests
	freeLLM := limits.MaxActiveLLM - s.activeLLM
	if freeLLM < freeReq {
		freeReq = freeLLM
	}
	if freeReq < 0 {
		return 0
	}
	return freeReq
}

// SetPendingDepth records the current queue depth for snapshots.
func (s *Store) SetPendingDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDepth = depth
}

// Snapshot derives a read-only view of current usage.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		TotalActiveRequests: s.activeRequests,
		TotalActiveLLM:      s.activeLLM,
		PendingDepth:        s.pendingDepth,
		Limits:              s.lastLimits,
	}
}
