// Package peers coordinates sibling agentgate processes through a shared
// runtime directory: presence records with heartbeats, advisory file locks,
// and fair-share division of the global concurrency budget. All coordination
// is advisory and crash-safe; a dead peer's artifacts are reclaimed by age,
// never by cooperation.
package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mekann2904/agentgate/internal/event"
	"github.com/Mekann2904/agentgate/internal/logging"
)

const recordPrefix = "instance-"

// Record is one process's presence entry in the runtime directory.
type Record struct {
	InstanceID      string    `json:"instance_id"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	PendingCount    int       `json:"pending_count"`
}

// Stale reports whether the record's heartbeat is older than staleAfter.
func (r Record) Stale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(r.LastHeartbeatAt) > staleAfter
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger. Defaults to a no-op logger.
func WithRegistryLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithInstanceID overrides the generated instance id. Used by tests and by
// operators who want stable ids across restarts.
func WithInstanceID(id string) RegistryOption {
	return func(r *Registry) { r.self.InstanceID = id }
}

// WithFairShareMode selects equal or weighted division of the budget.
func WithFairShareMode(mode FairShareMode) RegistryOption {
	return func(r *Registry) { r.mode = mode }
}

// WithLockTimeout bounds how long a registry-wide mutation waits for the
// registry lock before deferring to the holder.
func WithLockTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.lockTimeout = d }
}

// withRegistryClock overrides the time source. Used by tests.
func withRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry maintains this process's presence record and scans for siblings.
// All methods are safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	self Record

	dir            string
	heartbeatEvery time.Duration
	staleAfter     time.Duration
	lockTimeout    time.Duration
	mode           FairShareMode
	bus            *event.Bus
	logger         *logging.Logger
	now            func() time.Time
}

// NewRegistry creates a Registry rooted at dir. The bus may be nil.
func NewRegistry(dir string, heartbeatEvery, staleAfter time.Duration, bus *event.Bus, opts ...RegistryOption) *Registry {
	r := &Registry{
		self: Record{
			InstanceID: uuid.NewString(),
			PID:        os.Getpid(),
		},
		dir:            dir,
		heartbeatEvery: heartbeatEvery,
		staleAfter:     staleAfter,
		lockTimeout:    2 * time.Second,
		mode:           FairShareWeighted,
		bus:            bus,
		logger:         logging.NopLogger(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InstanceID returns this process's identifier.
func (r *Registry) InstanceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self.InstanceID
}

// Register writes this process's presence record. Call once at startup.
func (r *Registry) Register() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}

	r.mu.Lock()
	now := r.now()
	r.self.StartedAt = now
	r.self.LastHeartbeatAt = now
	rec := r.self
	r.mu.Unlock()

	return r.writeRecord(rec)
}

// Heartbeat refreshes this process's record timestamp.
func (r *Registry) Heartbeat() error {
	r.mu.Lock()
	r.self.LastHeartbeatAt = r.now()
	rec := r.self
	r.mu.Unlock()

	return r.writeRecord(rec)
}

// SetPendingCount publishes this process's queued workload, the input to
// weighted fair share. The new value rides out on the next heartbeat.
func (r *Registry) SetPendingCount(n int) {
	r.mu.Lock()
	r.self.PendingCount = n
	r.mu.Unlock()
}

// Deregister removes this process's record. Call on shutdown.
func (r *Registry) Deregister() error {
	r.mu.Lock()
	id := r.self.InstanceID
	r.mu.Unlock()

	if err := os.Remove(r.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing presence record: %w", err)
	}
	return nil
}

// Start runs the heartbeat loop until ctx is cancelled, then deregisters.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.Deregister(); err != nil {
				r.logger.Warn("deregister failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := r.Heartbeat(); err != nil {
				r.logger.Warn("heartbeat write failed", "error", err)
			}
		}
	}
}

// List scans the runtime directory and returns all live peer records,
// including this process's own. Stale records are reaped (file removed, event
// published); unreadable files are skipped, not fatal: a sibling may be
// mid-write or mid-delete.
func (r *Registry) List() ([]Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning runtime dir: %w", err)
	}

	now := r.now()
	var records []Record
	var stale []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.Debug("skipping unreadable peer record", "file", name, "error", err)
			continue
		}

		if rec.Stale(now, r.staleAfter) {
			stale = append(stale, rec)
			continue
		}

		records = append(records, rec)
		if r.bus != nil && rec.InstanceID != r.InstanceID() {
			r.bus.Publish(event.NewPeerSeenEvent(rec.InstanceID, rec.PendingCount))
		}
	}
	if len(stale) > 0 {
		r.reapAll(stale)
	}
	return records, nil
}

// LiveCount returns the number of live peers (self included, minimum 1).
func (r *Registry) LiveCount() int {
	records, err := r.List()
	if err != nil || len(records) == 0 {
		return 1
	}
	return len(records)
}

// FairShare returns this instance's share of the base limit given current
// peers. With no reachable registry it falls back to the full base: solo
// operation must not be throttled by coordination failures.
func (r *Registry) FairShare(base int) int {
	records, err := r.List()
	if err != nil || len(records) <= 1 {
		return base
	}

	r.mu.Lock()
	selfID := r.self.InstanceID
	selfPending := r.self.PendingCount
	r.mu.Unlock()

	if r.mode == FairShareEqual {
		return EqualShare(base, len(records))
	}

	peerPendings := make([]int, 0, len(records)-1)
	for _, rec := range records {
		if rec.InstanceID == selfID {
			selfPending = rec.PendingCount
			continue
		}
		peerPendings = append(peerPendings, rec.PendingCount)
	}
	return WeightedShare(base, selfPending, peerPendings)
}

// reapAll removes stale records under the registry-wide lock so concurrent
// instances do not race each other's removals. When the lock is not acquired
// within the configured timeout a sibling is already reaping; the stale
// records are left for the next scan. A reaper that crashes mid-hold is
// itself reclaimed by the lock's stale age.
func (r *Registry) reapAll(stale []Record) {
	lock := NewFileLock(r.dir, "registry", r.InstanceID(), r.staleAfter)
	if err := lock.Acquire(context.Background(), r.lockTimeout); err != nil {
		r.logger.Debug("registry lock busy, deferring stale reap", "error", err)
		return
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.logger.Warn("releasing registry lock failed", "error", err)
		}
	}()

	for _, rec := range stale {
		r.reap(rec)
	}
}

// reap removes a stale record and announces it.
func (r *Registry) reap(rec Record) {
	if err := os.Remove(r.recordPath(rec.InstanceID)); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("reaping stale peer failed", "instance", rec.InstanceID, "error", err)
		return
	}
	r.logger.Info("reaped stale peer",
		"instance", rec.InstanceID, "last_heartbeat", rec.LastHeartbeatAt)
	if r.bus != nil {
		r.bus.Publish(event.NewPeerReapedEvent(rec.InstanceID, rec.LastHeartbeatAt))
	}
}

// writeRecord persists a record via temp-file-and-rename so readers never
// observe a partial write.
func (r *Registry) writeRecord(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling presence record: %w", err)
	}

	path := r.recordPath(rec.InstanceID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing presence record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing presence record: %w", err)
	}
	return nil
}

func (r *Registry) recordPath(instanceID string) string {
	return filepath.Join(r.dir, recordPrefix+instanceID+".json")
}
