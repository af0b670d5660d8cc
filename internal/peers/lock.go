package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Mekann2904/agentgate/internal/errors"
)

const lockPrefix = "lock-"

// LockRecord is the owner metadata stored inside a lock file.
type LockRecord struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock is a cross-process advisory lock backed by exclusive file
// creation. O_CREATE|O_EXCL makes acquisition a single atomic syscall, so
// there is no window between checking and taking the lock. The lock file
// holds owner metadata for debugging and stale reclaim.
type FileLock struct {
	dir        string
	name       string
	owner      string
	staleAfter time.Duration
	held       bool
	now        func() time.Time
}

// NewFileLock creates a lock named name under dir, owned by owner (typically
// the instance id). Locks older than staleAfter are treated as abandoned by
// a crashed holder and reclaimed; zero disables reclaim.
func NewFileLock(dir, name, owner string, staleAfter time.Duration) *FileLock {
	return &FileLock{
		dir:        dir,
		name:       name,
		owner:      owner,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// TryAcquire attempts to take the lock without blocking.
// Returns ErrLockBusy when another holder has it.
func (l *FileLock) TryAcquire() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("creating lock file: %w", err)
		}
		if l.reclaimStale() {
			return l.TryAcquire()
		}
		return errors.NewLockError(l.name, errors.ErrLockBusy)
	}
	defer f.Close()

	rec := LockRecord{Owner: l.owner, PID: os.Getpid(), AcquiredAt: l.now()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		os.Remove(l.path())
		return fmt.Errorf("marshaling lock record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(l.path())
		return fmt.Errorf("writing lock record: %w", err)
	}

	l.held = true
	return nil
}

// Acquire polls for the lock until it succeeds, timeout elapses
// (ErrLockTimeout), or ctx is done.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := l.now().Add(timeout)
	for {
		err := l.TryAcquire()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.ErrLockBusy) {
			return err
		}
		if l.now().After(deadline) {
			return errors.NewLockError(l.name, errors.ErrLockTimeout)
		}

		timer := time.NewTimer(20 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Release removes the lock file. Only the owner may release; releasing a
// lock held by someone else (or not held at all) returns ErrNotLockOwner.
func (l *FileLock) Release() error {
	rec, err := l.read()
	if err != nil {
		return errors.NewLockError(l.name, errors.ErrNotLockOwner)
	}
	if rec.Owner != l.owner {
		return errors.NewLockError(l.name, errors.ErrNotLockOwner)
	}

	if err := os.Remove(l.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	l.held = false
	return nil
}

// Held reports whether this lock object believes it holds the lock.
func (l *FileLock) Held() bool {
	return l.held
}

// Holder returns the current owner metadata, or nil when the lock is free.
func (l *FileLock) Holder() *LockRecord {
	rec, err := l.read()
	if err != nil {
		return nil
	}
	return rec
}

// reclaimStale removes the lock file if its record is older than staleAfter.
// Returns true when a retry is worthwhile.
func (l *FileLock) reclaimStale() bool {
	if l.staleAfter <= 0 {
		return false
	}
	rec, err := l.read()
	if err != nil {
		// Unreadable lock file: the creator may be mid-write; do not reclaim.
		return false
	}
	if l.now().Sub(rec.AcquiredAt) <= l.staleAfter {
		return false
	}
	// Remove may race with another reclaimer; either way a retry is safe
	// because acquisition itself is atomic.
	os.Remove(l.path())
	return true
}

func (l *FileLock) read() (*LockRecord, error) {
	data, err := os.ReadFile(l.path())
	if err != nil {
		return nil, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *FileLock) path() string {
	return filepath.Join(l.dir, lockPrefix+l.name+".json")
}
