// Package turnqueue orders pending admission requests across three priority
// classes. Higher classes drain first; within a class dispatch is FIFO except
// that an entry whose requested count does not fit the free capacity is
// skipped in favor of the first one that does ("first-fit within band").
// Entries waiting past the starvation threshold are promoted one class per
// scan, bounding maximum wait under continuous higher-priority arrivals.
package turnqueue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mekann2904/agentgate/internal/errors"
	"github.com/Mekann2904/agentgate/internal/event"
)

// Queue manages pending admission entries.
// All methods are safe for concurrent use via an internal mutex.
type Queue struct {
	mu                  sync.Mutex
	classes             [numClasses][]*Entry
	byToken             map[string]*Entry
	depth               int
	maxDepth            int
	starvationThreshold time.Duration
	bus                 *event.Bus
}

// New creates a Queue with the given bounded depth and starvation threshold.
// The bus may be nil, in which case no events are published.
func New(maxDepth int, starvationThreshold time.Duration, bus *event.Bus) *Queue {
	return &Queue{
		byToken:             make(map[string]*Entry),
		maxDepth:            maxDepth,
		starvationThreshold: starvationThreshold,
		bus:                 bus,
	}
}

// Enqueue adds a pending admission request and returns its entry.
// Returns ErrQueueFull when the bounded depth is reached.
func (q *Queue) Enqueue(toolName string, class Class, plannedCount int) (*Entry, error) {
	if plannedCount < 1 {
		return nil, fmt.Errorf("%w: planned count must be at least 1", errors.ErrInvalidInput)
	}
	if class < ClassInteractive || class >= numClasses {
		return nil, fmt.Errorf("%w: unknown priority class %d", errors.ErrInvalidInput, class)
	}

	q.mu.Lock()
	if q.depth >= q.maxDepth {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %d entries pending (max %d)", errors.ErrQueueFull, q.depth, q.maxDepth)
	}

	entry := &Entry{
		Token:        uuid.NewString(),
		ToolName:     toolName,
		Class:        class,
		CurrentClass: class,
		PlannedCount: plannedCount,
		EnqueuedAt:   time.Now(),
	}
	q.classes[class] = append(q.classes[class], entry)
	q.byToken[entry.Token] = entry
	q.depth++
	depth := q.depth
	q.mu.Unlock()

	q.publish(event.NewTurnEnqueuedEvent(entry.Token, toolName, class.String(), plannedCount, depth))
	q.publish(event.NewQueueDepthEvent(depth))
	return entry, nil
}

// Remove deletes a pending entry by token in O(1). The entry's slot in its
// class slice is lazily compacted by the next scan.
// Returns ErrEntryNotFound if the token is unknown or already dispatched.
func (q *Queue) Remove(token string) error {
	q.mu.Lock()
	entry, ok := q.byToken[token]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrEntryNotFound, token)
	}
	entry.removed = true
	delete(q.byToken, token)
	q.depth--
	depth := q.depth
	q.mu.Unlock()

	q.publish(event.NewQueueDepthEvent(depth))
	return nil
}

// DequeueNextDispatchable scans classes in priority order and returns the
// first entry whose planned count fits within free units, removing it from
// the queue. Returns nil when nothing fits (or the queue is empty).
func (q *Queue) DequeueNextDispatchable(free int) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	for class := ClassInteractive; class < numClasses; class++ {
		entries := q.classes[class]
		kept := entries[:0]
		var picked *Entry
		for i, entry := range entries {
			if entry.removed {
				continue // compact lazily-deleted entries
			}
			if picked == nil && entry.PlannedCount <= free {
				picked = entry
				continue
			}
			kept = append(kept, entries[i])
		}
		q.classes[class] = kept

		if picked != nil {
			delete(q.byToken, picked.Token)
			q.depth--
			return picked
		}
		// A non-empty higher class with nothing dispatchable does not block
		// lower classes: first-fit applies across the whole scan order.
	}
	return nil
}

// Requeue reinserts an entry whose dispatch failed (capacity raced away).
// The entry keeps its token, enqueue time, and promoted class, so its
// position and starvation clock are preserved.
func (q *Queue) Requeue(entry *Entry) {
	q.mu.Lock()
	entry.removed = false
	q.classes[entry.CurrentClass] = append(q.classes[entry.CurrentClass], entry)
	sortByArrival(q.classes[entry.CurrentClass])
	q.byToken[entry.Token] = entry
	q.depth++
	depth := q.depth
	q.mu.Unlock()

	q.publish(event.NewQueueDepthEvent(depth))
}

// PromoteStarving promotes every entry waiting longer than the starvation
// threshold one class up. Called on every scan, so a starving entry climbs
// to interactive and then to the head of the scan order, bounding its wait.
// Returns the number of promotions performed.
func (q *Queue) PromoteStarving(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	promoted := 0
	for class := ClassStandard; class < numClasses; class++ {
		entries := q.classes[class]
		kept := entries[:0]
		for i, entry := range entries {
			if entry.removed {
				continue
			}
			if now.Sub(entry.EnqueuedAt) >= q.starvationThreshold {
				entry.CurrentClass = class - 1
				entry.Promotions++
				q.classes[class-1] = append(q.classes[class-1], entry)
				promoted++
				continue
			}
			kept = append(kept, entries[i])
		}
		q.classes[class] = kept
	}

	if promoted > 0 {
		// Promoted entries are older than natural arrivals in their new
		// class; ordering by arrival keeps dispatch FIFO-consistent.
		for class := ClassInteractive; class < numClasses-1; class++ {
			sortByArrival(q.classes[class])
		}
	}
	return promoted
}

// Depth returns the current number of pending entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Pending returns a snapshot of pending entries in scan order.
func (q *Queue) Pending() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Entry
	for class := ClassInteractive; class < numClasses; class++ {
		for _, entry := range q.classes[class] {
			if entry.removed {
				continue
			}
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out
}

// sortByArrival orders entries by enqueue time, oldest first.
// Stable so equal timestamps keep insertion order.
func sortByArrival(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
}

func (q *Queue) publish(e event.Event) {
	if q.bus != nil {
		q.bus.Publish(e)
	}
}
