package turnqueue

import (
	"time"
)

// Class is an admission priority class. Lower values are higher priority.
type Class int

const (
	// ClassInteractive is for user-facing work that should not wait.
	ClassInteractive Class = iota

	// ClassStandard is the default class for delegated agent tasks.
	ClassStandard

	// ClassBatch is for background work that tolerates delay.
	ClassBatch

	numClasses
)

// String returns a human-readable name for a priority class.
func (c Class) String() string {
	switch c {
	case ClassInteractive:
		return "interactive"
	case ClassStandard:
		return "standard"
	case ClassBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ParseClass converts a class name to a Class.
// Unrecognized names map to ClassStandard.
func ParseClass(name string) Class {
	switch name {
	case "interactive":
		return ClassInteractive
	case "batch":
		return ClassBatch
	default:
		return ClassStandard
	}
}

// Entry is a pending admission request owned by the Queue.
type Entry struct {
	Token        string    // Unique handle for removal and waiter lookup
	ToolName     string    // Tool requesting admission
	Class        Class     // Class at enqueue time
	CurrentClass Class     // Class after starvation promotion
	PlannedCount int       // Concurrent units requested
	EnqueuedAt   time.Time // Arrival time; preserved across promotion
	Promotions   int       // Number of starvation promotions received

	// removed marks a lazily-deleted entry still present in its class slice.
	removed bool
}

// Waited returns how long the entry has been queued as of now.
func (e *Entry) Waited(now time.Time) time.Duration {
	return now.Sub(e.EnqueuedAt)
}
