// Package errors provides centralized error definitions and error handling
// utilities for agentgate. It defines domain-specific errors for admission
// control, semantic error types with context wrapping, and classification
// helpers used by the retry executor.
//
// # Error Types
//
// Domain-specific errors cover the admission subsystems:
//   - CapacityError: a reservation was denied, with itemized reasons
//   - QueueError: a queue wait ended without a dispatch
//   - LeaseError: a lease operation failed (expired, unknown, over-consumed)
//   - RetryExhaustedError: the retry budget ran out before success
//   - LockError: a cross-instance lock could not be acquired
//
// # Usage
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrQueueFull) { ... }
//
//	var capErr *errors.CapacityError
//	if errors.As(err, &capErr) {
//	    for _, r := range capErr.Reasons { ... }
//	}
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience, so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Queue-related sentinel errors
var (
	// ErrQueueFull indicates the pending queue is at its configured depth.
	ErrQueueFull = New("queue is full")
	// ErrQueueTimeout indicates a queue wait exceeded its deadline.
	ErrQueueTimeout = New("queue wait timed out")
	// ErrQueueAborted indicates a queue wait was canceled by the caller.
	ErrQueueAborted = New("queue wait aborted")
	// ErrEntryNotFound indicates a queue token does not match a pending entry.
	ErrEntryNotFound = New("queue entry not found")
)

// Capacity and lease sentinel errors
var (
	// ErrCapacityDenied indicates the effective limit was reached at reserve time.
	ErrCapacityDenied = New("capacity denied")
	// ErrLeaseNotFound indicates the lease id is unknown.
	ErrLeaseNotFound = New("lease not found")
	// ErrLeaseExpired indicates a lease missed its heartbeat and was reclaimed.
	ErrLeaseExpired = New("lease expired")
	// ErrOverConsume indicates a consume call exceeded the lease's planned count.
	ErrOverConsume = New("consumed count exceeds planned count")
)

// Retry and throttling sentinel errors
var (
	// ErrRateLimited indicates an explicit provider throttling signal.
	ErrRateLimited = New("rate limited by provider")
	// ErrNonRetryable indicates a permanent failure that must not be retried.
	ErrNonRetryable = New("non-retryable error")
)

// Cross-instance coordination sentinel errors
var (
	// ErrLockBusy indicates a named lock is held by another instance.
	ErrLockBusy = New("lock held by another instance")
	// ErrLockTimeout indicates lock acquisition exceeded its bounded wait.
	ErrLockTimeout = New("lock acquisition timed out")
	// ErrNotLockOwner indicates a release attempt by a non-owning instance.
	ErrNotLockOwner = New("instance does not own this lock")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for the semantic error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

// Severity returns the severity level of this error.
func (e *baseError) Severity() Severity { return e.severity }

// IsRetryable reports whether the operation may succeed on retry.
func (e *baseError) IsRetryable() bool { return e.retryable }

// -----------------------------------------------------------------------------
// CapacityError
// -----------------------------------------------------------------------------

// CapacityError is returned when a reservation is denied. Reasons itemize
// every limit that blocked the grant, in human-readable form
// (e.g. "active requests at limit 8/8").
type CapacityError struct {
	baseError
	ScopeKey string
	Reasons  []string
}

// NewCapacityError creates a CapacityError for the given scope with itemized reasons.
func NewCapacityError(scopeKey string, reasons ...string) *CapacityError {
	return &CapacityError{
		baseError: baseError{
			message:   fmt.Sprintf("capacity denied for scope %q", scopeKey),
			cause:     ErrCapacityDenied,
			severity:  SeverityInfo,
			retryable: true,
		},
		ScopeKey: scopeKey,
		Reasons:  reasons,
	}
}

func (e *CapacityError) Error() string {
	if len(e.Reasons) == 0 {
		return e.baseError.Error()
	}
	return fmt.Sprintf("%s: %s", e.baseError.Error(), strings.Join(e.Reasons, "; "))
}

// Is reports whether this error matches ErrCapacityDenied.
func (e *CapacityError) Is(target error) bool { return target == ErrCapacityDenied }

// -----------------------------------------------------------------------------
// QueueError
// -----------------------------------------------------------------------------

// QueueError wraps a queue sentinel with the tool name for actionable messages.
type QueueError struct {
	baseError
	ToolName string
}

// NewQueueError creates a QueueError wrapping one of the queue sentinels.
func NewQueueError(toolName string, cause error) *QueueError {
	return &QueueError{
		baseError: baseError{
			message:   fmt.Sprintf("admission wait failed for %q", toolName),
			cause:     cause,
			severity:  SeverityWarning,
			retryable: !errors.Is(cause, ErrQueueAborted),
		},
		ToolName: toolName,
	}
}

// -----------------------------------------------------------------------------
// LeaseError
// -----------------------------------------------------------------------------

// LeaseError wraps lease lifecycle failures with the lease id.
type LeaseError struct {
	baseError
	LeaseID string
}

// NewLeaseError creates a LeaseError for the given lease id.
func NewLeaseError(leaseID string, cause error) *LeaseError {
	return &LeaseError{
		baseError: baseError{
			message:   fmt.Sprintf("lease %s", leaseID),
			cause:     cause,
			severity:  SeverityWarning,
			retryable: errors.Is(cause, ErrLeaseExpired),
		},
		LeaseID: leaseID,
	}
}

// -----------------------------------------------------------------------------
// RetryExhaustedError
// -----------------------------------------------------------------------------

// RetryExhaustedError is returned by the retry executor when the retry
// budget runs out. It carries the attempt count and the last failure.
type RetryExhaustedError struct {
	baseError
	Attempts    int
	RateLimited bool
}

// NewRetryExhaustedError creates a RetryExhaustedError after the given
// number of attempts. rateLimited marks exhaustion of the separate
// rate-limit budget rather than the transient-error budget.
func NewRetryExhaustedError(attempts int, rateLimited bool, lastErr error) *RetryExhaustedError {
	kind := "transient"
	if rateLimited {
		kind = "rate-limit"
	}
	return &RetryExhaustedError{
		baseError: baseError{
			message:   fmt.Sprintf("%s retry budget exhausted after %d attempts", kind, attempts),
			cause:     lastErr,
			severity:  SeverityError,
			retryable: false,
		},
		Attempts:    attempts,
		RateLimited: rateLimited,
	}
}

// -----------------------------------------------------------------------------
// LockError
// -----------------------------------------------------------------------------

// LockError wraps cross-instance lock failures with the lock name.
type LockError struct {
	baseError
	Name string
}

// NewLockError creates a LockError for the named lock.
func NewLockError(name string, cause error) *LockError {
	return &LockError{
		baseError: baseError{
			message:   fmt.Sprintf("lock %q", name),
			cause:     cause,
			severity:  SeverityInfo,
			retryable: true,
		},
		Name: name,
	}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// retryableAware is implemented by error types that know their own retryability.
type retryableAware interface {
	IsRetryable() bool
}

// IsRetryable reports whether the error is transient and the operation may
// succeed on retry. Semantic types answer for themselves before their wrapped
// cause is consulted, so an exhausted retry budget stays final even when the
// last failure it wraps was a retryable throttle. Bare sentinels are
// classified directly; unknown errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ra retryableAware
	if errors.As(err, &ra) {
		return ra.IsRetryable()
	}

	switch {
	case errors.Is(err, ErrNonRetryable),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrQueueAborted):
		return false
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrCapacityDenied),
		errors.Is(err, ErrQueueFull),
		errors.Is(err, ErrQueueTimeout),
		errors.Is(err, ErrLeaseExpired),
		errors.Is(err, ErrLockBusy),
		errors.Is(err, ErrLockTimeout):
		return true
	}
	return false
}

// severityAware is implemented by error types that carry a severity.
type severityAware interface {
	Severity() Severity
}

// SeverityOf returns the severity of the error, defaulting to SeverityError
// for errors that don't carry one.
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var sa severityAware
	if errors.As(err, &sa) {
		return sa.Severity()
	}
	return SeverityError
}
