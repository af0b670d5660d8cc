package retry

import (
	"context"
	"net"

	"github.com/Mekann2904/agentgate/internal/errors"
)

// Class is the retry-relevant classification of an attempt error.
type Class int

const (
	// ClassNonRetryable means the failure is permanent; retrying cannot help.
	ClassNonRetryable Class = iota

	// ClassRetryable means the failure is transient; retry with backoff.
	ClassRetryable

	// ClassRateLimited means the provider throttled the call; retry against
	// the shared gate with the separate rate-limit budget.
	ClassRateLimited
)

// String returns a human-readable name for a class.
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "non_retryable"
	}
}

// Classifier maps an attempt error to its retry class.
type Classifier func(error) Class

// DefaultClassifier classifies by the package's error sentinels plus the
// usual transport signals. Cancellation is never retried; an unrecognized
// error is treated as permanent so unknown failures fail fast instead of
// burning the retry budget.
func DefaultClassifier(err error) Class {
	switch {
	case err == nil:
		return ClassNonRetryable
	case errors.Is(err, context.Canceled):
		return ClassNonRetryable
	case errors.Is(err, errors.ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, errors.ErrNonRetryable):
		return ClassNonRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return ClassRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetryable
	}
	if errors.IsRetryable(err) {
		return ClassRetryable
	}
	return ClassNonRetryable
}
