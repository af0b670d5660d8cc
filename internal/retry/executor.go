package retry

import (
	"context"
	"time"

	"github.com/Mekann2904/agentgate/internal/errors"
	"github.com/Mekann2904/agentgate/internal/logging"
)

// Operation is one attempt of the protected call.
type Operation func(ctx context.Context) error

// Reporter receives the outcome of every attempt, keyed by scope. The
// admission layer wires this to the penalty controller; a nil reporter is a
// no-op.
type Reporter func(scopeKey string, err error)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClassifier overrides the error classifier.
func WithClassifier(c Classifier) ExecutorOption {
	return func(e *Executor) { e.classify = c }
}

// WithReporter sets the per-attempt outcome reporter.
func WithReporter(r Reporter) ExecutorOption {
	return func(e *Executor) { e.report = r }
}

// WithExecutorLogger sets the logger. Defaults to a no-op logger.
func WithExecutorLogger(logger *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// withSleep overrides the backoff sleep. Used by tests.
func withSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// Executor runs operations under two independent retry budgets: transient
// failures retry with exponential backoff up to maxRetries; throttling
// retries wait behind the scope's shared gate up to rateLimitMaxRetries, with
// a cap on total gate wait. The budgets are separate so a long rate-limit
// episode does not eat the transient budget and vice versa.
type Executor struct {
	backoff             Backoff
	maxRetries          int
	rateLimitMaxRetries int
	rateLimitMaxWait    time.Duration
	gates               *GateTable

	classify Classifier
	report   Reporter
	logger   *logging.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor. gates must not be nil.
func NewExecutor(backoff Backoff, maxRetries, rateLimitMaxRetries int, rateLimitMaxWait time.Duration, gates *GateTable, opts ...ExecutorOption) *Executor {
	e := &Executor{
		backoff:             backoff,
		maxRetries:          maxRetries,
		rateLimitMaxRetries: rateLimitMaxRetries,
		rateLimitMaxWait:    rateLimitMaxWait,
		gates:               gates,
		classify:            DefaultClassifier,
		logger:              logging.NopLogger(),
		now:                 time.Now,
		sleep:               sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes op until it succeeds, a budget runs out, the error is
// permanent, or ctx is done. Every attempt first waits out the scope's
// shared gate, so a throttle observed by any caller (or sibling process)
// delays this one too.
func (e *Executor) Run(ctx context.Context, scopeKey string, op Operation) error {
	transientTries := 0
	rateLimitTries := 0
	var rateLimitWaited time.Duration

	for {
		if err := e.gates.Wait(ctx, scopeKey); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if e.report != nil {
			e.report(scopeKey, err)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The attempt failed because the caller gave up; surface the
			// abort rather than the attempt's error.
			return ctx.Err()
		}

		switch e.classify(err) {
		case ClassRateLimited:
			rateLimitTries++
			if rateLimitTries > e.rateLimitMaxRetries {
				return errors.NewRetryExhaustedError(rateLimitTries, true, err)
			}
			gateUntil := e.gates.Hit(scopeKey)
			wait := gateUntil.Sub(e.now())
			if wait > 0 {
				if rateLimitWaited+wait > e.rateLimitMaxWait {
					return errors.NewRetryExhaustedError(rateLimitTries, true, err)
				}
				rateLimitWaited += wait
			}
			e.logger.Info("throttled, waiting on gate",
				"scope", scopeKey, "attempt", rateLimitTries, "gate_until", gateUntil)

		case ClassRetryable:
			transientTries++
			if transientTries > e.maxRetries {
				return errors.NewRetryExhaustedError(transientTries, false, err)
			}
			delay := e.backoff.Delay(transientTries)
			e.logger.Debug("transient failure, backing off",
				"scope", scopeKey, "attempt", transientTries, "delay", delay, "error", err)
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}

		default:
			return err
		}
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
