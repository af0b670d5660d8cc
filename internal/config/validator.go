package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "limits.max_active_requests")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidJitterModes returns the list of valid backoff jitter modes
func ValidJitterModes() []string {
	return []string{"full", "partial", "none"}
}

// ValidFairShareModes returns the list of valid fair-share split modes
func ValidFairShareModes() []string {
	return []string{"equal", "weighted"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLimits()...)
	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validateLease()...)
	errors = append(errors, c.validatePenalty()...)
	errors = append(errors, c.validateBackoff()...)
	errors = append(errors, c.validateGate()...)
	errors = append(errors, c.validateCoordination()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateLimits validates the LimitsConfig
func (c *Config) validateLimits() []ValidationError {
	var errors []ValidationError

	const maxLimit = 1024

	if c.Limits.MaxActiveRequests < 1 {
		errors = append(errors, ValidationError{
			Field:   "limits.max_active_requests",
			Value:   c.Limits.MaxActiveRequests,
			Message: "must be at least 1",
		})
	}
	if c.Limits.MaxActiveRequests > maxLimit {
		errors = append(errors, ValidationError{
			Field:   "limits.max_active_requests",
			Value:   c.Limits.MaxActiveRequests,
			Message: fmt.Sprintf("exceeds maximum of %d", maxLimit),
		})
	}
	if c.Limits.MaxActiveLLM < 1 {
		errors = append(errors, ValidationError{
			Field:   "limits.max_active_llm",
			Value:   c.Limits.MaxActiveLLM,
			Message: "must be at least 1",
		})
	}
	if c.Limits.MaxActiveLLM > maxLimit {
		errors = append(errors, ValidationError{
			Field:   "limits.max_active_llm",
			Value:   c.Limits.MaxActiveLLM,
			Message: fmt.Sprintf("exceeds maximum of %d", maxLimit),
		})
	}

	return errors
}

// validateQueue validates the QueueConfig
func (c *Config) validateQueue() []ValidationError {
	var errors []ValidationError

	const maxDepthLimit = 10000

	if c.Queue.MaxDepth < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.max_depth",
			Value:   c.Queue.MaxDepth,
			Message: "must be at least 1",
		})
	}
	if c.Queue.MaxDepth > maxDepthLimit {
		errors = append(errors, ValidationError{
			Field:   "queue.max_depth",
			Value:   c.Queue.MaxDepth,
			Message: fmt.Sprintf("exceeds maximum of %d", maxDepthLimit),
		})
	}
	if c.Queue.StarvationThresholdSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.starvation_threshold_seconds",
			Value:   c.Queue.StarvationThresholdSeconds,
			Message: "must be at least 1 second",
		})
	}
	if c.Queue.PromotionScanIntervalMs < 10 {
		errors = append(errors, ValidationError{
			Field:   "queue.promotion_scan_interval_ms",
			Value:   c.Queue.PromotionScanIntervalMs,
			Message: "must be at least 10ms",
		})
	}

	return errors
}

// validateLease validates the LeaseConfig
func (c *Config) validateLease() []ValidationError {
	var errors []ValidationError

	if c.Lease.HeartbeatIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "lease.heartbeat_interval_seconds",
			Value:   c.Lease.HeartbeatIntervalSeconds,
			Message: "must be at least 1 second",
		})
	}
	if c.Lease.TTLTolerance < 2 {
		errors = append(errors, ValidationError{
			Field:   "lease.ttl_tolerance",
			Value:   c.Lease.TTLTolerance,
			Message: "must be at least 2 (one missed heartbeat must not expire a lease)",
		})
	}
	if c.Lease.SweepIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "lease.sweep_interval_seconds",
			Value:   c.Lease.SweepIntervalSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}

// validatePenalty validates the PenaltyConfig
func (c *Config) validatePenalty() []ValidationError {
	var errors []ValidationError

	if c.Penalty.RecoveryWindowSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "penalty.recovery_window_seconds",
			Value:   c.Penalty.RecoveryWindowSeconds,
			Message: "must be at least 1 second",
		})
	}
	if c.Penalty.DecayFactor <= 0 || c.Penalty.DecayFactor >= 1 {
		errors = append(errors, ValidationError{
			Field:   "penalty.decay_factor",
			Value:   c.Penalty.DecayFactor,
			Message: "must be strictly between 0 and 1",
		})
	}
	if c.Penalty.MaxPenalty <= 0 {
		errors = append(errors, ValidationError{
			Field:   "penalty.max_penalty",
			Value:   c.Penalty.MaxPenalty,
			Message: "must be positive",
		})
	}

	return errors
}

// validateBackoff validates the BackoffConfig
func (c *Config) validateBackoff() []ValidationError {
	var errors []ValidationError

	if c.Backoff.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.max_retries",
			Value:   c.Backoff.MaxRetries,
			Message: "must be non-negative (0 disables retries)",
		})
	}
	if c.Backoff.InitialDelayMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "backoff.initial_delay_ms",
			Value:   c.Backoff.InitialDelayMs,
			Message: "must be at least 1ms",
		})
	}
	if c.Backoff.MaxDelayMs < c.Backoff.InitialDelayMs {
		errors = append(errors, ValidationError{
			Field:   "backoff.max_delay_ms",
			Value:   c.Backoff.MaxDelayMs,
			Message: "must be at least initial_delay_ms",
		})
	}
	if c.Backoff.Multiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "backoff.multiplier",
			Value:   c.Backoff.Multiplier,
			Message: "must be at least 1",
		})
	}
	if c.Backoff.Jitter != "" && !slices.Contains(ValidJitterModes(), c.Backoff.Jitter) {
		errors = append(errors, ValidationError{
			Field:   "backoff.jitter",
			Value:   c.Backoff.Jitter,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidJitterModes(), ", ")),
		})
	}
	if c.Backoff.RateLimitMaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.rate_limit_max_retries",
			Value:   c.Backoff.RateLimitMaxRetries,
			Message: "must be non-negative",
		})
	}
	if c.Backoff.RateLimitMaxWaitSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "backoff.rate_limit_max_wait_seconds",
			Value:   c.Backoff.RateLimitMaxWaitSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}

// validateGate validates the GateConfig
func (c *Config) validateGate() []ValidationError {
	var errors []ValidationError

	if c.Gate.BaseDelayMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "gate.base_delay_ms",
			Value:   c.Gate.BaseDelayMs,
			Message: "must be at least 1ms",
		})
	}
	if c.Gate.MaxDelayMs < c.Gate.BaseDelayMs {
		errors = append(errors, ValidationError{
			Field:   "gate.max_delay_ms",
			Value:   c.Gate.MaxDelayMs,
			Message: "must be at least base_delay_ms",
		})
	}
	if c.Gate.ResetAfterSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "gate.reset_after_seconds",
			Value:   c.Gate.ResetAfterSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}

// validateCoordination validates the CoordinationConfig
func (c *Config) validateCoordination() []ValidationError {
	var errors []ValidationError

	if c.Coordination.HeartbeatIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "coordination.heartbeat_interval_seconds",
			Value:   c.Coordination.HeartbeatIntervalSeconds,
			Message: "must be at least 1 second",
		})
	}
	if c.Coordination.StaleTimeoutSeconds <= c.Coordination.HeartbeatIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "coordination.stale_timeout_seconds",
			Value:   c.Coordination.StaleTimeoutSeconds,
			Message: "must exceed heartbeat_interval_seconds (one slow heartbeat must not reap a live peer)",
		})
	}
	if c.Coordination.FairShareMode != "" && !slices.Contains(ValidFairShareModes(), c.Coordination.FairShareMode) {
		errors = append(errors, ValidationError{
			Field:   "coordination.fair_share_mode",
			Value:   c.Coordination.FairShareMode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidFairShareModes(), ", ")),
		})
	}
	if c.Coordination.LockTimeoutMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "coordination.lock_timeout_ms",
			Value:   c.Coordination.LockTimeoutMs,
			Message: "must be at least 1ms",
		})
	}
	if strings.ContainsRune(c.Coordination.RuntimeDir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "coordination.runtime_dir",
			Value:   c.Coordination.RuntimeDir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
