package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete agentgate configuration
type Config struct {
	Limits       LimitsConfig       `mapstructure:"limits"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Lease        LeaseConfig        `mapstructure:"lease"`
	Penalty      PenaltyConfig      `mapstructure:"penalty"`
	Backoff      BackoffConfig      `mapstructure:"backoff"`
	Gate         GateConfig         `mapstructure:"gate"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// LimitsConfig holds the base concurrency limits before cross-instance
// fair-share and penalty adjustment.
type LimitsConfig struct {
	// MaxActiveRequests is the base limit on concurrent delegated requests
	MaxActiveRequests int `mapstructure:"max_active_requests"`
	// MaxActiveLLM is the base limit on concurrent LLM calls
	MaxActiveLLM int `mapstructure:"max_active_llm"`
}

// QueueConfig controls the pending admission queue
type QueueConfig struct {
	// MaxDepth bounds the number of pending entries; beyond it new
	// requests fail fast with QueueFull
	MaxDepth int `mapstructure:"max_depth"`
	// StarvationThresholdSeconds is how long an entry may wait before it is
	// promoted one priority class per scan
	StarvationThresholdSeconds int `mapstructure:"starvation_threshold_seconds"`
	// PromotionScanIntervalMs is how often the starvation scan runs
	PromotionScanIntervalMs int `mapstructure:"promotion_scan_interval_ms"`
}

// LeaseConfig controls capacity reservation leases
type LeaseConfig struct {
	// HeartbeatIntervalSeconds is the expected interval between lease heartbeats
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	// TTLTolerance multiplies the heartbeat interval to form the lease TTL;
	// a lease missing that many intervals is reclaimed
	TTLTolerance int `mapstructure:"ttl_tolerance"`
	// SweepIntervalSeconds is how often expired leases are reclaimed
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// PenaltyConfig controls the adaptive penalty controller
type PenaltyConfig struct {
	// RecoveryWindowSeconds is the uninterrupted-success window after which
	// penalty decays multiplicatively
	RecoveryWindowSeconds int `mapstructure:"recovery_window_seconds"`
	// DecayFactor multiplies the penalty per elapsed recovery window (0..1)
	DecayFactor float64 `mapstructure:"decay_factor"`
	// MaxPenalty caps the accumulated penalty
	MaxPenalty float64 `mapstructure:"max_penalty"`
}

// BackoffConfig controls the retry executor
type BackoffConfig struct {
	// MaxRetries is the transient-error retry budget
	MaxRetries int `mapstructure:"max_retries"`
	// InitialDelayMs is the first backoff delay
	InitialDelayMs int `mapstructure:"initial_delay_ms"`
	// MaxDelayMs caps the backoff delay
	MaxDelayMs int `mapstructure:"max_delay_ms"`
	// Multiplier grows the delay per attempt
	Multiplier float64 `mapstructure:"multiplier"`
	// Jitter is the jitter mode: "full", "partial", or "none"
	Jitter string `mapstructure:"jitter"`
	// RateLimitMaxRetries is the separate retry budget for throttling signals
	RateLimitMaxRetries int `mapstructure:"rate_limit_max_retries"`
	// RateLimitMaxWaitSeconds bounds the total time spent waiting on
	// rate-limit gates within one execution
	RateLimitMaxWaitSeconds int `mapstructure:"rate_limit_max_wait_seconds"`
}

// GateConfig controls the shared rate-limit cooldown gate
type GateConfig struct {
	// BaseDelayMs is the gate delay after the first throttling hit
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	// MaxDelayMs caps the gate delay growth
	MaxDelayMs int `mapstructure:"max_delay_ms"`
	// ResetAfterSeconds is the hit-free interval after which the hit count resets
	ResetAfterSeconds int `mapstructure:"reset_after_seconds"`
	// ShareViaFile mirrors gate state to the runtime directory so co-located
	// processes share cooldowns
	ShareViaFile bool `mapstructure:"share_via_file"`
}

// CoordinationConfig controls the cross-instance registry
type CoordinationConfig struct {
	// RuntimeDir is where instance records, locks, and gate files live.
	// Empty means the default under the user state directory.
	RuntimeDir string `mapstructure:"runtime_dir"`
	// HeartbeatIntervalSeconds is how often this instance refreshes its record
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	// StaleTimeoutSeconds is how old a peer record may be before it is ignored
	// and reaped
	StaleTimeoutSeconds int `mapstructure:"stale_timeout_seconds"`
	// FairShareMode is "equal" or "weighted"
	FairShareMode string `mapstructure:"fair_share_mode"`
	// LockTimeoutMs bounds cross-instance lock acquisition; on timeout the
	// process falls back to a conservative single-instance share
	LockTimeoutMs int `mapstructure:"lock_timeout_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// Duration helpers. Viper stores integers; callers want time.Duration.

// StarvationThreshold returns the starvation threshold as a time.Duration
func (q *QueueConfig) StarvationThreshold() time.Duration {
	return time.Duration(q.StarvationThresholdSeconds) * time.Second
}

// PromotionScanInterval returns the promotion scan interval as a time.Duration
func (q *QueueConfig) PromotionScanInterval() time.Duration {
	return time.Duration(q.PromotionScanIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the lease heartbeat interval as a time.Duration
func (l *LeaseConfig) HeartbeatInterval() time.Duration {
	return time.Duration(l.HeartbeatIntervalSeconds) * time.Second
}

// TTL returns the lease time-to-live (heartbeat interval times tolerance)
func (l *LeaseConfig) TTL() time.Duration {
	return l.HeartbeatInterval() * time.Duration(l.TTLTolerance)
}

// SweepInterval returns the lease sweep interval as a time.Duration
func (l *LeaseConfig) SweepInterval() time.Duration {
	return time.Duration(l.SweepIntervalSeconds) * time.Second
}

// RecoveryWindow returns the penalty recovery window as a time.Duration
func (p *PenaltyConfig) RecoveryWindow() time.Duration {
	return time.Duration(p.RecoveryWindowSeconds) * time.Second
}

// InitialDelay returns the initial backoff delay as a time.Duration
func (b *BackoffConfig) InitialDelay() time.Duration {
	return time.Duration(b.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff delay cap as a time.Duration
func (b *BackoffConfig) MaxDelay() time.Duration {
	return time.Duration(b.MaxDelayMs) * time.Millisecond
}

// RateLimitMaxWait returns the rate-limit wait budget as a time.Duration
func (b *BackoffConfig) RateLimitMaxWait() time.Duration {
	return time.Duration(b.RateLimitMaxWaitSeconds) * time.Second
}

// BaseDelay returns the gate base delay as a time.Duration
func (g *GateConfig) BaseDelay() time.Duration {
	return time.Duration(g.BaseDelayMs) * time.Millisecond
}

// GateMaxDelay returns the gate delay cap as a time.Duration
func (g *GateConfig) GateMaxDelay() time.Duration {
	return time.Duration(g.MaxDelayMs) * time.Millisecond
}

// ResetAfter returns the gate reset interval as a time.Duration
func (g *GateConfig) ResetAfter() time.Duration {
	return time.Duration(g.ResetAfterSeconds) * time.Second
}

// HeartbeatInterval returns the peer heartbeat interval as a time.Duration
func (c *CoordinationConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// StaleTimeout returns the peer stale timeout as a time.Duration
func (c *CoordinationConfig) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutSeconds) * time.Second
}

// LockTimeout returns the lock acquisition timeout as a time.Duration
func (c *CoordinationConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// ResolveRuntimeDir returns the runtime directory, defaulting to
// $XDG_STATE_HOME/agentgate (or ~/.local/state/agentgate) when unset.
func (c *CoordinationConfig) ResolveRuntimeDir() string {
	if c.RuntimeDir != "" {
		return c.RuntimeDir
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentgate"
	}
	return filepath.Join(home, ".local", "state", "agentgate")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxActiveRequests: 8,
			MaxActiveLLM:      4,
		},
		Queue: QueueConfig{
			MaxDepth:                   64,
			StarvationThresholdSeconds: 60,
			PromotionScanIntervalMs:    1000,
		},
		Lease: LeaseConfig{
			HeartbeatIntervalSeconds: 10,
			TTLTolerance:             3,
			SweepIntervalSeconds:     5,
		},
		Penalty: PenaltyConfig{
			RecoveryWindowSeconds: 120,
			DecayFactor:           0.5,
			MaxPenalty:            7.0,
		},
		Backoff: BackoffConfig{
			MaxRetries:              3,
			InitialDelayMs:          1000,
			MaxDelayMs:              30000,
			Multiplier:              2.0,
			Jitter:                  "partial",
			RateLimitMaxRetries:     5,
			RateLimitMaxWaitSeconds: 300,
		},
		Gate: GateConfig{
			BaseDelayMs:       5000,
			MaxDelayMs:        120000,
			ResetAfterSeconds: 60,
			ShareViaFile:      true,
		},
		Coordination: CoordinationConfig{
			RuntimeDir:               "", // Empty means use the XDG state dir
			HeartbeatIntervalSeconds: 5,
			StaleTimeoutSeconds:      15,
			FairShareMode:            "weighted",
			LockTimeoutMs:            2000,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("limits.max_active_requests", defaults.Limits.MaxActiveRequests)
	viper.SetDefault("limits.max_active_llm", defaults.Limits.MaxActiveLLM)

	viper.SetDefault("queue.max_depth", defaults.Queue.MaxDepth)
	viper.SetDefault("queue.starvation_threshold_seconds", defaults.Queue.StarvationThresholdSeconds)
	viper.SetDefault("queue.promotion_scan_interval_ms", defaults.Queue.PromotionScanIntervalMs)

	viper.SetDefault("lease.heartbeat_interval_seconds", defaults.Lease.HeartbeatIntervalSeconds)
	viper.SetDefault("lease.ttl_tolerance", defaults.Lease.TTLTolerance)
	viper.SetDefault("lease.sweep_interval_seconds", defaults.Lease.SweepIntervalSeconds)

	viper.SetDefault("penalty.recovery_window_seconds", defaults.Penalty.RecoveryWindowSeconds)
	viper.SetDefault("penalty.decay_factor", defaults.Penalty.DecayFactor)
	viper.SetDefault("penalty.max_penalty", defaults.Penalty.MaxPenalty)

	viper.SetDefault("backoff.max_retries", defaults.Backoff.MaxRetries)
	viper.SetDefault("backoff.initial_delay_ms", defaults.Backoff.InitialDelayMs)
	viper.SetDefault("backoff.max_delay_ms", defaults.Backoff.MaxDelayMs)
	viper.SetDefault("backoff.multiplier", defaults.Backoff.Multiplier)
	viper.SetDefault("backoff.jitter", defaults.Backoff.Jitter)
	viper.SetDefault("backoff.rate_limit_max_retries", defaults.Backoff.RateLimitMaxRetries)
	viper.SetDefault("backoff.rate_limit_max_wait_seconds", defaults.Backoff.RateLimitMaxWaitSeconds)

	viper.SetDefault("gate.base_delay_ms", defaults.Gate.BaseDelayMs)
	viper.SetDefault("gate.max_delay_ms", defaults.Gate.MaxDelayMs)
	viper.SetDefault("gate.reset_after_seconds", defaults.Gate.ResetAfterSeconds)
	viper.SetDefault("gate.share_via_file", defaults.Gate.ShareViaFile)

	viper.SetDefault("coordination.runtime_dir", defaults.Coordination.RuntimeDir)
	viper.SetDefault("coordination.heartbeat_interval_seconds", defaults.Coordination.HeartbeatIntervalSeconds)
	viper.SetDefault("coordination.stale_timeout_seconds", defaults.Coordination.StaleTimeoutSeconds)
	viper.SetDefault("coordination.fair_share_mode", defaults.Coordination.FairShareMode)
	viper.SetDefault("coordination.lock_timeout_ms", defaults.Coordination.LockTimeoutMs)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentgate")
	}
	// Fall back to ~/.config/agentgate
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentgate"
	}
	return filepath.Join(home, ".config", "agentgate")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
