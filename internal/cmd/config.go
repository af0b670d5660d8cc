package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Mekann2904/agentgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration in force after merging defaults, the config
file, and AGENTGATE_* environment variables.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	fmt.Println(heading("Configuration"))
	fmt.Println(muted(config.ConfigFile()))

	t := newTable()
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"limits.max_active_requests", cfg.Limits.MaxActiveRequests},
		{"limits.max_active_llm", cfg.Limits.MaxActiveLLM},
		{"queue.max_depth", cfg.Queue.MaxDepth},
		{"queue.starvation_threshold", cfg.Queue.StarvationThreshold()},
		{"queue.promotion_scan_interval", cfg.Queue.PromotionScanInterval()},
		{"lease.heartbeat_interval", cfg.Lease.HeartbeatInterval()},
		{"lease.ttl", cfg.Lease.TTL()},
		{"lease.sweep_interval", cfg.Lease.SweepInterval()},
		{"penalty.recovery_window", cfg.Penalty.RecoveryWindow()},
		{"penalty.decay_factor", cfg.Penalty.DecayFactor},
		{"penalty.max_penalty", cfg.Penalty.MaxPenalty},
		{"backoff.max_retries", cfg.Backoff.MaxRetries},
		{"backoff.initial_delay", cfg.Backoff.InitialDelay()},
		{"backoff.max_delay", cfg.Backoff.MaxDelay()},
		{"backoff.multiplier", cfg.Backoff.Multiplier},
		{"backoff.jitter", cfg.Backoff.Jitter},
		{"backoff.rate_limit_max_retries", cfg.Backoff.RateLimitMaxRetries},
		{"backoff.rate_limit_max_wait", cfg.Backoff.RateLimitMaxWait()},
		{"gate.base_delay", cfg.Gate.BaseDelay()},
		{"gate.max_delay", cfg.Gate.GateMaxDelay()},
		{"gate.reset_after", cfg.Gate.ResetAfter()},
		{"gate.share_via_file", cfg.Gate.ShareViaFile},
		{"coordination.runtime_dir", cfg.Coordination.ResolveRuntimeDir()},
		{"coordination.heartbeat_interval", cfg.Coordination.HeartbeatInterval()},
		{"coordination.stale_timeout", cfg.Coordination.StaleTimeout()},
		{"coordination.fair_share_mode", cfg.Coordination.FairShareMode},
		{"coordination.lock_timeout", cfg.Coordination.LockTimeout()},
		{"logging.enabled", cfg.Logging.Enabled},
		{"logging.level", cfg.Logging.Level},
	})
	fmt.Println(t.Render())
	return nil
}
