// Package cmd implements the agentgate command-line interface: inspection of
// the shared runtime directory (peers, locks, gates) and the effective
// configuration. The admission pipeline itself is a library; the CLI is the
// operator's window into it.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Mekann2904/agentgate/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "Admission control for concurrent agent workloads",
	Long: `Agentgate schedules concurrent LLM-backed agent work: a priority
queue with starvation promotion, capacity leases, adaptive penalties,
retry with shared rate-limit gates, and fair-share coordination across
co-located processes through a shared runtime directory.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/agentgate/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/agentgate")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AGENTGATE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., AGENTGATE_LIMITS_MAX_ACTIVE_LLM for limits.max_active_llm
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
