package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Mekann2904/agentgate/internal/config"
	"github.com/Mekann2904/agentgate/internal/peers"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize coordination state",
	Long:  `Display live instances, held locks, and closed gates at a glance.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir := cfg.Coordination.ResolveRuntimeDir()

	registry := peers.NewRegistry(dir,
		cfg.Coordination.HeartbeatInterval(),
		cfg.Coordination.StaleTimeout(), nil)
	records, err := registry.List()
	if err != nil {
		return fmt.Errorf("scanning runtime directory: %w", err)
	}

	locks, gatesClosed := countArtifacts(dir)
	totalPending := 0
	for _, rec := range records {
		totalPending += rec.PendingCount
	}

	fmt.Println(heading("Agentgate Status"))
	fmt.Println(muted(dir))

	t := newTable()
	t.AppendRow(table.Row{"Live instances", len(records)})
	t.AppendRow(table.Row{"Pending (all instances)", totalPending})
	t.AppendRow(table.Row{"Held locks", locks})
	t.AppendRow(table.Row{"Closed gates", gatesClosed})
	t.AppendRow(table.Row{"Base limit (requests)", cfg.Limits.MaxActiveRequests})
	t.AppendRow(table.Row{"Base limit (LLM calls)", cfg.Limits.MaxActiveLLM})
	t.AppendRow(table.Row{"Fair share mode", cfg.Coordination.FairShareMode})
	fmt.Println(t.Render())
	return nil
}

// countArtifacts tallies lock files and currently closed gate files.
func countArtifacts(dir string) (locks, gatesClosed int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}

	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, "lock-") && strings.HasSuffix(name, ".json"):
			locks++
		case strings.HasPrefix(name, "gate-") && strings.HasSuffix(name, ".json"):
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			var gate sharedGate
			if err := json.Unmarshal(data, &gate); err != nil {
				continue
			}
			if gate.GateUntil.After(now) {
				gatesClosed++
			}
		}
	}
	return locks, gatesClosed
}
