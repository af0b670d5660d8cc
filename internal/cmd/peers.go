package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Mekann2904/agentgate/internal/config"
	"github.com/Mekann2904/agentgate/internal/peers"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List live agentgate instances",
	Long: `Scan the shared runtime directory for instance presence records.
Stale records (heartbeat older than the stale timeout) are reaped
during the scan.`,
	RunE: runPeers,
}

func init() {
	rootCmd.AddCommand(peersCmd)
}

func runPeers(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir := cfg.Coordination.ResolveRuntimeDir()

	registry := peers.NewRegistry(dir,
		cfg.Coordination.HeartbeatInterval(),
		cfg.Coordination.StaleTimeout(), nil)
	records, err := registry.List()
	if err != nil {
		return fmt.Errorf("scanning runtime directory: %w", err)
	}

	fmt.Println(heading("Peers"))
	fmt.Println(muted(dir))
	if len(records) == 0 {
		fmt.Println("No live instances")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Instance", "PID", "Pending", "Last Heartbeat", "Uptime"})
	now := time.Now()
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.InstanceID,
			rec.PID,
			rec.PendingCount,
			now.Sub(rec.LastHeartbeatAt).Round(time.Second).String() + " ago",
			now.Sub(rec.StartedAt).Round(time.Second),
		})
	}
	fmt.Println(t.Render())
	return nil
}
