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

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List held cross-instance locks",
	RunE:  runLocks,
}

func init() {
	rootCmd.AddCommand(locksCmd)
}

func runLocks(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir := cfg.Coordination.ResolveRuntimeDir()

	fmt.Println(heading("Locks"))
	fmt.Println(muted(dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No locks held")
			return nil
		}
		return fmt.Errorf("scanning runtime directory: %w", err)
	}

	t := newTable()
	t.AppendHeader(table.Row{"Name", "Owner", "PID", "Held For"})
	now := time.Now()
	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "lock-") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var rec peers.LockRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}

		t.AppendRow(table.Row{
			strings.TrimSuffix(strings.TrimPrefix(name, "lock-"), ".json"),
			rec.Owner,
			rec.PID,
			now.Sub(rec.AcquiredAt).Round(time.Second),
		})
		count++
	}

	if count == 0 {
		fmt.Println("No locks held")
		return nil
	}
	fmt.Println(t.Render())
	return nil
}
