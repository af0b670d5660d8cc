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
)

// sharedGate mirrors the gate file layout written by the retry package.
type sharedGate struct {
	ScopeKey  string    `json:"scope_key"`
	HitCount  int       `json:"hit_count"`
	GateUntil time.Time `json:"gate_until"`
	UpdatedAt time.Time `json:"updated_at"`
}

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "List shared rate-limit gates",
	Long: `Show the per-scope rate-limit gates mirrored to the runtime
directory. A closed gate means recent throttling; every co-located
process waits for it to reopen before retrying that scope.`,
	RunE: runGates,
}

func init() {
	rootCmd.AddCommand(gatesCmd)
}

func runGates(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir := cfg.Coordination.ResolveRuntimeDir()

	fmt.Println(heading("Rate-Limit Gates"))
	fmt.Println(muted(dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No gate history")
			return nil
		}
		return fmt.Errorf("scanning runtime directory: %w", err)
	}

	t := newTable()
	t.AppendHeader(table.Row{"Scope", "Hits", "State", "Last Update"})
	now := time.Now()
	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "gate-") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var gate sharedGate
		if err := json.Unmarshal(data, &gate); err != nil {
			continue
		}

		state := "open"
		if gate.GateUntil.After(now) {
			state = fmt.Sprintf("closed for %s", gate.GateUntil.Sub(now).Round(time.Second))
		}
		t.AppendRow(table.Row{
			gate.ScopeKey,
			gate.HitCount,
			state,
			now.Sub(gate.UpdatedAt).Round(time.Second).String() + " ago",
		})
		count++
	}

	if count == 0 {
		fmt.Println("No gate history")
		return nil
	}
	fmt.Println(t.Render())
	return nil
}
