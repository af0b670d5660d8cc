package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Mekann2904/agentgate/internal/config"
	"github.com/Mekann2904/agentgate/internal/peers"
)

func setupRuntimeDir(t *testing.T) string {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	dir := t.TempDir()
	viper.Set("coordination.runtime_dir", dir)
	t.Cleanup(viper.Reset)
	return dir
}

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"status": false, "peers": false, "locks": false, "gates": false, "config": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRunPeersEmptyDir(t *testing.T) {
	setupRuntimeDir(t)
	if err := runPeers(peersCmd, nil); err != nil {
		t.Errorf("peers with empty dir: %v", err)
	}
}

func TestRunPeersShowsRegisteredInstance(t *testing.T) {
	dir := setupRuntimeDir(t)

	r := peers.NewRegistry(dir, 5*time.Second, time.Minute, nil,
		peers.WithInstanceID("test-instance"))
	if err := r.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := runPeers(peersCmd, nil); err != nil {
		t.Errorf("peers: %v", err)
	}
}

func TestRunLocksAndGatesEmptyDir(t *testing.T) {
	setupRuntimeDir(t)
	if err := runLocks(locksCmd, nil); err != nil {
		t.Errorf("locks: %v", err)
	}
	if err := runGates(gatesCmd, nil); err != nil {
		t.Errorf("gates: %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	setupRuntimeDir(t)
	if err := runStatus(statusCmd, nil); err != nil {
		t.Errorf("status: %v", err)
	}
}

func TestRunConfig(t *testing.T) {
	setupRuntimeDir(t)
	if err := runConfig(configCmd, nil); err != nil {
		t.Errorf("config: %v", err)
	}
}
