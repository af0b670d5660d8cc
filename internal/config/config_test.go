package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("default config should validate cleanly, got: %v", ValidationErrors(errs))
	}
}

func TestLoadFromViperDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}

	if cfg.Limits.MaxActiveRequests != 8 {
		t.Errorf("max_active_requests = %d, want 8", cfg.Limits.MaxActiveRequests)
	}
	if cfg.Limits.MaxActiveLLM != 4 {
		t.Errorf("max_active_llm = %d, want 4", cfg.Limits.MaxActiveLLM)
	}
	if cfg.Coordination.FairShareMode != "weighted" {
		t.Errorf("fair_share_mode = %q, want weighted", cfg.Coordination.FairShareMode)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()
	viper.Set("limits.max_active_requests", 0)
	viper.Set("backoff.jitter", "gaussian")
	viper.Set("coordination.fair_share_mode", "lottery")

	_, err := Load()
	if err == nil {
		t.Fatal("Load should reject invalid values")
	}

	msg := err.Error()
	for _, want := range []string{
		"limits.max_active_requests",
		"backoff.jitter",
		"coordination.fair_share_mode",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %s, got:\n%s", want, msg)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	if got := cfg.Queue.StarvationThreshold(); got != 60*time.Second {
		t.Errorf("StarvationThreshold = %v, want 60s", got)
	}
	if got := cfg.Lease.TTL(); got != 30*time.Second {
		t.Errorf("lease TTL = %v, want 30s (10s heartbeat x 3 tolerance)", got)
	}
	if got := cfg.Backoff.InitialDelay(); got != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", got)
	}
	if got := cfg.Gate.GateMaxDelay(); got != 120*time.Second {
		t.Errorf("GateMaxDelay = %v, want 120s", got)
	}
	if got := cfg.Coordination.HeartbeatInterval(); got != 5*time.Second {
		t.Errorf("peer HeartbeatInterval = %v, want 5s", got)
	}
}

func TestValidateTTLTolerance(t *testing.T) {
	cfg := Default()
	cfg.Lease.TTLTolerance = 1

	errs := cfg.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected one validation error, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "lease.ttl_tolerance" {
		t.Errorf("field = %q, want lease.ttl_tolerance", errs[0].Field)
	}
}

func TestValidateStaleTimeoutVersusHeartbeat(t *testing.T) {
	cfg := Default()
	cfg.Coordination.StaleTimeoutSeconds = cfg.Coordination.HeartbeatIntervalSeconds

	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if e.Field == "coordination.stale_timeout_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("stale timeout equal to heartbeat interval should be rejected")
	}
}

func TestValidatePenaltyDecayBounds(t *testing.T) {
	for _, decay := range []float64{0, 1, -0.5, 1.5} {
		cfg := Default()
		cfg.Penalty.DecayFactor = decay
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Errorf("decay_factor %v should be rejected", decay)
		}
	}
	cfg := Default()
	cfg.Penalty.DecayFactor = 0.5
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("decay_factor 0.5 should be accepted, got %v", errs)
	}
}

func TestValidateBackoffOrdering(t *testing.T) {
	cfg := Default()
	cfg.Backoff.MaxDelayMs = cfg.Backoff.InitialDelayMs - 1

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Error("max_delay below initial_delay should be rejected")
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Value: 1, Message: "bad"},
		{Field: "c.d", Value: "x", Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("expected count header, got %q", msg)
	}

	one := ValidationErrors{{Field: "a.b", Value: 1, Message: "bad"}}
	if strings.Contains(one.Error(), "validation errors") {
		t.Errorf("single error should not have count header, got %q", one.Error())
	}

	var none ValidationErrors
	if none.Error() != "" {
		t.Errorf("empty errors should produce empty string")
	}
}
