package config

import (
	"flag"
	"testing"
	"time"
)

func TestParseFlagsOverridesDefaults(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	apply := ParseFlags(fs, &cfg)
	if err := fs.Parse([]string{"-port=9090", "-max-agents=3", "-tick-interval=500ms"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	apply()

	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.MaxConcurrentAgents != 3 {
		t.Fatalf("expected max agents 3, got %d", cfg.MaxConcurrentAgents)
	}
	if cfg.OrchestratorTickInterval != 500*time.Millisecond {
		t.Fatalf("expected tick interval 500ms, got %v", cfg.OrchestratorTickInterval)
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentSessions = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero max sessions")
	}
}

func TestIterationBudgetCapsToSmaller(t *testing.T) {
	cfg := Default()
	cfg.SessionTotalTimeout = 10 * time.Minute
	cfg.MaxOrchestratorIteration = 2 * time.Minute

	if got := cfg.IterationBudget(0); got != 2*time.Minute {
		t.Fatalf("expected soft cap of 2m when plenty of time remains, got %v", got)
	}
	if got := cfg.IterationBudget(9 * time.Minute); got != time.Minute {
		t.Fatalf("expected remaining-time cap of 1m near the deadline, got %v", got)
	}
	if got := cfg.IterationBudget(11 * time.Minute); got != 0 {
		t.Fatalf("expected 0 once the session timeout has already elapsed, got %v", got)
	}
}
