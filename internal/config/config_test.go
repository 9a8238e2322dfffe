package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aishell.toml")
	content := `
[llm]
provider = "anthropic"
model = "claude-sonnet-4-5"

[agents.backup]
capabilities = ["read", "backup"]
safety_level = "moderate"
max_retries = 5
step_timeout = "2m"

[agents.migration]
capabilities = ["read", "schema_change"]
safety_level = "strict"

[safety]
policy_path = "policy.yaml"
sink = "nats"
nats_url = "nats://localhost:4222"
approval_timeout = "10m"

[storage]
backend = "sqlite"
path = "state.db"

[orchestrator]
max_concurrency = 8
workflow_timeout = "30m"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend = %s", cfg.Storage.Backend)
	}
	if cfg.Orchestrator.MaxConcurrency != 8 {
		t.Errorf("max_concurrency = %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Safety.Sink != "nats" || cfg.Safety.NATSURL != "nats://localhost:4222" {
		t.Errorf("safety = %+v", cfg.Safety)
	}

	backup := cfg.AgentProfile("backup")
	if backup.MaxRetries != 5 || len(backup.Capabilities) != 2 {
		t.Errorf("backup profile = %+v", backup)
	}
	migration := cfg.AgentProfile("migration")
	if migration.SafetyLevel != "strict" {
		t.Errorf("migration safety = %s", migration.SafetyLevel)
	}
	if migration.MaxRetries != 3 {
		t.Errorf("migration retries should default to 3, got %d", migration.MaxRetries)
	}
	unknown := cfg.AgentProfile("nope")
	if unknown.SafetyLevel != "moderate" {
		t.Errorf("unknown profile = %+v", unknown)
	}
}

func TestDefaults(t *testing.T) {
	cfg := New()
	if cfg.Safety.Sink != "interactive" {
		t.Errorf("default sink = %s", cfg.Safety.Sink)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("default backend = %s", cfg.Storage.Backend)
	}
	if cfg.Orchestrator.MaxConcurrency != 4 {
		t.Errorf("default concurrency = %d", cfg.Orchestrator.MaxConcurrency)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("", 5*time.Minute)
	if err != nil || d != 5*time.Minute {
		t.Errorf("empty = %v, %v", d, err)
	}
	d, err = ParseDuration("90s", 0)
	if err != nil || d != 90*time.Second {
		t.Errorf("90s = %v, %v", d, err)
	}
	if _, err := ParseDuration("soon", 0); err == nil {
		t.Error("expected error for invalid duration")
	}
}
