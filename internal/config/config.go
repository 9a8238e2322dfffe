// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the engine configuration.
type Config struct {
	LLM          LLMConfig              `toml:"llm"`          // Planner model settings
	Agents       map[string]AgentConfig `toml:"agents"`       // Per-type agent profiles
	Safety       SafetyConfig           `toml:"safety"`       // Approval and policy settings
	Storage      StorageConfig          `toml:"storage"`      // Checkpoint and event persistence
	Orchestrator OrchestratorConfig     `toml:"orchestrator"` // Workflow scheduling
	Telemetry    TelemetryConfig        `toml:"telemetry"`
}

// LLMConfig contains planner provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"` // Custom API endpoint
}

// AgentConfig is one agent type's profile.
type AgentConfig struct {
	Capabilities []string `toml:"capabilities"`
	SafetyLevel  string   `toml:"safety_level"` // strict|moderate|permissive
	MaxRetries   int      `toml:"max_retries"`  // Total attempts per step (default 3)
	StepTimeout  string   `toml:"step_timeout"` // e.g. "2m"
}

// SafetyConfig contains approval and policy settings.
type SafetyConfig struct {
	PolicyPath      string `toml:"policy_path"`      // YAML policy file; watched for changes
	Sink            string `toml:"sink"`             // interactive (default) or nats
	NATSURL         string `toml:"nats_url"`
	NATSSubject     string `toml:"nats_subject"`
	ApprovalTimeout string `toml:"approval_timeout"` // e.g. "5m"; empty blocks indefinitely
}

// StorageConfig contains persistence settings for checkpoints and events.
type StorageConfig struct {
	Backend string `toml:"backend"` // file (default) or sqlite
	Path    string `toml:"path"`    // Directory for file backend, db file for sqlite
}

// OrchestratorConfig contains workflow scheduling settings.
type OrchestratorConfig struct {
	MaxConcurrency  int    `toml:"max_concurrency"`  // Concurrent subtasks (default 4)
	WorkflowTimeout string `toml:"workflow_timeout"` // e.g. "30m"; empty means no limit
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
	Insecure bool   `toml:"insecure"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Safety: SafetyConfig{
			Sink:        "interactive",
			NATSSubject: "aishell.approvals",
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    "~/.local/aishell",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrency: 4,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from aishell.toml in the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "aishell.toml"))
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// AgentProfile returns the profile for an agent type, falling back to a
// moderate default when the type has no entry.
func (c *Config) AgentProfile(agentType string) AgentConfig {
	if profile, ok := c.Agents[agentType]; ok {
		if profile.SafetyLevel == "" {
			profile.SafetyLevel = "moderate"
		}
		if profile.MaxRetries == 0 {
			profile.MaxRetries = 3
		}
		return profile
	}
	return AgentConfig{SafetyLevel: "moderate", MaxRetries: 3}
}

// ParseDuration parses a duration field, returning def when the field is
// empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// StoragePath expands a leading ~ in the storage path.
func (c *Config) StoragePath() string {
	path := c.Storage.Path
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}
