// Package agentconfig loads the immutable per-process AgentConfig (spec
// section 3) from a YAML file, with ${VAR} / ${VAR:-default} environment
// expansion applied to the raw file text before YAML parsing. Grounded on
// the teacher's pkg/config: YAML as the file format (gopkg.in/yaml.v3, the
// same library the teacher's koanf-based loader parses YAML documents
// with) and the ${VAR}/${VAR:-default} expansion syntax lifted from the
// teacher's pkg/config/env.go, without the multi-backend (consul/etcd/
// zookeeper) provider abstraction this system has no use for - this
// runtime has exactly one deployment shape (a single file, read once at
// startup; AgentConfig is documented as "never mutated").
package agentconfig

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the immutable per-process agent configuration named in spec
// section 3.
type Config struct {
	AgentID               string   `yaml:"agent_id"`
	DisplayName           string   `yaml:"display_name"`
	Version               string   `yaml:"version"`
	Greeting              string   `yaml:"greeting"`
	Instructions          string   `yaml:"instructions"`
	Personality           string   `yaml:"personality"`
	LLMModel              string   `yaml:"llm_model"`
	BaseSystemPrompt      string   `yaml:"base_system_prompt"`
	InitialCapabilityURLs []string `yaml:"initial_capability_urls"`
	MaxToolCallsPerTurn   int      `yaml:"max_tool_calls_per_turn"`
	TurnDeadlineMS        int      `yaml:"turn_deadline_ms"`

	LLM    LLMConfig    `yaml:"llm"`
	Server ServerConfig `yaml:"server"`
}

// LLMConfig configures which LLM adapter backs this agent.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`
}

// ServerConfig configures the process entrypoint's HTTP listener.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownGraceMS int    `yaml:"shutdown_grace_ms"`
}

// Load reads path, expands environment variables, and parses it as YAML.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownGraceMS == 0 {
		cfg.Server.ShutdownGraceMS = 5000
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.MaxToolCallsPerTurn == 0 {
		cfg.MaxToolCallsPerTurn = 16
	}
	if cfg.TurnDeadlineMS == 0 {
		cfg.TurnDeadlineMS = 60000
	}
}

func validate(cfg *Config) error {
	if cfg.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if cfg.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	return nil
}

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// expandEnvVars replaces ${VAR:-default} and ${VAR} references with the
// corresponding environment variable, before YAML parsing. Expansion is
// unrestricted (any variable name is looked up), matching the teacher's own
// env.go.
func expandEnvVars(s string) string {
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(parts[1]); ok && val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}
