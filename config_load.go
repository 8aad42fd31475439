package agentrouter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file from the given path, layered
// over DefaultConfig. Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if cfg.Gateway.Fallback.MaxAttempts < 0 {
		return fmt.Errorf("gateway.fallback.max_attempts must not be negative")
	}
	if cfg.Breaker.Threshold < 0 {
		return fmt.Errorf("breaker.threshold must not be negative")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.Executor.MaxParallelAgents < 1 {
		return fmt.Errorf("executor.max_parallel_agents must be at least 1")
	}

	switch cfg.Executor.FailurePolicy {
	case FailFast, BestEffort, "":
	default:
		return fmt.Errorf("unknown executor failure policy: %q", cfg.Executor.FailurePolicy)
	}

	switch cfg.Reasoner.Mode {
	case ReasonerModeRule, ReasonerModeAI, ReasonerModeHybrid, "":
	default:
		return fmt.Errorf("unknown reasoner mode: %q", cfg.Reasoner.Mode)
	}
	if cfg.Reasoner.RuleAcceptThreshold < 0 || cfg.Reasoner.RuleAcceptThreshold > 1 {
		return fmt.Errorf("reasoner.rule_accept_threshold must be in [0,1]")
	}
	for i, r := range cfg.Reasoner.Rules {
		switch r.Action {
		case "select", "reject":
		default:
			return fmt.Errorf("rule %d has unknown action %q", i, r.Action)
		}
		if len(r.Patterns) == 0 {
			return fmt.Errorf("rule %d has no patterns", i)
		}
		if r.Action == "select" && len(r.Agents) == 0 {
			return fmt.Errorf("rule %d selects no agents", i)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("rule %d confidence must be in [0,1]", i)
		}
	}

	switch cfg.Audit.SQLDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown audit sql driver: %q", cfg.Audit.SQLDriver)
	}
	if cfg.Audit.SQLDriver != "" && cfg.Audit.SQLDSN == "" {
		return fmt.Errorf("audit.sql_dsn is required when audit.sql_driver is set")
	}

	return nil
}
