package agentrouter

import (
	"time"
)

// Config holds the full configuration for the agent router: the gateway's
// provider fallback chain, resilience settings shared by gateway and
// executor, orchestration limits, and the serving surface.
type Config struct {
	// Gateway configures provider selection and fallback.
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	// Breaker configures the per-target circuit breakers.
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
	// Retry configures transient-failure retries.
	Retry RetryConfig `json:"retry" yaml:"retry"`
	// Executor configures plan execution.
	Executor ExecutorConfig `json:"executor" yaml:"executor"`
	// Validator configures output validation.
	Validator ValidatorConfig `json:"validator" yaml:"validator"`
	// Reasoner configures agent selection.
	Reasoner ReasonerConfig `json:"reasoner" yaml:"reasoner"`
	// Audit configures the per-query trace logger.
	Audit AuditConfig `json:"audit" yaml:"audit"`
	// Plugins configuration (optional).
	Plugins []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	// RateLimit configures the HTTP token-bucket limiter.
	RateLimit RateLimitConfig `json:"ratelimit" yaml:"ratelimit"`
	// Server configures the HTTP listener.
	Server ServerConfig `json:"server" yaml:"server"`
}

// GatewayConfig defines provider routing behaviour.
type GatewayConfig struct {
	Fallback FallbackConfig `json:"fallback" yaml:"fallback"`
}

// FallbackConfig defines the provider fallback chain.
type FallbackConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Order lists provider names tried after the preferred provider,
	// in priority order.
	Order []string `json:"order,omitempty" yaml:"order,omitempty"`
	// MaxAttempts caps the number of providers tried per call.
	// Zero means no cap.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	// RetryOriginal is accepted for compatibility and currently ignored:
	// the preferred provider is never re-tried after the chain moves on.
	RetryOriginal bool `json:"retry_original,omitempty" yaml:"retry_original,omitempty"`
}

// BreakerConfig defines circuit breaker thresholds.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens a breaker.
	Threshold int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// CooldownMs is how long an open breaker waits before admitting a probe.
	CooldownMs int `json:"cooldown_ms,omitempty" yaml:"cooldown_ms,omitempty"`
}

// RetryConfig defines retry behaviour for transient failures.
type RetryConfig struct {
	MaxAttempts   int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	BaseBackoffMs int `json:"base_backoff_ms,omitempty" yaml:"base_backoff_ms,omitempty"`
	JitterMs      int `json:"jitter_ms,omitempty" yaml:"jitter_ms,omitempty"`
}

// ExecutorConfig defines plan execution limits.
type ExecutorConfig struct {
	// MaxParallelAgents bounds concurrently running steps. 1 forces
	// sequential execution regardless of plan parallelism.
	MaxParallelAgents int `json:"max_parallel_agents,omitempty" yaml:"max_parallel_agents,omitempty"`
	// DefaultStepTimeoutMs applies to steps whose agent declares no timeout.
	DefaultStepTimeoutMs int `json:"default_step_timeout_ms,omitempty" yaml:"default_step_timeout_ms,omitempty"`
	// QueryDeadlineMs is the overall per-query budget. Zero means the
	// caller's context governs.
	QueryDeadlineMs int `json:"query_deadline_ms,omitempty" yaml:"query_deadline_ms,omitempty"`
	// FailurePolicy is "fail_fast" (default) or "best_effort".
	FailurePolicy string `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
}

// ValidatorConfig defines output validation behaviour.
type ValidatorConfig struct {
	Strict                  bool    `json:"strict,omitempty" yaml:"strict,omitempty"`
	RetryOnHallucination    bool    `json:"retry_on_hallucination,omitempty" yaml:"retry_on_hallucination,omitempty"`
	MaxRevalidationAttempts int     `json:"max_revalidation_attempts,omitempty" yaml:"max_revalidation_attempts,omitempty"`
	ConfidenceThreshold     float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty"`
}

// ReasonerConfig defines agent selection behaviour.
type ReasonerConfig struct {
	// Mode is "rule", "ai", or "hybrid" (default).
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	// RuleAcceptThreshold is the minimum rule confidence accepted without
	// falling through to the AI strategy.
	RuleAcceptThreshold float64 `json:"rule_accept_threshold,omitempty" yaml:"rule_accept_threshold,omitempty"`
	// Rules are evaluated in order by the rule strategy.
	Rules []RuleConfig `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// RuleConfig is one routing rule for the rule-based reasoner.
type RuleConfig struct {
	// Patterns are matched against the lowercased query; any match fires
	// the rule.
	Patterns []string `json:"patterns" yaml:"patterns"`
	// Action is "select" or "reject".
	Action string `json:"action" yaml:"action"`
	// Agents are selected when the action is "select".
	Agents []string `json:"agents,omitempty" yaml:"agents,omitempty"`
	// Parallel marks the selected agents as independently executable.
	Parallel bool `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	// Params are per-agent parameter templates.
	Params map[string]map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	// Confidence of this rule's decision, in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`
	// Reason is human-readable and lands in the audit trace.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// AuditConfig defines the per-query trace logger.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// SQLDriver is "sqlite" or "postgres"; empty disables the SQL mirror.
	SQLDriver string `json:"sql_driver,omitempty" yaml:"sql_driver,omitempty"`
	SQLDSN    string `json:"sql_dsn,omitempty" yaml:"sql_dsn,omitempty"`
}

// PluginConfig holds plugin configuration.
type PluginConfig struct {
	Name    string         `json:"name" yaml:"name"`
	Stage   string         `json:"stage" yaml:"stage"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Config  map[string]any `json:"config" yaml:"config"`
}

// RateLimitConfig defines HTTP-level rate limiting.
type RateLimitConfig struct {
	RPS   float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Failure policy constants for ExecutorConfig.FailurePolicy.
const (
	FailFast   = "fail_fast"
	BestEffort = "best_effort"
)

// Reasoner mode constants for ReasonerConfig.Mode.
const (
	ReasonerModeRule   = "rule"
	ReasonerModeAI     = "ai"
	ReasonerModeHybrid = "hybrid"
)

// DefaultConfig returns a Config with every tunable at its documented
// default.
func DefaultConfig() Config {
	return Config{
		Gateway: GatewayConfig{
			Fallback: FallbackConfig{Enabled: true},
		},
		Breaker: BreakerConfig{
			Threshold:  5,
			CooldownMs: 30000,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseBackoffMs: 100,
			JitterMs:      50,
		},
		Executor: ExecutorConfig{
			MaxParallelAgents:    8,
			DefaultStepTimeoutMs: 30000,
			FailurePolicy:        FailFast,
		},
		Validator: ValidatorConfig{
			MaxRevalidationAttempts: 1,
			ConfidenceThreshold:     0.5,
		},
		Reasoner: ReasonerConfig{
			Mode:                ReasonerModeHybrid,
			RuleAcceptThreshold: 0.7,
		},
		Audit: AuditConfig{
			Enabled: true,
			Dir:     "audit_logs",
		},
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Cooldown returns the configured cooldown as a Duration.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// BaseBackoff returns the configured base backoff as a Duration.
func (c RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMs) * time.Millisecond
}

// Jitter returns the configured jitter as a Duration.
func (c RetryConfig) Jitter() time.Duration {
	return time.Duration(c.JitterMs) * time.Millisecond
}

// DefaultStepTimeout returns the configured default step timeout as a
// Duration.
func (c ExecutorConfig) DefaultStepTimeout() time.Duration {
	return time.Duration(c.DefaultStepTimeoutMs) * time.Millisecond
}

// QueryDeadline returns the configured per-query budget as a Duration.
func (c ExecutorConfig) QueryDeadline() time.Duration {
	return time.Duration(c.QueryDeadlineMs) * time.Millisecond
}
