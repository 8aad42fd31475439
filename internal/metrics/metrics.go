// Package metrics registers the Prometheus metrics used by the router.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway-side counters and histograms.
var (
	// GenerationsTotal counts completed generation calls labelled by provider,
	// model, and outcome ("success", "error", "rejected").
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_generations_total",
			Help: "Total number of generation calls processed by the gateway.",
		},
		[]string{"provider", "model", "status"},
	)

	// GenerationDuration observes end-to-end generation latency in seconds.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_generation_duration_seconds",
			Help:    "End-to-end generation call duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	// ProviderAttempts counts individual provider attempts within a gateway
	// call, labelled by provider and outcome ("ok", "error").
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_provider_attempts_total",
			Help: "Total provider attempts, including fallback attempts.",
		},
		[]string{"provider", "outcome"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tokens_input_total",
			Help: "Total input tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tokens_output_total",
			Help: "Total output tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// ProviderErrors counts errors broken down by provider and error kind
	// ("transient", "permanent", "circuit_open", "timeout").
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_provider_errors_total",
			Help: "Total provider errors by kind.",
		},
		[]string{"provider", "error_kind"},
	)

	// GenerationCostUSD accumulates estimated spend per provider and model,
	// computed from the model catalog.
	GenerationCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_generation_cost_usd_total",
			Help: "Estimated cumulative generation cost in USD.",
		},
		[]string{"provider", "model"},
	)
)

// Breaker state gauges, shared by provider and agent targets.
var (
	// BreakerState tracks per-target circuit breaker state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_circuit_breaker_state",
			Help: "Circuit breaker state per target (0=closed 1=open 2=half_open).",
		},
		[]string{"target"},
	)
)

// Orchestrator-side counters and histograms.
var (
	// QueriesTotal counts orchestrated queries labelled by outcome
	// ("success", "partial", "rejected", "error").
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_queries_total",
			Help: "Total queries handled by the orchestrator.",
		},
		[]string{"status"},
	)

	// QueryDuration observes end-to-end query latency in seconds.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_query_duration_seconds",
			Help:    "End-to-end query duration in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// StepsTotal counts executed plan steps labelled by agent and outcome
	// ("success", "error", "skipped", "cancelled").
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_steps_total",
			Help: "Total plan steps executed, by agent and outcome.",
		},
		[]string{"agent", "status"},
	)

	// StepDuration observes per-step execution latency in seconds.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_step_duration_seconds",
			Help:    "Per-step agent invocation duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"agent"},
	)

	// ValidationFailures counts validator rejections labelled by agent and
	// reason ("schema", "required_field", "hallucination", "confidence").
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_validation_failures_total",
			Help: "Total validation failures by agent and reason.",
		},
		[]string{"agent", "reason"},
	)

	// ReasoningDecisions counts reasoner outcomes labelled by method
	// ("rule", "ai", "hybrid", "reject").
	ReasoningDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_reasoning_decisions_total",
			Help: "Total reasoning decisions by method.",
		},
		[]string{"method"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit
	// middleware, labelled by key_type ("ip", "api_key").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
