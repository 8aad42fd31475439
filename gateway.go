// Package agentrouter provides an agent request router: a model gateway
// that fronts multiple LLM providers with fallback and circuit breaking,
// and the configuration surface shared by the orchestration packages.
//
// The Gateway type is the entry point for generation traffic: create one
// with New, register providers on its Registry, load plugins from config
// with LoadPlugins, and call Generate. Provider failures walk a configured
// fallback chain; per-provider circuit breakers shed load from targets
// that keep failing.
package agentrouter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relay-labs/agent-router/internal/breaker"
	"github.com/relay-labs/agent-router/internal/logging"
	"github.com/relay-labs/agent-router/internal/metrics"
	"github.com/relay-labs/agent-router/models"
	"github.com/relay-labs/agent-router/plugin"
	"github.com/relay-labs/agent-router/providers"
)

// EventHookFunc is called asynchronously after a gateway event (generation
// completed or failed).
type EventHookFunc func(ctx context.Context, subject string, data map[string]any)

// Event subject constants used when invoking gateway hooks.
const (
	SubjectGenerationCompleted = "gateway.generation.completed"
	SubjectGenerationFailed    = "gateway.generation.failed"
)

// GenerateRequest is a generation request addressed to the gateway rather
// than a specific adapter. Provider names the preferred provider; when it
// is empty the fallback order supplies the first candidate.
type GenerateRequest struct {
	providers.Request
	Provider string `json:"provider,omitempty"`
}

// ProviderAttempt records one provider invocation within a gateway call.
type ProviderAttempt struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// GatewayCall is the per-call telemetry returned alongside a generation
// response so audit traces can absorb attempt-level detail.
type GatewayCall struct {
	ID       string            `json:"id"`
	Provider string            `json:"provider,omitempty"`
	Model    string            `json:"model,omitempty"`
	Attempts []ProviderAttempt `json:"attempts"`
}

// AllProvidersFailed is returned when every candidate in the fallback chain
// was tried (or skipped) without producing a response.
type AllProvidersFailed struct {
	Attempts []ProviderAttempt
}

func (e *AllProvidersFailed) Error() string {
	if len(e.Attempts) == 0 {
		return "no providers available for request"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("all %d provider attempts failed, last: %s: %s",
		len(e.Attempts), last.Provider, last.Error)
}

// Gateway routes generation requests across registered providers.
type Gateway struct {
	mu       sync.RWMutex
	config   Config
	registry *providers.Registry
	breakers *breaker.Set
	plugins  *plugin.Manager
	catalog  models.Catalog
	hooks    []EventHookFunc
}

// New creates a Gateway with the given configuration. Providers are
// registered on Registry() before serving traffic.
func New(cfg Config) (*Gateway, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Gateway{
		config:   cfg,
		registry: providers.NewRegistry(),
		breakers: breaker.NewSet(breaker.Settings{
			OpenThreshold: cfg.Breaker.Threshold,
			Cooldown:      cfg.Breaker.Cooldown(),
		}),
		plugins: plugin.NewManager(),
		catalog: models.Builtin(),
	}, nil
}

// Registry returns the provider registry backing this gateway.
func (g *Gateway) Registry() *providers.Registry { return g.registry }

// RegisterProvider registers a provider with the gateway.
func (g *Gateway) RegisterProvider(p providers.Provider) {
	g.registry.Register(p)
}

// RegisterPlugin registers a plugin at the given lifecycle stage.
func (g *Gateway) RegisterPlugin(stage plugin.Stage, p plugin.Plugin) error {
	return g.plugins.Register(stage, p)
}

// AddHook registers an EventHookFunc invoked asynchronously on each
// completed or failed generation. Multiple hooks may be registered.
func (g *Gateway) AddHook(fn EventHookFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// LoadPlugins initialises and registers plugins from the gateway
// configuration.
func (g *Gateway) LoadPlugins() error {
	for _, pc := range g.config.Plugins {
		if !pc.Enabled {
			continue
		}
		factory, ok := plugin.GetFactory(pc.Name)
		if !ok {
			return fmt.Errorf("unknown plugin: %s", pc.Name)
		}
		p := factory()
		if err := p.Init(pc.Config); err != nil {
			return fmt.Errorf("plugin %s init failed: %w", pc.Name, err)
		}
		if err := g.RegisterPlugin(plugin.Stage(pc.Stage), p); err != nil {
			return fmt.Errorf("plugin %s register failed: %w", pc.Name, err)
		}
	}
	return nil
}

// attemptOrder builds the candidate provider list for a call: the preferred
// provider first, then the configured fallback order, deduplicated in
// insertion order and truncated to MaxAttempts.
func (g *Gateway) attemptOrder(preferred string) []string {
	fb := g.config.Gateway.Fallback

	var order []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		order = append(order, name)
	}

	add(preferred)
	if fb.Enabled {
		for _, name := range fb.Order {
			add(name)
		}
	}
	if fb.MaxAttempts > 0 && len(order) > fb.MaxAttempts {
		order = order[:fb.MaxAttempts]
	}
	return order
}

// Generate routes a generation request through the fallback chain. The
// returned GatewayCall carries one ProviderAttempt per invocation; breaker-
// open candidates are skipped without being recorded. Every failure moves
// to the next candidate until the chain is exhausted.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (*providers.Response, *GatewayCall, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	call := &GatewayCall{
		ID:    uuid.NewString(),
		Model: req.Model,
	}

	if err := req.Request.Validate(); err != nil {
		metrics.GenerationsTotal.WithLabelValues(req.Provider, req.Model, "rejected").Inc()
		return nil, call, fmt.Errorf("invalid generation request: %w", err)
	}

	// Before-request plugins may rewrite or reject the request.
	pctx := plugin.NewContext(&req.Request)
	if g.plugins.HasPlugins() {
		if err := g.plugins.RunBefore(ctx, pctx); err != nil {
			metrics.GenerationsTotal.WithLabelValues(req.Provider, req.Model, "rejected").Inc()
			return nil, call, err
		}
		req.Request = *pctx.Request
	}

	order := g.attemptOrder(req.Provider)
	if len(order) == 0 {
		return nil, call, &AllProvidersFailed{}
	}

	for _, name := range order {
		p, ok := g.registry.Get(name)
		if !ok {
			log.Warn("provider not registered, skipping", "provider", name)
			continue
		}
		if req.Model != "" && !p.SupportsModel(req.Model) {
			log.Warn("provider does not support model, skipping",
				"provider", name, "model", req.Model)
			continue
		}

		br := g.breakers.For(name)
		if !br.Allow() {
			metrics.ProviderErrors.WithLabelValues(name, "circuit_open").Inc()
			metrics.BreakerState.WithLabelValues(name).Set(float64(br.State()))
			log.Warn("circuit breaker open, skipping provider", "provider", name)
			continue
		}

		attemptStart := time.Now()
		resp, err := p.Generate(ctx, req.Request)
		attempt := ProviderAttempt{
			Provider:  name,
			Model:     req.Model,
			LatencyMs: time.Since(attemptStart).Milliseconds(),
		}

		if err == nil {
			br.RecordSuccess()
			metrics.BreakerState.WithLabelValues(name).Set(float64(br.State()))
			attempt.OK = true
			attempt.Model = resp.Model
			call.Attempts = append(call.Attempts, attempt)
			call.Provider = name
			call.Model = resp.Model
			resp.Provider = name
			metrics.ProviderAttempts.WithLabelValues(name, "ok").Inc()
			g.finishSuccess(ctx, call, resp, time.Since(start))
			return resp, call, nil
		}

		br.RecordFailure()
		metrics.BreakerState.WithLabelValues(name).Set(float64(br.State()))

		attempt.Error = err.Error()
		attempt.ErrorKind = errorKind(err)
		call.Attempts = append(call.Attempts, attempt)
		metrics.ProviderAttempts.WithLabelValues(name, "error").Inc()
		metrics.ProviderErrors.WithLabelValues(name, attempt.ErrorKind).Inc()
		log.Warn("provider attempt failed",
			"provider", name,
			"error_kind", attempt.ErrorKind,
			"error", err.Error(),
		)

		// Permanent failures are provider-scoped (a bad key on one target
		// says nothing about the next), so the chain continues. Only a
		// dead caller context stops it early.
		if ctx.Err() != nil {
			break
		}
	}

	err := &AllProvidersFailed{Attempts: call.Attempts}
	latency := time.Since(start)

	if g.plugins.HasPlugins() {
		pctx.Error = err
		g.plugins.RunOnError(ctx, pctx)
	}
	metrics.GenerationsTotal.WithLabelValues(call.Provider, req.Model, "error").Inc()
	log.Error("generation failed",
		"model", req.Model,
		"attempts", len(call.Attempts),
		"latency_ms", latency.Milliseconds(),
		"error", err.Error(),
	)
	g.publishEvent(ctx, SubjectGenerationFailed, map[string]any{
		"call_id":    call.ID,
		"query_id":   logging.QueryIDFromContext(ctx),
		"model":      req.Model,
		"attempts":   len(call.Attempts),
		"error":      err.Error(),
		"latency_ms": latency.Milliseconds(),
		"timestamp":  time.Now(),
	})
	return nil, call, err
}

// finishSuccess emits the metrics, logs, plugins, and hooks that accompany
// a successful generation.
func (g *Gateway) finishSuccess(ctx context.Context, call *GatewayCall, resp *providers.Response, latency time.Duration) {
	log := logging.FromContext(ctx)

	if g.plugins.HasPlugins() {
		pctx := plugin.NewContext(nil)
		pctx.Response = resp
		g.plugins.RunAfter(ctx, pctx)
	}

	metrics.GenerationDuration.WithLabelValues(resp.Provider, resp.Model).Observe(latency.Seconds())
	metrics.GenerationsTotal.WithLabelValues(resp.Provider, resp.Model, "success").Inc()
	metrics.TokensInput.WithLabelValues(resp.Provider, resp.Model).Add(float64(resp.Usage.InputTokens))
	metrics.TokensOutput.WithLabelValues(resp.Provider, resp.Model).Add(float64(resp.Usage.OutputTokens))

	cost := models.Calculate(g.catalog, resp.Provider+"/"+resp.Model, models.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})
	if cost.TotalUSD > 0 {
		metrics.GenerationCostUSD.WithLabelValues(resp.Provider, resp.Model).Add(cost.TotalUSD)
	}

	log.Info("generation completed",
		"provider", resp.Provider,
		"model", resp.Model,
		"attempts", len(call.Attempts),
		"latency_ms", latency.Milliseconds(),
		"tokens_in", resp.Usage.InputTokens,
		"tokens_out", resp.Usage.OutputTokens,
		"cost_usd", cost.TotalUSD,
	)

	g.publishEvent(ctx, SubjectGenerationCompleted, map[string]any{
		"call_id":    call.ID,
		"query_id":   logging.QueryIDFromContext(ctx),
		"provider":   resp.Provider,
		"model":      resp.Model,
		"attempts":   len(call.Attempts),
		"latency_ms": latency.Milliseconds(),
		"tokens_in":  resp.Usage.InputTokens,
		"tokens_out": resp.Usage.OutputTokens,
		"cost_usd":   cost.TotalUSD,
		"timestamp":  time.Now(),
	})
}

// publishEvent calls all registered hooks asynchronously.
func (g *Gateway) publishEvent(ctx context.Context, subject string, data map[string]any) {
	g.mu.RLock()
	hooks := make([]EventHookFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	for _, h := range hooks {
		go h(ctx, subject, data)
	}
}

// errorKind classifies an error for metrics and attempt records.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if providers.IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// Health fans out HealthCheck to every registered provider with a short
// per-provider timeout.
func (g *Gateway) Health(ctx context.Context) map[string]providers.Health {
	return g.registry.HealthAll(ctx, 5*time.Second)
}

// BreakerSnapshots exposes the current breaker state per provider target.
func (g *Gateway) BreakerSnapshots() map[string]breaker.Snapshot {
	return g.breakers.Snapshots()
}

// GetConfig returns a copy of the gateway configuration.
func (g *Gateway) GetConfig() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}
