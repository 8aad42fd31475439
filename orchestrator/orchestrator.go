// Package orchestrator routes a natural-language query to registered
// agents: the reasoner selects agents, the planner derives a dependency
// DAG, the executor runs it under retry and breaker protection, the
// validator scores each output, and the consolidator assembles the final
// response. An audit trace observes the whole pipeline.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/audit"
	"github.com/relay-labs/agent-router/internal/breaker"
	"github.com/relay-labs/agent-router/internal/logging"
	"github.com/relay-labs/agent-router/internal/metrics"
)

// accountSpecificGuidance is the fixed user-facing message for rejected
// account-specific queries.
const accountSpecificGuidance = "This assistant cannot access personal account information. " +
	"Please contact your institution directly for account-specific questions."

// Query is one inbound orchestration request.
type Query struct {
	Text      string         `json:"query"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Options tunes a single query's handling.
type Options struct {
	// ReasoningMode overrides the configured reasoner mode when set.
	ReasoningMode string `json:"reasoning_mode,omitempty"`
	// MaxParallel overrides the configured parallelism bound when positive.
	MaxParallel int `json:"max_parallel,omitempty"`
	// DeadlineMs overrides the configured query deadline. Zero expires
	// the query immediately.
	DeadlineMs *int `json:"deadline_ms,omitempty"`
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	cfg      agentrouter.Config
	registry *agents.Registry
	reasoner *Reasoner
	planner  *Planner
	executor *Executor
	auditor  *audit.Logger
}

// New builds an orchestrator over the agent registry. gateway powers the
// AI reasoning strategy and may be nil; auditor may be nil to disable
// tracing.
func New(cfg agentrouter.Config, registry *agents.Registry, gateway GatewayClient, auditor *audit.Logger) *Orchestrator {
	breakers := breaker.NewSet(breaker.Settings{
		OpenThreshold: cfg.Breaker.Threshold,
		Cooldown:      cfg.Breaker.Cooldown(),
	})
	validator := NewValidator(cfg.Validator)
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		reasoner: NewReasoner(cfg.Reasoner, registry, gateway),
		planner:  NewPlanner(registry),
		executor: NewExecutor(cfg, registry, validator, breakers),
		auditor:  auditor,
	}
}

// Registry exposes the agent registry for the admin surface.
func (o *Orchestrator) Registry() *agents.Registry { return o.registry }

// BreakerSnapshots reports the state of every per-agent circuit breaker.
func (o *Orchestrator) BreakerSnapshots() map[string]breaker.Snapshot {
	return o.executor.breakers.Snapshots()
}

// Handle runs one query through reasoning, planning, execution, and
// consolidation. Reasoner and planner errors are terminal and returned;
// step failures are captured in the response. Audit failures never
// affect the outcome.
func (o *Orchestrator) Handle(ctx context.Context, q Query, opts Options) (*Response, error) {
	queryID := logging.QueryIDFromContext(ctx)
	if queryID == "" {
		queryID = logging.NewQueryID()
		ctx = logging.WithQueryID(ctx, queryID)
	}
	log := logging.FromContext(ctx)
	start := time.Now()

	trace := o.auditor.Open(queryID, q.Text)

	decision, err := o.reasoner.Reason(ctx, q.Text, opts.ReasoningMode)
	if err != nil {
		trace.Event(audit.KindError, map[string]any{
			"error": err.Error(),
			"kind":  Classify(err),
			"phase": "reasoning",
		})
		o.finish(trace, start, "error", nil)
		return nil, err
	}
	if call := decision.GatewayCall; call != nil {
		trace.Event(audit.KindToolInteraction, map[string]any{
			"tool":     "model_gateway",
			"call_id":  call.ID,
			"provider": call.Provider,
			"model":    call.Model,
			"attempts": len(call.Attempts),
		})
	}
	trace.Event(audit.KindReasoningDecision, map[string]any{
		"method":           decision.Method,
		"agents":           decision.Agents,
		"parallel":         decision.Parallel,
		"confidence":       decision.Confidence,
		"reasoning":        decision.Reasoning,
		"rejection_reason": decision.RejectionReason,
	})

	if decision.Method == MethodReject {
		resp := o.rejectResponse(decision)
		o.finish(trace, start, "rejected", resp)
		log.Info("query rejected",
			"reason", decision.RejectionReason,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, nil
	}

	plan, err := o.planner.Build(decision)
	if err != nil {
		trace.Event(audit.KindError, map[string]any{
			"error": err.Error(),
			"kind":  Classify(err),
			"phase": "planning",
		})
		o.finish(trace, start, "error", nil)
		return nil, err
	}

	execOpts := ExecuteOptions{
		Query:       q.Text,
		Context:     q.Context,
		MaxParallel: opts.MaxParallel,
		Trace:       trace,
	}
	if opts.DeadlineMs != nil {
		d := time.Duration(*opts.DeadlineMs) * time.Millisecond
		execOpts.Deadline = &d
	}

	steps, err := o.executor.Execute(ctx, plan, execOpts)
	if err != nil {
		trace.Event(audit.KindError, map[string]any{
			"error": err.Error(),
			"kind":  Classify(err),
			"phase": "execution",
		})
		o.finish(trace, start, "error", nil)
		return nil, err
	}

	resp := Consolidate(decision, steps)
	status := "ok"
	if !resp.Success {
		status = "partial"
	}
	o.finish(trace, start, status, resp)

	log.Info("query handled",
		"agents", resp.Metadata.AgentTrail,
		"successful", resp.Metadata.Successful,
		"failed", resp.Metadata.Failed,
		"parallel", resp.Metadata.Parallel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// rejectResponse builds the terminal response for a reject decision.
func (o *Orchestrator) rejectResponse(decision *Result) *Response {
	kind := KindNoRoute
	message := decision.RejectionReason
	if decision.RejectionReason == "account_specific" {
		kind = KindAccountSpecific
		message = accountSpecificGuidance
	}
	if message == "" {
		message = "no agent could handle this query"
	}
	return &Response{
		Errors: []ResponseError{{Kind: kind, Message: message}},
		Metadata: Metadata{
			AgentTrail: []string{},
			AgentsUsed: []string{},
			Reasoning:  decision.Reasoning,
		},
	}
}

// finish records query metrics and closes the audit trace.
func (o *Orchestrator) finish(trace *audit.Trace, start time.Time, status string, resp *Response) {
	metrics.QueriesTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())

	summary := audit.Summary{AgentsUsed: []string{}}
	if resp != nil {
		summary.Success = resp.Success
		summary.AgentCount = resp.Metadata.Count
		summary.AgentsUsed = resp.Metadata.AgentsUsed
		summary.ErrorCount = len(resp.Errors)
	} else {
		summary.ErrorCount = 1
	}
	o.auditor.Close(trace, summary)
}

// HTTPStatus maps a terminal pipeline error to the status code the HTTP
// surface returns for it.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNoRoute):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		var mp *MissingParamError
		if errors.As(err, &mp) || errors.Is(err, ErrPlanCycle) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}
