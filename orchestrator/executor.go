package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/audit"
	"github.com/relay-labs/agent-router/internal/breaker"
	"github.com/relay-labs/agent-router/internal/logging"
	"github.com/relay-labs/agent-router/internal/metrics"
	"github.com/relay-labs/agent-router/internal/retry"
)

// StepResult is the outcome of one plan step.
type StepResult struct {
	Agent      string         `json:"agent"`
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Err        error          `json:"-"`
	StartedAt  time.Time      `json:"started_at,omitzero"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
	Attempts   int            `json:"attempts"`
	Skipped    bool           `json:"skipped,omitempty"`
}

// ExecuteOptions carries per-query execution settings.
type ExecuteOptions struct {
	Query   string
	Context map[string]any
	// MaxParallel overrides the configured parallelism bound when positive.
	MaxParallel int
	// Deadline overrides the configured query deadline. Nil uses the
	// configuration; a non-positive value expires the query immediately.
	Deadline *time.Duration
	// Trace receives execution events; nil disables tracing.
	Trace *audit.Trace
}

// Executor runs plans as a DAG of tasks bounded by a semaphore. Each
// step's invocation is wrapped with the retry policy and a per-target
// circuit breaker, and its output is validated before dependents run.
type Executor struct {
	cfg       agentrouter.Config
	registry  *agents.Registry
	validator *Validator
	breakers  *breaker.Set
}

func NewExecutor(cfg agentrouter.Config, registry *agents.Registry, validator *Validator, breakers *breaker.Set) *Executor {
	return &Executor{
		cfg:       cfg,
		registry:  registry,
		validator: validator,
		breakers:  breakers,
	}
}

// Execute runs every step of the plan and returns one result per step,
// indexed like plan.Steps. Step failures are captured in the results;
// the returned error is non-nil only when the whole query could not run.
func (e *Executor) Execute(ctx context.Context, plan *Plan, opts ExecuteOptions) ([]StepResult, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("%w: empty plan", ErrBadRequest)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	switch {
	case opts.Deadline != nil:
		if *opts.Deadline <= 0 {
			return nil, context.DeadlineExceeded
		}
		ctx, cancel = context.WithTimeout(ctx, *opts.Deadline)
	case e.cfg.Executor.QueryDeadline() > 0:
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Executor.QueryDeadline())
	default:
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = e.cfg.Executor.MaxParallelAgents
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	failFast := e.cfg.Executor.FailurePolicy != agentrouter.BestEffort

	n := len(plan.Steps)
	results := make([]StepResult, n)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for i := range plan.Steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(done[i])
			step := plan.Steps[i]

			// Dependencies finish, successfully, before this step starts.
			for _, dep := range step.DependsOn {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					results[i] = e.unstarted(opts.Trace, step.Agent, ctx.Err())
					return
				}
				if !results[dep].Success {
					results[i] = e.unstarted(opts.Trace, step.Agent,
						fmt.Errorf("agent %s failed: %w", results[dep].Agent, ErrSkippedUpstream))
					return
				}
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = e.unstarted(opts.Trace, step.Agent, ctx.Err())
				return
			}
			res := e.runStep(ctx, plan, results, i, opts)
			sem.Release(1)

			results[i] = res
			if !res.Success && failFast {
				cancel()
			}
		}(i)
	}
	wg.Wait()

	return results, nil
}

// unstarted records a step that never ran.
func (e *Executor) unstarted(trace *audit.Trace, agent string, cause error) StepResult {
	metrics.StepsTotal.WithLabelValues(agent, "skipped").Inc()
	trace.Event(audit.KindError, map[string]any{
		"agent": agent,
		"error": cause.Error(),
		"kind":  Classify(cause),
		"phase": "scheduling",
	})
	return StepResult{Agent: agent, Err: cause, Skipped: true}
}

func (e *Executor) runStep(ctx context.Context, plan *Plan, results []StepResult, i int, opts ExecuteOptions) StepResult {
	step := plan.Steps[i]
	log := logging.FromContext(ctx)
	res := StepResult{Agent: step.Agent, StartedAt: time.Now()}
	finish := func() StepResult {
		res.FinishedAt = time.Now()
		status := "ok"
		if !res.Success {
			status = "error"
		}
		metrics.StepsTotal.WithLabelValues(step.Agent, status).Inc()
		metrics.StepDuration.WithLabelValues(step.Agent).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
		opts.Trace.Event(audit.KindAgentInteraction, map[string]any{
			"agent":       step.Agent,
			"success":     res.Success,
			"attempts":    res.Attempts,
			"duration_ms": res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		})
		if res.Err != nil {
			opts.Trace.Event(audit.KindError, map[string]any{
				"agent": step.Agent,
				"error": res.Err.Error(),
				"kind":  Classify(res.Err),
			})
		}
		return res
	}

	desc, ok := e.registry.Get(step.Agent)
	if !ok {
		res.Err = fmt.Errorf("agent %q: %w", step.Agent, agents.ErrNotFound)
		return finish()
	}

	params, err := e.resolveParams(step, results)
	if err != nil {
		res.Err = err
		return finish()
	}

	req := agents.InvokeRequest{
		Query:      opts.Query,
		Parameters: params,
		Context:    opts.Context,
	}

	output, attempts, err := e.invoke(ctx, desc, req, opts.Trace)
	res.Attempts = attempts
	if err != nil {
		res.Err = err
		return finish()
	}

	verdict := e.validator.Validate(CheckInput{
		Agent:   desc,
		Output:  output,
		Query:   opts.Query,
		Context: opts.Context,
	})
	opts.Trace.Event(audit.KindValidation, map[string]any{
		"agent":                  step.Agent,
		"is_valid":               verdict.IsValid,
		"confidence_score":       verdict.ConfidenceScore,
		"hallucination_detected": verdict.HallucinationDetected,
		"issues":                 verdict.Issues,
	})

	// A hallucination verdict triggers a bounded re-run of the step.
	reruns := 0
	for verdict.HallucinationDetected &&
		e.cfg.Validator.RetryOnHallucination &&
		reruns < e.cfg.Validator.MaxRevalidationAttempts {
		reruns++
		metrics.ValidationFailures.WithLabelValues(step.Agent, "hallucination").Inc()
		opts.Trace.Event(audit.KindRetryAttempt, map[string]any{
			"agent":  step.Agent,
			"reason": "hallucination",
			"rerun":  reruns,
		})
		log.Warn("re-running step after hallucination verdict",
			"agent", step.Agent,
			"rerun", reruns,
			"confidence", verdict.ConfidenceScore,
		)

		output, attempts, err = e.invoke(ctx, desc, req, opts.Trace)
		res.Attempts += attempts
		if err != nil {
			res.Err = err
			return finish()
		}
		verdict = e.validator.Validate(CheckInput{
			Agent:   desc,
			Output:  output,
			Query:   opts.Query,
			Context: opts.Context,
		})
		opts.Trace.Event(audit.KindValidation, map[string]any{
			"agent":                  step.Agent,
			"is_valid":               verdict.IsValid,
			"confidence_score":       verdict.ConfidenceScore,
			"hallucination_detected": verdict.HallucinationDetected,
			"issues":                 verdict.Issues,
		})
	}

	switch {
	case verdict.HallucinationDetected:
		metrics.ValidationFailures.WithLabelValues(step.Agent, "hallucination").Inc()
		res.Err = fmt.Errorf("agent %q output: %w", step.Agent, ErrHallucination)
	case !verdict.IsValid && e.cfg.Validator.Strict:
		metrics.ValidationFailures.WithLabelValues(step.Agent, "schema").Inc()
		res.Err = fmt.Errorf("agent %q output failed validation: %v", step.Agent, verdict.Issues)
	default:
		res.Success = true
		res.Output = output
	}
	return finish()
}

// resolveParams overlays propagated values from the producing step's
// output onto the step's planned parameters.
func (e *Executor) resolveParams(step Step, results []StepResult) (map[string]any, error) {
	params := make(map[string]any, len(step.Params))
	for k, v := range step.Params {
		params[k] = v
	}
	pf := step.PropagateFrom
	if pf == nil {
		return params, nil
	}
	source := normalize(results[pf.FromStep].Output)
	for param, path := range pf.Mappings {
		val, err := ExtractPath(source, path)
		if err != nil {
			return nil, fmt.Errorf("propagating %q from %s: %w",
				param, results[pf.FromStep].Agent, err)
		}
		params[param] = val
	}
	return params, nil
}

// invoke runs one agent call through the retry policy and the agent's
// circuit breaker, returning the output data and the attempt count.
func (e *Executor) invoke(ctx context.Context, desc agents.Descriptor, req agents.InvokeRequest, trace *audit.Trace) (map[string]any, int, error) {
	stepTimeout := desc.Timeout
	if stepTimeout <= 0 {
		stepTimeout = e.cfg.Executor.DefaultStepTimeout()
	}
	policy := retry.Policy{
		MaxAttempts: e.cfg.Retry.MaxAttempts,
		BaseBackoff: e.cfg.Retry.BaseBackoff(),
		Jitter:      e.cfg.Retry.Jitter(),
		Retryable:   agents.IsTransient,
	}
	if desc.MaxRetries > 0 {
		policy.MaxAttempts = desc.MaxRetries + 1
	}
	if e.cfg.Retry.JitterMs < 0 {
		policy.Jitter = -1
	}

	br := e.breakers.For("agent:" + desc.Name)
	target := "agent:" + desc.Name

	// The descriptor timeout bounds the whole step, retries and backoff
	// included. Each attempt gets an even share of the budget so one hung
	// attempt cannot starve its retries.
	attemptTimeout := stepTimeout
	if policy.MaxAttempts > 1 {
		attemptTimeout = stepTimeout / time.Duration(policy.MaxAttempts)
	}
	stepCtx, cancelStep := context.WithTimeout(ctx, stepTimeout)
	defer cancelStep()

	var output map[string]any
	attempts := 0
	err := retry.Do(stepCtx, policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if attempt > 1 {
			trace.Event(audit.KindRetryAttempt, map[string]any{
				"agent":   desc.Name,
				"attempt": attempt,
			})
		}
		if !br.Allow() {
			metrics.BreakerState.WithLabelValues(target).Set(float64(br.State()))
			return fmt.Errorf("agent %q: %w", desc.Name, breaker.ErrOpen)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		resp, err := desc.Invoker.Invoke(attemptCtx, req)
		if err != nil {
			br.RecordFailure()
			metrics.BreakerState.WithLabelValues(target).Set(float64(br.State()))
			return err
		}
		if !resp.Success {
			br.RecordFailure()
			metrics.BreakerState.WithLabelValues(target).Set(float64(br.State()))
			return agents.PermanentInvokeError(desc.Name, errors.New(resp.Error))
		}
		br.RecordSuccess()
		metrics.BreakerState.WithLabelValues(target).Set(float64(br.State()))
		output = resp.Data
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return output, attempts, nil
}
