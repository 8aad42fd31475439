package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/internal/breaker"
)

// Sentinel errors surfaced by the orchestration pipeline.
var (
	// ErrBadRequest marks malformed input; never retried.
	ErrBadRequest = errors.New("bad request")
	// ErrNoRoute is returned when no agent could be selected and no
	// reject rule applied.
	ErrNoRoute = errors.New("no route found for query")
	// ErrAccountSpecific is returned when the intent classifier rejects
	// a query about the caller's personal account state.
	ErrAccountSpecific = errors.New("account-specific query rejected")
	// ErrPlanCycle marks a plan whose dependencies are not a DAG.
	ErrPlanCycle = errors.New("execution plan contains a dependency cycle")
	// ErrHallucination marks a step output still flagged after all
	// revalidation attempts.
	ErrHallucination = errors.New("hallucination detected in agent output")
	// ErrSkippedUpstream marks a step skipped because a predecessor
	// failed.
	ErrSkippedUpstream = errors.New("step skipped due to upstream failure")
)

// MissingParamError reports a required parameter absent after propagation
// overlay.
type MissingParamError struct {
	Step  int
	Agent string
	Field string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("step %d (%s): missing required parameter %q", e.Step, e.Agent, e.Field)
}

// ErrorKind is the taxonomy label attached to user-visible errors.
type ErrorKind string

// Error kinds surfaced in responses and audit traces.
const (
	KindBadRequest       ErrorKind = "BadRequest"
	KindNoRoute          ErrorKind = "NoRouteFound"
	KindAccountSpecific  ErrorKind = "AccountSpecificRejected"
	KindMissingParam     ErrorKind = "MissingParam"
	KindPlanCycle        ErrorKind = "PlanCycle"
	KindBreakerOpen      ErrorKind = "BreakerOpen"
	KindTransient        ErrorKind = "Transient"
	KindPermanent        ErrorKind = "Permanent"
	KindHallucination    ErrorKind = "HallucinationDetected"
	KindCancelled        ErrorKind = "Cancelled"
	KindDeadlineExceeded ErrorKind = "DeadlineExceeded"
	KindSkipped          ErrorKind = "SkippedDueToUpstream"
	KindInternal         ErrorKind = "Internal"
)

// Classify maps an error to its taxonomy kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrNoRoute), errors.Is(err, agents.ErrNotFound):
		return KindNoRoute
	case errors.Is(err, ErrAccountSpecific):
		return KindAccountSpecific
	case errors.Is(err, ErrPlanCycle):
		return KindPlanCycle
	case errors.Is(err, ErrHallucination):
		return KindHallucination
	case errors.Is(err, ErrSkippedUpstream):
		return KindSkipped
	case errors.Is(err, breaker.ErrOpen):
		return KindBreakerOpen
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	var mp *MissingParamError
	if errors.As(err, &mp) {
		return KindMissingParam
	}
	var ie *agents.InvokeError
	if errors.As(err, &ie) {
		if ie.Transient {
			return KindTransient
		}
		return KindPermanent
	}
	return KindInternal
}

// IsTransient reports whether err is worth retrying at the step level.
// BreakerOpen counts as transient for upstream decisions but is never
// retried within the same call.
func IsTransient(err error) bool {
	if errors.Is(err, breaker.ErrOpen) {
		return true
	}
	return Classify(err) == KindTransient
}
