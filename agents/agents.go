// Package agents maintains the registry of invokable agents: their
// descriptors, a capability index for O(1) lookup by tag, and the invoker
// implementations that carry requests to local, subprocess, and HTTP
// agents.
//
// The registry is snapshot-based: readers load an immutable snapshot via
// an atomic pointer and never block; mutations rebuild the snapshot and
// swap it in under a writer mutex.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for lookups and deregistrations of unknown
// agents.
var ErrNotFound = errors.New("agent not found")

// Descriptor describes one registered agent.
type Descriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Capabilities []string        `json:"capabilities"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	// RequiredFields must be present and non-empty in the agent's output.
	RequiredFields []string `json:"required_fields,omitempty"`
	// Privileged agents require human approval before side effects.
	Privileged bool `json:"privileged,omitempty"`
	// Timeout bounds a single invocation; zero uses the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`
	// MaxRetries overrides the executor retry budget; zero uses the default.
	MaxRetries int `json:"max_retries,omitempty"`
	// Invoker carries requests to the agent. Not serialized.
	Invoker Invoker `json:"-"`
}

// Validate checks a descriptor for registration.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("agent %s declares no capabilities", d.Name)
	}
	if d.Invoker == nil {
		return fmt.Errorf("agent %s has no invoker", d.Name)
	}
	return nil
}

// InvokeRequest is the uniform request shape sent to every agent.
type InvokeRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// Context carries upstream step outputs and caller-provided context.
	Context map[string]any `json:"context,omitempty"`
}

// InvokeResponse is the uniform response shape returned by every agent.
type InvokeResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	// RequiresApproval is set by privileged agents that need a human
	// sign-off before completing a side effect.
	RequiresApproval bool `json:"requires_approval,omitempty"`
}

// Invoker carries an InvokeRequest to an agent and returns its response.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)
}

// Healther is implemented by invokers that can be probed.
type Healther interface {
	Healthy(ctx context.Context) error
}

// InvokeError classifies an agent invocation failure. Transient failures
// (timeouts, connection errors, 5xx) are retried by the executor;
// permanent ones are not.
type InvokeError struct {
	Agent     string
	Cause     error
	Transient bool
}

func (e *InvokeError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("agent %s invocation failed (%s): %v", e.Agent, kind, e.Cause)
}

func (e *InvokeError) Unwrap() error { return e.Cause }

// TransientInvokeError wraps cause as a retryable agent failure.
func TransientInvokeError(agent string, cause error) *InvokeError {
	return &InvokeError{Agent: agent, Cause: cause, Transient: true}
}

// PermanentInvokeError wraps cause as a non-retryable agent failure.
func PermanentInvokeError(agent string, cause error) *InvokeError {
	return &InvokeError{Agent: agent, Cause: cause, Transient: false}
}

// IsTransient reports whether err is a retryable agent failure. Context
// deadline expiry is transient; other unclassified errors are not.
func IsTransient(err error) bool {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
