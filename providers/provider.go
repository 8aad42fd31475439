// Package providers defines the Provider interface and shared data types
// used across all generation provider adapters.
//
// The Provider interface must be implemented by any upstream model service
// that integrates with the gateway. Adapters translate between the common
// message shape and the provider's native API, and normalise responses to
// the Response type so the rest of the system never sees provider-specific
// payloads.
package providers

import (
	"context"
	"strings"
	"time"
)

// Message role constants shared by all providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Health status constants reported by HealthCheck.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Provider defines the interface that all generation providers implement.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
	HealthCheck(ctx context.Context) Health
	SupportedModels() []string
	SupportsModel(model string) bool
}

// Message represents a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents a generation request in the common shape.
type Request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Validate returns an error if the request is missing required fields or
// contains out-of-range parameter values.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return errAtLeastOneMessage
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return errUnknownRole
		}
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return errMaxTokensPositive
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errTemperatureRange
	}
	return nil
}

// Usage carries token consumption statistics.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a generation response normalised across providers.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason"`
	LatencyMs    int64  `json:"latency_ms"`
}

// Health is the result of a provider health probe.
type Health struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// FoldSystem merges system messages into the first user message for
// providers that lack a dedicated system channel. The system text is
// prefixed to the first user message; if there is no user message, the
// system text becomes one. Message order is otherwise preserved.
func FoldSystem(messages []Message) []Message {
	var systemParts []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if len(systemParts) == 0 {
		return rest
	}
	prefix := strings.Join(systemParts, "\n")
	for i, m := range rest {
		if m.Role == RoleUser {
			rest[i].Content = prefix + "\n\n" + m.Content
			return rest
		}
	}
	return append([]Message{{Role: RoleUser, Content: prefix}}, rest...)
}

// probe runs fn once, timing it, and converts the outcome into a Health.
// Adapters use this to keep HealthCheck implementations uniform.
func probe(ctx context.Context, fn func(ctx context.Context) error) Health {
	start := time.Now()
	err := fn(ctx)
	h := Health{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.Status = StatusUnhealthy
		h.Error = err.Error()
	}
	return h
}
