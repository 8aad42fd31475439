package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/providers"
)

// GatewayClient is the slice of the gateway the AI strategy needs.
// *agentrouter.Gateway satisfies it.
type GatewayClient interface {
	Generate(ctx context.Context, req agentrouter.GenerateRequest) (*providers.Response, *agentrouter.GatewayCall, error)
}

// decisionSchema constrains the model's routing decision. Responses that
// fail validation are discarded rather than repaired.
const decisionSchema = `{
	"type": "object",
	"required": ["agents", "confidence"],
	"properties": {
		"agents": {"type": "array", "items": {"type": "string"}},
		"parameters": {"type": "object"},
		"parallel": {"type": "boolean"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string"}
	}
}`

var compiledDecisionSchema = jsonschema.MustCompileString("decision.json", decisionSchema)

const reasonerSystemPrompt = `You are a routing engine. Given a user query and a list of
available agents, decide which agents should handle the query. Respond with a single JSON
object and nothing else:
{"agents": [...], "parameters": {"<agent>": {...}}, "parallel": true|false,
 "confidence": 0.0-1.0, "reasoning": "..."}
Select an empty agents list if no agent fits. A parameter value "$<agent>.<field>" refers
to another selected agent's output field.`

type aiStrategy struct {
	gateway  GatewayClient
	registry *agents.Registry
}

func newAIStrategy(gateway GatewayClient, registry *agents.Registry) *aiStrategy {
	return &aiStrategy{gateway: gateway, registry: registry}
}

func (s *aiStrategy) reason(ctx context.Context, query string) (*Result, error) {
	resp, call, err := s.gateway.Generate(ctx, agentrouter.GenerateRequest{
		Request: providers.Request{
			Messages: []providers.Message{
				{Role: providers.RoleSystem, Content: reasonerSystemPrompt + "\n\nAvailable agents:\n" + s.agentSummary()},
				{Role: providers.RoleUser, Content: query},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning generation: %w", err)
	}

	raw, ok := firstJSONObject(resp.Content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var loose any
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, fmt.Errorf("decode routing decision: %w", err)
	}
	if err := compiledDecisionSchema.Validate(loose); err != nil {
		return nil, fmt.Errorf("routing decision schema: %w", err)
	}

	var decision struct {
		Agents     []string                  `json:"agents"`
		Parameters map[string]map[string]any `json:"parameters"`
		Parallel   bool                      `json:"parallel"`
		Confidence float64                   `json:"confidence"`
		Reasoning  string                    `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, fmt.Errorf("decode routing decision: %w", err)
	}

	// Discard agents the model invented.
	known := decision.Agents[:0]
	for _, name := range decision.Agents {
		if _, ok := s.registry.Get(name); ok {
			known = append(known, name)
		}
	}
	if len(known) == 0 {
		return &Result{
			Method:          MethodReject,
			Confidence:      decision.Confidence,
			RejectionReason: "no_matching_agent",
			Reasoning:       decision.Reasoning,
			GatewayCall:     call,
		}, nil
	}

	return &Result{
		Agents:      known,
		Parameters:  decision.Parameters,
		Parallel:    decision.Parallel,
		Confidence:  decision.Confidence,
		Method:      MethodAI,
		Reasoning:   decision.Reasoning,
		GatewayCall: call,
	}, nil
}

// agentSummary renders one line per registered agent for the prompt.
// List is already name-sorted, so the output is stable.
func (s *aiStrategy) agentSummary() string {
	descs := s.registry.List()
	var b strings.Builder
	for _, d := range descs {
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if len(d.Capabilities) > 0 {
			fmt.Fprintf(&b, " (capabilities: %s)", strings.Join(d.Capabilities, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// firstJSONObject extracts the first balanced top-level JSON object from
// text, tolerating prose or code fences around it.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
