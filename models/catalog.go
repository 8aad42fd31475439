// Package models provides a small model catalog (pricing and context
// metadata for the models the router fronts) and a cost calculator used
// by the gateway to attribute spend per generation.
package models

import "strings"

// Catalog is a flat map of "provider/model-id" → Model.
type Catalog map[string]Model

// Model holds metadata for a single model.
type Model struct {
	Provider      string  `json:"provider"`
	ModelID       string  `json:"model_id"`
	DisplayName   string  `json:"display_name"`
	ContextWindow int     `json:"context_window"`
	Pricing       Pricing `json:"pricing"`
}

// Pricing holds cost per million tokens in USD. A nil field means pricing
// is unknown for that component, not free.
type Pricing struct {
	InputPerMTokens  *float64 `json:"input_per_m_tokens"`
	OutputPerMTokens *float64 `json:"output_per_m_tokens"`
}

func price(v float64) *float64 { return &v }

// Builtin returns the catalog shipped with the binary. Local models carry
// explicit zero pricing.
func Builtin() Catalog {
	return Catalog{
		"openai/gpt-4o": {
			Provider: "openai", ModelID: "gpt-4o", DisplayName: "GPT-4o",
			ContextWindow: 128000,
			Pricing:       Pricing{InputPerMTokens: price(2.50), OutputPerMTokens: price(10.00)},
		},
		"openai/gpt-4o-mini": {
			Provider: "openai", ModelID: "gpt-4o-mini", DisplayName: "GPT-4o mini",
			ContextWindow: 128000,
			Pricing:       Pricing{InputPerMTokens: price(0.15), OutputPerMTokens: price(0.60)},
		},
		"anthropic/claude-sonnet-4-20250514": {
			Provider: "anthropic", ModelID: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4",
			ContextWindow: 200000,
			Pricing:       Pricing{InputPerMTokens: price(3.00), OutputPerMTokens: price(15.00)},
		},
		"anthropic/claude-3-5-haiku-20241022": {
			Provider: "anthropic", ModelID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku",
			ContextWindow: 200000,
			Pricing:       Pricing{InputPerMTokens: price(0.80), OutputPerMTokens: price(4.00)},
		},
		"bedrock/anthropic.claude-3-5-sonnet-20241022-v2:0": {
			Provider: "bedrock", ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0", DisplayName: "Claude 3.5 Sonnet (Bedrock)",
			ContextWindow: 200000,
			Pricing:       Pricing{InputPerMTokens: price(3.00), OutputPerMTokens: price(15.00)},
		},
		"bedrock/amazon.titan-text-express-v1": {
			Provider: "bedrock", ModelID: "amazon.titan-text-express-v1", DisplayName: "Titan Text Express",
			ContextWindow: 8000,
			Pricing:       Pricing{InputPerMTokens: price(0.20), OutputPerMTokens: price(0.60)},
		},
		"ollama/llama3.2": {
			Provider: "ollama", ModelID: "llama3.2", DisplayName: "Llama 3.2 (local)",
			ContextWindow: 128000,
			Pricing:       Pricing{InputPerMTokens: price(0), OutputPerMTokens: price(0)},
		},
	}
}

// Get looks up a model by "provider/model-id" key, falling back to a scan
// by bare model ID.
func (c Catalog) Get(key string) (Model, bool) {
	if m, ok := c[key]; ok {
		return m, true
	}
	if strings.Contains(key, "/") {
		return Model{}, false
	}
	for _, m := range c {
		if m.ModelID == key {
			return m, true
		}
	}
	return Model{}, false
}
