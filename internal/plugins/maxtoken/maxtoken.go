// Package maxtoken provides a guardrail plugin that clamps max_tokens and
// bounds input size on outgoing generation requests. Register it with a
// blank import:
//
//	_ "github.com/relay-labs/agent-router/internal/plugins/maxtoken"
package maxtoken

import (
	"context"
	"fmt"

	"github.com/relay-labs/agent-router/plugin"
)

func init() {
	plugin.RegisterFactory("max-token", func() plugin.Plugin {
		return &MaxToken{}
	})
}

// MaxToken clamps the max_tokens field to a configured ceiling and rejects
// requests whose total input exceeds a configured length.
type MaxToken struct {
	maxTokens   int
	maxMessages int
	maxInputLen int
}

// Name returns the plugin identifier.
func (m *MaxToken) Name() string { return "max-token" }

// Type returns the plugin category.
func (m *MaxToken) Type() plugin.Type { return plugin.TypeGuardrail }

// Init configures the plugin from the provided options map.
func (m *MaxToken) Init(config map[string]any) error {
	m.maxTokens = intOption(config, "max_tokens", 4096)
	m.maxMessages = intOption(config, "max_messages", 100)
	m.maxInputLen = intOption(config, "max_input_length", 0) // 0 = no limit
	return nil
}

func intOption(config map[string]any, key string, def int) int {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	}
	return def
}

// Execute runs the plugin logic for the current request context.
func (m *MaxToken) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Request == nil {
		return nil
	}

	// Clamp rather than reject: callers asking for more tokens than the
	// ceiling get the ceiling.
	if pctx.Request.MaxTokens != nil && *pctx.Request.MaxTokens > m.maxTokens {
		capped := m.maxTokens
		pctx.Request.MaxTokens = &capped
	}

	if len(pctx.Request.Messages) > m.maxMessages {
		pctx.Reject = true
		pctx.Reason = fmt.Sprintf("message count %d exceeds limit of %d", len(pctx.Request.Messages), m.maxMessages)
		return nil
	}

	if m.maxInputLen > 0 {
		totalLen := 0
		for _, msg := range pctx.Request.Messages {
			totalLen += len(msg.Content)
		}
		if totalLen > m.maxInputLen {
			pctx.Reject = true
			pctx.Reason = fmt.Sprintf("total input length %d exceeds limit of %d", totalLen, m.maxInputLen)
			return nil
		}
	}

	return nil
}
