// Package wordfilter is a guardrail plugin that rejects generation
// requests whose messages contain blocked words or phrases. Register it
// with a blank import:
//
//	_ "github.com/relay-labs/agent-router/internal/plugins/wordfilter"
package wordfilter

import (
	"context"
	"strings"

	"github.com/relay-labs/agent-router/plugin"
)

func init() {
	plugin.RegisterFactory("word-filter", func() plugin.Plugin {
		return &WordFilter{}
	})
}

// WordFilter rejects requests that mention any configured blocked word.
// Matching is substring-based and case-insensitive unless case_sensitive
// is set.
type WordFilter struct {
	blocked       []string
	caseSensitive bool
}

func (w *WordFilter) Name() string      { return "word-filter" }
func (w *WordFilter) Type() plugin.Type { return plugin.TypeGuardrail }

// Init reads blocked_words (list of strings) and case_sensitive (bool).
// The blocked list is normalised once here so Execute only lowercases
// message content.
func (w *WordFilter) Init(config map[string]any) error {
	w.caseSensitive, _ = config["case_sensitive"].(bool)

	add := func(s string) {
		if !w.caseSensitive {
			s = strings.ToLower(s)
		}
		if s != "" {
			w.blocked = append(w.blocked, s)
		}
	}
	switch words := config["blocked_words"].(type) {
	case []any:
		for _, word := range words {
			if s, ok := word.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range words {
			add(s)
		}
	}
	return nil
}

// Execute scans every message and rejects the request on the first hit.
func (w *WordFilter) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Request == nil || len(w.blocked) == 0 {
		return nil
	}
	for _, msg := range pctx.Request.Messages {
		content := msg.Content
		if !w.caseSensitive {
			content = strings.ToLower(content)
		}
		for _, word := range w.blocked {
			if strings.Contains(content, word) {
				pctx.Reject = true
				pctx.Reason = "blocked word detected: " + word
				return nil
			}
		}
	}
	return nil
}
