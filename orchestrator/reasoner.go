package orchestrator

import (
	"context"
	"fmt"
	"strings"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/internal/logging"
	"github.com/relay-labs/agent-router/internal/metrics"
)

// Reasoning methods recorded on a Result.
const (
	MethodRule   = "rule"
	MethodAI     = "ai"
	MethodHybrid = "hybrid"
	MethodReject = "reject"
)

// Result is the reasoner's decision for one query.
//
// Invariant: Method == MethodReject exactly when Agents is empty. An
// empty selection is always expressed as a reject, and a reject never
// lists agents.
type Result struct {
	Agents          []string                  `json:"agents"`
	Parameters      map[string]map[string]any `json:"parameters,omitempty"`
	Parallel        bool                      `json:"parallel"`
	Confidence      float64                   `json:"confidence"`
	Method          string                    `json:"method"`
	Reasoning       string                    `json:"reasoning,omitempty"`
	RejectionReason string                    `json:"rejection_reason,omitempty"`

	// GatewayCall records the model gateway call behind an AI decision.
	// Nil for rule decisions.
	GatewayCall *agentrouter.GatewayCall `json:"-"`
}

// Intent classifier word lists. A query is account-specific when a
// possessive indicator co-occurs with a financial term.
var (
	possessiveIndicators = []string{"my", "mine", "i", "me", "our"}
	financialTerms       = []string{
		"balance", "transaction", "account", "card", "loan",
		"mortgage", "payment", "investment", "portfolio",
	}
)

// tokenize lowercases and splits a query on non-alphanumeric boundaries.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// isAccountSpecific reports whether a query refers to the caller's
// personal account state.
func isAccountSpecific(text string) bool {
	tokens := tokenize(text)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	possessive := false
	for _, w := range possessiveIndicators {
		if set[w] {
			possessive = true
			break
		}
	}
	if !possessive {
		return false
	}
	for _, w := range financialTerms {
		if set[w] {
			return true
		}
	}
	return false
}

// Reasoner selects agents for a query using the configured strategy mix.
type Reasoner struct {
	cfg      agentrouter.ReasonerConfig
	rules    []rule
	registry *agents.Registry
	ai       *aiStrategy
}

// NewReasoner builds a reasoner over the agent registry. gateway may be
// nil, in which case the AI strategy is unavailable and hybrid mode
// degrades to rule-only.
func NewReasoner(cfg agentrouter.ReasonerConfig, registry *agents.Registry, gateway GatewayClient) *Reasoner {
	r := &Reasoner{
		cfg:      cfg,
		rules:    compileRules(cfg.Rules),
		registry: registry,
	}
	if gateway != nil {
		r.ai = newAIStrategy(gateway, registry)
	}
	return r
}

// Reason classifies intent and selects agents. mode overrides the
// configured reasoner mode when non-empty.
func (r *Reasoner) Reason(ctx context.Context, query string, mode string) (*Result, error) {
	log := logging.FromContext(ctx)

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrBadRequest)
	}

	// Intent classification runs before any strategy.
	if isAccountSpecific(query) {
		metrics.ReasoningDecisions.WithLabelValues(MethodReject).Inc()
		log.Info("query rejected as account-specific")
		return &Result{
			Method:          MethodReject,
			Confidence:      1,
			RejectionReason: "account_specific",
			Reasoning:       "query refers to the caller's personal account state",
		}, nil
	}

	if mode == "" {
		mode = r.cfg.Mode
	}
	if mode == "" {
		mode = agentrouter.ReasonerModeHybrid
	}

	var res *Result
	switch mode {
	case agentrouter.ReasonerModeRule:
		res = r.applyRules(query)
	case agentrouter.ReasonerModeAI:
		res = r.applyAI(ctx, query)
	case agentrouter.ReasonerModeHybrid:
		res = r.applyRules(query)
		if res == nil {
			res = r.applyAI(ctx, query)
			// A reject stays a reject; only a selection is attributed
			// to the hybrid path.
			if res != nil && res.Method != MethodReject {
				res.Method = MethodHybrid
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown reasoning mode %q", ErrBadRequest, mode)
	}

	if res == nil {
		metrics.ReasoningDecisions.WithLabelValues("none").Inc()
		return nil, ErrNoRoute
	}

	// A rule may itself reject.
	if res.Method == MethodReject {
		metrics.ReasoningDecisions.WithLabelValues(MethodReject).Inc()
		return res, nil
	}

	clearUnsafeParallel(res)
	metrics.ReasoningDecisions.WithLabelValues(res.Method).Inc()
	log.Info("reasoning decision",
		"method", res.Method,
		"agents", res.Agents,
		"parallel", res.Parallel,
		"confidence", res.Confidence,
	)
	return res, nil
}

func (r *Reasoner) applyAI(ctx context.Context, query string) *Result {
	if r.ai == nil {
		return nil
	}
	res, err := r.ai.reason(ctx, query)
	if err != nil {
		logging.FromContext(ctx).Warn("ai reasoning failed", "error", err.Error())
		return nil
	}
	return res
}

// clearUnsafeParallel downgrades Parallel when any selected agent's
// parameters reference another selected agent's output via "$agent."
// placeholders.
func clearUnsafeParallel(res *Result) {
	if !res.Parallel {
		return
	}
	selected := make(map[string]bool, len(res.Agents))
	for _, a := range res.Agents {
		selected[a] = true
	}
	for _, params := range res.Parameters {
		for _, v := range params {
			s, ok := v.(string)
			if !ok || !strings.HasPrefix(s, "$") {
				continue
			}
			ref, _, found := strings.Cut(strings.TrimPrefix(s, "$"), ".")
			if found && selected[ref] {
				res.Parallel = false
				return
			}
		}
	}
}

// ── Rule strategy ────────────────────────────────────────────────────────────

type rule struct {
	patterns   []string
	action     string
	agents     []string
	parallel   bool
	params     map[string]map[string]any
	confidence float64
	reason     string
}

func compileRules(cfgs []agentrouter.RuleConfig) []rule {
	rules := make([]rule, 0, len(cfgs))
	for _, rc := range cfgs {
		patterns := make([]string, 0, len(rc.Patterns))
		for _, p := range rc.Patterns {
			patterns = append(patterns, strings.ToLower(p))
		}
		rules = append(rules, rule{
			patterns:   patterns,
			action:     rc.Action,
			agents:     rc.Agents,
			parallel:   rc.Parallel,
			params:     rc.Params,
			confidence: rc.Confidence,
			reason:     rc.Reason,
		})
	}
	return rules
}

// applyRules evaluates rules against the lowercased query. Ties break on
// higher confidence, then earlier rule order. Returns nil when no rule
// matched at or above the accept threshold.
func (r *Reasoner) applyRules(query string) *Result {
	text := strings.ToLower(query)

	best := -1
	for i, ru := range r.rules {
		matched := false
		for _, p := range ru.patterns {
			if strings.Contains(text, p) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if best == -1 || ru.confidence > r.rules[best].confidence {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	ru := r.rules[best]
	if ru.confidence < r.cfg.RuleAcceptThreshold {
		return nil
	}

	if ru.action == "reject" {
		return &Result{
			Method:          MethodReject,
			Confidence:      ru.confidence,
			RejectionReason: ru.reason,
			Reasoning:       ru.reason,
		}
	}
	return &Result{
		Agents:     append([]string(nil), ru.agents...),
		Parameters: ru.params,
		Parallel:   ru.parallel,
		Confidence: ru.confidence,
		Method:     MethodRule,
		Reasoning:  ru.reason,
	}
}
