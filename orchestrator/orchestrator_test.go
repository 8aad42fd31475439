package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/audit"
	"github.com/relay-labs/agent-router/providers"
)

// fakeInvoker runs an in-test function as an agent.
type fakeInvoker struct {
	fn func(ctx context.Context, req agents.InvokeRequest) (*agents.InvokeResponse, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req agents.InvokeRequest) (*agents.InvokeResponse, error) {
	return f.fn(ctx, req)
}

func okInvoker(data map[string]any) *fakeInvoker {
	return &fakeInvoker{fn: func(context.Context, agents.InvokeRequest) (*agents.InvokeResponse, error) {
		return &agents.InvokeResponse{Success: true, Data: data}, nil
	}}
}

// fakeGateway scripts the generation backing the AI reasoner.
type fakeGateway struct {
	content string
	err     error
}

func (f *fakeGateway) Generate(_ context.Context, _ agentrouter.GenerateRequest) (*providers.Response, *agentrouter.GatewayCall, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &providers.Response{Content: f.content, Provider: "fake"}, &agentrouter.GatewayCall{}, nil
}

// testConfig returns a config tuned for fast tests: no audit files, no
// backoff sleeps.
func testConfig() agentrouter.Config {
	cfg := agentrouter.DefaultConfig()
	cfg.Audit.Enabled = false
	cfg.Retry.BaseBackoffMs = 1
	cfg.Retry.JitterMs = -1
	cfg.Executor.DefaultStepTimeoutMs = 2000
	return cfg
}

func mustRegister(t *testing.T, r *agents.Registry, d agents.Descriptor) {
	t.Helper()
	if d.Capabilities == nil {
		d.Capabilities = []string{"test"}
	}
	if err := r.Register(d); err != nil {
		t.Fatalf("registering %s: %v", d.Name, err)
	}
}

func TestHandleRejectsAccountSpecificQuery(t *testing.T) {
	registry := agents.NewRegistry()
	mustRegister(t, registry, agents.Descriptor{
		Name:    "banking_faq",
		Invoker: okInvoker(map[string]any{"answer": "generic"}),
	})
	o := New(testConfig(), registry, nil, nil)

	resp, err := o.Handle(context.Background(), Query{Text: "what is my credit card balance"}, Options{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if resp.Success {
		t.Fatal("expected success=false for rejected query")
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Kind != KindAccountSpecific {
		t.Fatalf("expected one AccountSpecificRejected error, got %+v", resp.Errors)
	}
	if len(resp.Metadata.AgentsUsed) != 0 {
		t.Fatalf("expected empty agents_used, got %v", resp.Metadata.AgentsUsed)
	}
	if resp.Metadata.Count != 0 {
		t.Fatalf("expected count=0, got %d", resp.Metadata.Count)
	}
}

func TestHandleParallelIndependentAgents(t *testing.T) {
	registry := agents.NewRegistry()
	mustRegister(t, registry, agents.Descriptor{
		Name: "weather",
		Invoker: &fakeInvoker{fn: func(_ context.Context, req agents.InvokeRequest) (*agents.InvokeResponse, error) {
			if req.Parameters["city"] != "Tokyo" {
				return nil, agents.PermanentInvokeError("weather", errors.New("missing city"))
			}
			time.Sleep(20 * time.Millisecond)
			return &agents.InvokeResponse{Success: true, Data: map[string]any{"temperature": 28.0}}, nil
		}},
	})
	mustRegister(t, registry, agents.Descriptor{
		Name: "calculator",
		Invoker: &fakeInvoker{fn: func(context.Context, agents.InvokeRequest) (*agents.InvokeResponse, error) {
			time.Sleep(20 * time.Millisecond)
			return &agents.InvokeResponse{Success: true, Data: map[string]any{"result": 42.0}}, nil
		}},
	})

	cfg := testConfig()
	cfg.Reasoner.Mode = agentrouter.ReasonerModeRule
	cfg.Reasoner.Rules = []agentrouter.RuleConfig{{
		Patterns:   []string{"weather"},
		Action:     "select",
		Agents:     []string{"weather", "calculator"},
		Parallel:   true,
		Params:     map[string]map[string]any{"weather": {"city": "Tokyo"}},
		Confidence: 0.9,
	}}
	o := New(cfg, registry, nil, nil)

	resp, err := o.Handle(context.Background(), Query{Text: "get the weather in Tokyo and calculate 15 + 27"}, Options{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got errors %+v", resp.Errors)
	}
	if !resp.Metadata.Parallel {
		t.Fatal("expected parallel=true in metadata")
	}
	if got := resp.Data["calculator"]["result"]; got != 42.0 {
		t.Fatalf("expected calculator result 42, got %v", got)
	}
	if resp.Metadata.Count != 2 || resp.Metadata.Successful != 2 {
		t.Fatalf("expected 2 successful steps, got %+v", resp.Metadata)
	}
	// Overlapping steps: total wall time tracks the slowest step, not
	// the sum.
	if resp.Metadata.TotalExecutionTimeMs >= 2*resp.Metadata.MaxExecutionTimeMs {
		t.Fatalf("total %dms suggests sequential execution (max %dms)",
			resp.Metadata.TotalExecutionTimeMs, resp.Metadata.MaxExecutionTimeMs)
	}
}

func TestHandleSequentialWithPropagation(t *testing.T) {
	registry := agents.NewRegistry()
	mustRegister(t, registry, agents.Descriptor{
		Name: "search",
		Invoker: okInvoker(map[string]any{
			"results": []any{
				map[string]any{"title": "a", "rating": 4.0},
				map[string]any{"title": "b", "rating": 2.0},
			},
		}),
	})
	var gotValues any
	mustRegister(t, registry, agents.Descriptor{
		Name:           "data_processor",
		RequiredFields: []string{"average"},
		Invoker: &fakeInvoker{fn: func(_ context.Context, req agents.InvokeRequest) (*agents.InvokeResponse, error) {
			gotValues = req.Parameters["values"]
			return &agents.InvokeResponse{Success: true, Data: map[string]any{"average": 3.0}}, nil
		}},
	})

	cfg := testConfig()
	cfg.Reasoner.Mode = agentrouter.ReasonerModeRule
	cfg.Reasoner.Rules = []agentrouter.RuleConfig{{
		Patterns: []string{"average"},
		Action:   "select",
		Agents:   []string{"search", "data_processor"},
		Params: map[string]map[string]any{
			"data_processor": {"op": "avg", "values": "$search.results[*].rating"},
		},
		Confidence: 0.9,
	}}
	o := New(cfg, registry, nil, nil)

	resp, err := o.Handle(context.Background(), Query{Text: "search AI papers and average their ratings"}, Options{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got errors %+v", resp.Errors)
	}
	wantTrail := []string{"search", "data_processor"}
	if len(resp.Metadata.AgentTrail) != 2 ||
		resp.Metadata.AgentTrail[0] != wantTrail[0] ||
		resp.Metadata.AgentTrail[1] != wantTrail[1] {
		t.Fatalf("expected trail %v, got %v", wantTrail, resp.Metadata.AgentTrail)
	}
	values, ok := gotValues.([]any)
	if !ok || len(values) != 2 || values[0] != 4.0 || values[1] != 2.0 {
		t.Fatalf("expected propagated ratings [4 2], got %v", gotValues)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected both outputs in data, got %v", resp.Data)
	}
}

func TestHandleNoRouteFound(t *testing.T) {
	registry := agents.NewRegistry()
	cfg := testConfig()
	cfg.Reasoner.Mode = agentrouter.ReasonerModeRule
	o := New(cfg, registry, nil, nil)

	_, err := o.Handle(context.Background(), Query{Text: "tell me a story"}, Options{})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	if HTTPStatus(err) != 503 {
		t.Fatalf("expected 503 for no route, got %d", HTTPStatus(err))
	}
}

func TestHandleHybridAIRejectShortCircuits(t *testing.T) {
	registry := agents.NewRegistry()
	mustRegister(t, registry, agents.Descriptor{Name: "weather", Invoker: okInvoker(nil)})
	cfg := testConfig()
	cfg.Reasoner.Mode = agentrouter.ReasonerModeHybrid
	gw := &fakeGateway{content: `{"agents": [], "confidence": 0.9}`}
	o := New(cfg, registry, gw, nil)

	resp, err := o.Handle(context.Background(), Query{Text: "recite a limerick"}, Options{})
	if err != nil {
		t.Fatalf("a reject decision is a response, not an error: %v", err)
	}
	if resp.Success {
		t.Fatal("expected success=false")
	}
	if len(resp.Metadata.AgentsUsed) != 0 {
		t.Fatalf("agents_used = %v, want empty", resp.Metadata.AgentsUsed)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Kind != KindNoRoute {
		t.Fatalf("expected one NoRouteFound error, got %+v", resp.Errors)
	}
}

func TestHandleAIDecisionTracesGatewayCall(t *testing.T) {
	registry := agents.NewRegistry()
	mustRegister(t, registry, agents.Descriptor{Name: "weather", Invoker: okInvoker(map[string]any{"temp": 21.0})})
	cfg := testConfig()
	cfg.Reasoner.Mode = agentrouter.ReasonerModeAI
	dir := t.TempDir()
	auditor := audit.New(audit.Config{Enabled: true, Dir: dir})
	gw := &fakeGateway{content: `{"agents": ["weather"], "confidence": 0.8}`}
	o := New(cfg, registry, gw, auditor)

	if _, err := o.Handle(context.Background(), Query{Text: "weather in Oslo"}, Options{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "query_*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one trace file, got %v (err %v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	var trace audit.Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		t.Fatalf("decode trace: %v", err)
	}
	tool := -1
	decision := -1
	for i, ev := range trace.Events {
		switch ev.Kind {
		case audit.KindToolInteraction:
			tool = i
		case audit.KindReasoningDecision:
			decision = i
		}
	}
	if tool < 0 {
		t.Fatal("trace missing TOOL_INTERACTION for the reasoner's model call")
	}
	if decision < 0 || tool > decision {
		t.Fatalf("TOOL_INTERACTION at %d should precede REASONING_DECISION at %d", tool, decision)
	}
}

func TestHandleHallucinationRetryThenFailure(t *testing.T) {
	registry := agents.NewRegistry()
	calls := 0
	mustRegister(t, registry, agents.Descriptor{
		Name: "summarizer",
		Invoker: &fakeInvoker{fn: func(context.Context, agents.InvokeRequest) (*agents.InvokeResponse, error) {
			calls++
			// Numbers and names absent from the provided context.
			return &agents.InvokeResponse{Success: true, Data: map[string]any{
				"summary": "Profits reached 95000 under Director Blackwood in 1887",
			}}, nil
		}},
	})

	cfg := testConfig()
	cfg.Validator.RetryOnHallucination = true
	cfg.Validator.MaxRevalidationAttempts = 1
	cfg.Reasoner.Mode = agentrouter.ReasonerModeRule
	cfg.Reasoner.Rules = []agentrouter.RuleConfig{{
		Patterns:   []string{"summarize"},
		Action:     "select",
		Agents:     []string{"summarizer"},
		Confidence: 0.9,
	}}
	o := New(cfg, registry, nil, nil)

	resp, err := o.Handle(context.Background(), Query{
		Text:    "summarize the report",
		Context: map[string]any{"report": "The quarterly report covers routine operations."},
	}, Options{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 1 run + 1 revalidation rerun, got %d calls", calls)
	}
	if resp.Success {
		t.Fatal("expected failure after revalidation still flagged")
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Kind != KindHallucination {
		t.Fatalf("expected HallucinationDetected error, got %+v", resp.Errors)
	}
	if resp.Metadata.Failed != 1 {
		t.Fatalf("expected failed=1, got %+v", resp.Metadata)
	}
}

func TestHandleZeroDeadlineExpiresImmediately(t *testing.T) {
	registry := agents.NewRegistry()
	mustRegister(t, registry, agents.Descriptor{
		Name:    "echo",
		Invoker: okInvoker(map[string]any{"ok": true}),
	})

	cfg := testConfig()
	cfg.Reasoner.Mode = agentrouter.ReasonerModeRule
	cfg.Reasoner.Rules = []agentrouter.RuleConfig{{
		Patterns:   []string{"echo"},
		Action:     "select",
		Agents:     []string{"echo"},
		Confidence: 0.9,
	}}
	o := New(cfg, registry, nil, nil)

	zero := 0
	_, err := o.Handle(context.Background(), Query{Text: "echo"}, Options{DeadlineMs: &zero})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if HTTPStatus(err) != 408 {
		t.Fatalf("expected 408, got %d", HTTPStatus(err))
	}
}
