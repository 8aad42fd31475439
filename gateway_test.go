package agentrouter

import (
	"context"
	"errors"
	"testing"

	"github.com/relay-labs/agent-router/providers"
)

// mockProvider returns scripted outcomes in order, then repeats the last.
type mockProvider struct {
	name    string
	scripts []mockOutcome
	calls   int
}

type mockOutcome struct {
	resp *providers.Response
	err  error
}

func newMockProvider(name string, outcomes ...mockOutcome) *mockProvider {
	return &mockProvider{name: name, scripts: outcomes}
}

func succeedWith(content string) mockOutcome {
	return mockOutcome{resp: &providers.Response{Content: content, Model: "mock-model"}}
}

func failWith(err error) mockOutcome {
	return mockOutcome{err: err}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Generate(_ context.Context, _ providers.Request) (*providers.Response, error) {
	i := m.calls
	if i >= len(m.scripts) {
		i = len(m.scripts) - 1
	}
	m.calls++
	out := m.scripts[i]
	if out.err != nil {
		return nil, out.err
	}
	cp := *out.resp
	return &cp, nil
}

func (m *mockProvider) HealthCheck(_ context.Context) providers.Health {
	return providers.Health{Status: providers.StatusHealthy}
}

func (m *mockProvider) SupportedModels() []string { return []string{"mock-model"} }

func (m *mockProvider) SupportsModel(_ string) bool { return true }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Gateway.Fallback.Order = nil
	return cfg
}

func userRequest(text string) providers.Request {
	return providers.Request{Messages: []providers.Message{{Role: providers.RoleUser, Content: text}}}
}

func TestGatewayGenerate_PreferredProvider(t *testing.T) {
	g, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	g.RegisterProvider(newMockProvider("primary", succeedWith("hello")))

	resp, call, err := g.Generate(context.Background(), GenerateRequest{
		Request:  userRequest("hi"),
		Provider: "primary",
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if resp.Provider != "primary" {
		t.Errorf("response not annotated with serving provider: %q", resp.Provider)
	}
	if len(call.Attempts) != 1 || !call.Attempts[0].OK {
		t.Errorf("expected one successful attempt, got %+v", call.Attempts)
	}
}

func TestGatewayGenerate_FallbackOnTransient(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Order = []string{"backup"}
	g, _ := New(cfg)
	g.RegisterProvider(newMockProvider("primary",
		failWith(providers.TransientError("primary", errors.New("timeout")))))
	g.RegisterProvider(newMockProvider("backup", succeedWith("from backup")))

	resp, call, err := g.Generate(context.Background(), GenerateRequest{
		Request:  userRequest("hi"),
		Provider: "primary",
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Provider != "backup" {
		t.Errorf("Provider = %q, want backup", resp.Provider)
	}
	if len(call.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(call.Attempts))
	}
	if call.Attempts[0].OK || !call.Attempts[1].OK {
		t.Errorf("attempt outcomes wrong: %+v", call.Attempts)
	}
}

func TestGatewayGenerate_FallbackOnPermanent(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Order = []string{"backup"}
	g, _ := New(cfg)
	// A bad key on one provider says nothing about the next provider's
	// credentials; the chain must keep going.
	g.RegisterProvider(newMockProvider("primary",
		failWith(providers.PermanentError("primary", errors.New("invalid api key")))))
	g.RegisterProvider(newMockProvider("backup", succeedWith("from backup")))

	resp, call, err := g.Generate(context.Background(), GenerateRequest{
		Request:  userRequest("hi"),
		Provider: "primary",
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Provider != "backup" {
		t.Errorf("Provider = %q, want backup", resp.Provider)
	}
	if len(call.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(call.Attempts))
	}
	if call.Attempts[0].OK || call.Attempts[0].ErrorKind == "" {
		t.Errorf("first attempt should record the failure: %+v", call.Attempts[0])
	}
}

func TestGatewayGenerate_AllProvidersFailed(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Order = []string{"a", "b"}
	g, _ := New(cfg)
	g.RegisterProvider(newMockProvider("a",
		failWith(providers.TransientError("a", errors.New("down")))))
	g.RegisterProvider(newMockProvider("b",
		failWith(providers.TransientError("b", errors.New("also down")))))

	_, call, err := g.Generate(context.Background(), GenerateRequest{
		Request: userRequest("hi"),
	})
	var apf *AllProvidersFailed
	if !errors.As(err, &apf) {
		t.Fatalf("expected AllProvidersFailed, got %v", err)
	}
	if len(apf.Attempts) != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", len(apf.Attempts))
	}
	// The last attempt's outcome matches the call outcome.
	if call.Attempts[len(call.Attempts)-1].OK {
		t.Error("last attempt should be a failure when the call fails")
	}
}

func TestGatewayGenerate_MaxAttemptsOne(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Order = []string{"backup"}
	cfg.Gateway.Fallback.MaxAttempts = 1
	g, _ := New(cfg)
	backup := newMockProvider("backup", succeedWith("nope"))
	g.RegisterProvider(newMockProvider("primary",
		failWith(providers.TransientError("primary", errors.New("down")))))
	g.RegisterProvider(backup)

	_, call, err := g.Generate(context.Background(), GenerateRequest{
		Request:  userRequest("hi"),
		Provider: "primary",
	})
	if err == nil {
		t.Fatal("expected error with max_attempts=1")
	}
	if backup.calls != 0 {
		t.Error("max_attempts=1 must disable fallback")
	}
	if len(call.Attempts) != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", len(call.Attempts))
	}
}

func TestGatewayGenerate_BreakerOpenSkipsSilently(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Order = []string{"flaky", "backup"}
	cfg.Breaker.Threshold = 1
	g, _ := New(cfg)
	flaky := newMockProvider("flaky",
		failWith(providers.TransientError("flaky", errors.New("down"))))
	g.RegisterProvider(flaky)
	g.RegisterProvider(newMockProvider("backup", succeedWith("ok")))

	// First call trips the breaker for flaky.
	if _, _, err := g.Generate(context.Background(), GenerateRequest{Request: userRequest("hi")}); err != nil {
		t.Fatalf("first call should fall back: %v", err)
	}

	// Second call: flaky's breaker is open, so it is skipped and the
	// attempt list carries only the backup invocation.
	_, call, err := g.Generate(context.Background(), GenerateRequest{Request: userRequest("hi")})
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("flaky called %d times, want 1 (breaker should skip)", flaky.calls)
	}
	if len(call.Attempts) != 1 || call.Attempts[0].Provider != "backup" {
		t.Errorf("breaker-open skip must not be recorded as an attempt: %+v", call.Attempts)
	}
}

func TestGatewayGenerate_UnregisteredSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Order = []string{"ghost", "real"}
	g, _ := New(cfg)
	g.RegisterProvider(newMockProvider("real", succeedWith("ok")))

	resp, _, err := g.Generate(context.Background(), GenerateRequest{Request: userRequest("hi")})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Provider != "real" {
		t.Errorf("Provider = %q, want real", resp.Provider)
	}
}

func TestGatewayGenerate_InvalidRequestRejected(t *testing.T) {
	g, _ := New(testConfig())
	g.RegisterProvider(newMockProvider("p", succeedWith("ok")))

	_, _, err := g.Generate(context.Background(), GenerateRequest{Provider: "p"})
	if err == nil {
		t.Fatal("expected validation error for empty messages")
	}
}

func TestAttemptOrder_Dedup(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Order = []string{"a", "b", "a"}
	g, _ := New(cfg)

	order := g.attemptOrder("b")
	want := []string{"b", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestAttemptOrder_FallbackDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Fallback.Enabled = false
	cfg.Gateway.Fallback.Order = []string{"a", "b"}
	g, _ := New(cfg)

	order := g.attemptOrder("primary")
	if len(order) != 1 || order[0] != "primary" {
		t.Errorf("disabled fallback should yield only the preferred provider, got %v", order)
	}
}

func TestGatewayHealth(t *testing.T) {
	g, _ := New(testConfig())
	g.RegisterProvider(newMockProvider("p", succeedWith("ok")))

	health := g.Health(context.Background())
	if health["p"].Status != providers.StatusHealthy {
		t.Errorf("health status = %q, want healthy", health["p"].Status)
	}
}
