package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewOllama(t *testing.T) {
	p, err := NewOllama("", nil)
	if err != nil {
		t.Fatalf("NewOllama() error: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name() = %q, want ollama", p.Name())
	}
}

func TestNewOllama_DefaultModels(t *testing.T) {
	p, _ := NewOllama("", nil)
	models := p.SupportedModels()
	if len(models) != 1 || models[0] != "llama3.2" {
		t.Errorf("default SupportedModels() = %v, want [llama3.2]", models)
	}
}

func TestOllamaProvider_SupportsModel(t *testing.T) {
	p, _ := NewOllama("", []string{"llama3.2"})
	if !p.SupportsModel("anything") {
		t.Error("passthrough: expected any model to return true")
	}
}

func TestOllamaProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// System turns must arrive folded into the first user message.
		for _, m := range req.Messages {
			if m.Role == RoleSystem {
				t.Errorf("system message leaked through: %+v", m)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "llama3.2",
			"choices": [{"message": {"content": "hello back"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer srv.Close()

	p, _ := NewOllama(srv.URL, []string{"llama3.2"})
	resp, err := p.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Content != "hello back" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello back")
	}
	if resp.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", resp.Provider)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
}

func TestOllamaProvider_Generate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "model is loading", "type": "server_error"}}`))
	}))
	defer srv.Close()

	p, _ := NewOllama(srv.URL, nil)
	_, err := p.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !IsTransient(err) {
		t.Errorf("5xx should classify as transient, got %v", err)
	}
}

func TestOllamaProvider_Generate_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"message": "model not found", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, _ := NewOllama(srv.URL, nil)
	_, err := p.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if IsTransient(err) {
		t.Errorf("4xx should classify as permanent, got %v", err)
	}
}

func TestOllamaProvider_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"version": "0.5.0"}`))
	}))
	defer srv.Close()

	p, _ := NewOllama(srv.URL, nil)
	h := p.HealthCheck(context.Background())
	if h.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy (error: %s)", h.Status, h.Error)
	}
}

func TestOllamaProvider_HealthCheck_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	srv.Close()

	p, _ := NewOllama(srv.URL, nil)
	h := p.HealthCheck(context.Background())
	if h.Status != StatusUnhealthy {
		t.Errorf("Status = %q, want unhealthy", h.Status)
	}
	if h.Error == "" {
		t.Error("expected error detail for failed probe")
	}
}
