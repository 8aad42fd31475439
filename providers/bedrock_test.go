package providers

import (
	"context"
	"testing"
)

func TestBedrockProvider_SupportsModel(t *testing.T) {
	p := &BedrockProvider{Base: Base{name: "bedrock"}}

	cases := []struct {
		model string
		want  bool
	}{
		{"anthropic.claude-3-5-sonnet-20241022-v2:0", true},
		{"amazon.titan-text-express-v1", true},
		{"", true},
		{"meta.llama3-70b-instruct-v1:0", false},
		{"gpt-4o", false},
	}
	for _, c := range cases {
		if got := p.SupportsModel(c.model); got != c.want {
			t.Errorf("SupportsModel(%q) = %v, want %v", c.model, got, c.want)
		}
	}
}

func TestBedrockProvider_HealthCheck_NoClient(t *testing.T) {
	p := &BedrockProvider{Base: Base{name: "bedrock"}}
	h := p.HealthCheck(context.Background())
	if h.Status != StatusUnhealthy {
		t.Errorf("Status = %q, want unhealthy without a client", h.Status)
	}
}

func TestBedrockProvider_Generate_UnsupportedPrefix(t *testing.T) {
	p := &BedrockProvider{Base: Base{name: "bedrock"}, defaultModel: "anthropic.claude-3-haiku-20240307-v1:0"}
	_, err := p.Generate(context.Background(), Request{
		Model:    "cohere.command-r-v1:0",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for unsupported model prefix")
	}
	if IsTransient(err) {
		t.Errorf("unsupported prefix should be permanent, got %v", err)
	}
}
