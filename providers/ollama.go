package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider implements the Provider interface for a local Ollama
// server, using its OpenAI-compatible chat completions endpoint.
type OllamaProvider struct {
	Base
	httpClient *http.Client
	models     []string
}

// NewOllama creates a new Ollama provider. baseURL defaults to the
// standard local server address.
func NewOllama(baseURL string, models []string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if len(models) == 0 {
		models = []string{"llama3.2"}
	}

	return &OllamaProvider{
		Base:       Base{name: "ollama", baseURL: baseURL},
		httpClient: &http.Client{},
		models:     models,
	}, nil
}

// SupportedModels returns the configured model list.
func (p *OllamaProvider) SupportedModels() []string {
	return p.models
}

// SupportsModel returns true for any model; the local server validates
// model names itself.
func (p *OllamaProvider) SupportsModel(_ string) bool {
	return true
}

type ollamaRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type ollamaResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type ollamaErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends a chat completion request to the local Ollama server.
func (p *OllamaProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.models[0]
	}

	// Ollama's compat layer accepts system messages, but small local
	// models follow folded instructions more reliably.
	ollamaReq := ollamaRequest{
		Model:       model,
		Messages:    FoldSystem(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, PermanentError(p.name, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, PermanentError(p.name, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, FromTransportError(p.name, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, FromTransportError(p.name, fmt.Errorf("failed to read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp ollamaErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, StatusError(p.name, httpResp.StatusCode,
				fmt.Errorf("ollama API error (%d): %s", httpResp.StatusCode, errResp.Error.Message))
		}
		return nil, StatusError(p.name, httpResp.StatusCode,
			fmt.Errorf("ollama API error (%d): %s", httpResp.StatusCode, string(respBody)))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, PermanentError(p.name, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if len(ollamaResp.Choices) == 0 {
		return nil, PermanentError(p.name, fmt.Errorf("empty choices from model %s", model))
	}

	choice := ollamaResp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		Model:        ollamaResp.Model,
		Provider:     p.name,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  ollamaResp.Usage.PromptTokens,
			OutputTokens: ollamaResp.Usage.CompletionTokens,
			TotalTokens:  ollamaResp.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// HealthCheck probes the server's version endpoint.
func (p *OllamaProvider) HealthCheck(ctx context.Context) Health {
	return probe(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
		if err != nil {
			return err
		}
		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	})
}
