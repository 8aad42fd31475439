package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

// BedrockProvider implements the Provider interface for AWS Bedrock.
// Supports Anthropic Claude and Amazon Titan models via the Bedrock
// runtime InvokeModel API.
type BedrockProvider struct {
	Base
	client       *bedrockruntime.Client
	region       string
	defaultModel string
}

// NewBedrock creates a new AWS Bedrock provider.
// region defaults to us-east-1.
func NewBedrock(region string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		Base:         Base{name: "bedrock"},
		client:       bedrockruntime.NewFromConfig(cfg),
		region:       region,
		defaultModel: "anthropic.claude-3-5-sonnet-20241022-v2:0",
	}, nil
}

// SupportedModels returns well-known Bedrock model IDs.
func (p *BedrockProvider) SupportedModels() []string {
	return []string{
		"anthropic.claude-3-5-sonnet-20241022-v2:0",
		"anthropic.claude-3-5-haiku-20241022-v1:0",
		"anthropic.claude-3-haiku-20240307-v1:0",
		"amazon.titan-text-express-v1",
		"amazon.titan-text-premier-v1:0",
	}
}

// SupportsModel returns true for the model families the adapter can shape
// requests for. Bedrock itself validates the exact model ID.
func (p *BedrockProvider) SupportsModel(model string) bool {
	return model == "" || supportsByPrefix(model, "anthropic.", "amazon.titan")
}

// ── Anthropic Claude on Bedrock ──────────────────────────────────────────────

type bedrockClaudeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Messages         []Message `json:"messages"`
	Temperature      *float64  `json:"temperature,omitempty"`
	System           string    `json:"system,omitempty"`
}

type bedrockClaudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ── Amazon Titan ─────────────────────────────────────────────────────────────

type bedrockTitanRequest struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int     `json:"maxTokenCount,omitempty"`
		Temperature   float64 `json:"temperature,omitempty"`
	} `json:"textGenerationConfig"`
}

type bedrockTitanResponse struct {
	InputTextTokenCount int `json:"inputTextTokenCount"`
	Results             []struct {
		TokenCount       int    `json:"tokenCount"`
		OutputText       string `json:"outputText"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
}

// Generate sends a request to AWS Bedrock and returns the response.
func (p *BedrockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if strings.HasPrefix(model, "anthropic.") {
		return p.generateClaude(ctx, model, req)
	}
	if strings.HasPrefix(model, "amazon.titan") {
		return p.generateTitan(ctx, model, req)
	}
	return nil, PermanentError(p.name, fmt.Errorf("unsupported Bedrock model prefix: %s", model))
}

func (p *BedrockProvider) generateClaude(ctx context.Context, model string, req Request) (*Response, error) {
	maxTokens := 1024
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	var systemParts []string
	var messages []Message
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			messages = append(messages, msg)
		}
	}

	claudeReq := bedrockClaudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         messages,
		Temperature:      req.Temperature,
		System:           strings.Join(systemParts, "\n"),
	}

	start := time.Now()
	out, err := p.invoke(ctx, model, claudeReq)
	if err != nil {
		return nil, err
	}

	var claudeResp bedrockClaudeResponse
	if err := json.Unmarshal(out, &claudeResp); err != nil {
		return nil, PermanentError(p.name, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	var text strings.Builder
	for _, c := range claudeResp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return &Response{
		Content:      text.String(),
		Model:        model,
		Provider:     p.name,
		FinishReason: normalizeStopReason(claudeResp.StopReason),
		Usage: Usage{
			InputTokens:  claudeResp.Usage.InputTokens,
			OutputTokens: claudeResp.Usage.OutputTokens,
			TotalTokens:  claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *BedrockProvider) generateTitan(ctx context.Context, model string, req Request) (*Response, error) {
	// Titan has no message structure; everything is folded into a single
	// prompt, system messages included.
	folded := FoldSystem(req.Messages)
	var prompt strings.Builder
	for _, m := range folded {
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}

	titanReq := bedrockTitanRequest{InputText: prompt.String()}
	if req.MaxTokens != nil {
		titanReq.TextGenerationConfig.MaxTokenCount = *req.MaxTokens
	}
	if req.Temperature != nil {
		titanReq.TextGenerationConfig.Temperature = *req.Temperature
	}

	start := time.Now()
	out, err := p.invoke(ctx, model, titanReq)
	if err != nil {
		return nil, err
	}

	var titanResp bedrockTitanResponse
	if err := json.Unmarshal(out, &titanResp); err != nil {
		return nil, PermanentError(p.name, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if len(titanResp.Results) == 0 {
		return nil, PermanentError(p.name, fmt.Errorf("empty results from titan model %s", model))
	}

	result := titanResp.Results[0]
	finish := "stop"
	if result.CompletionReason == "LENGTH" {
		finish = "length"
	}
	return &Response{
		Content:      result.OutputText,
		Model:        model,
		Provider:     p.name,
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  titanResp.InputTextTokenCount,
			OutputTokens: result.TokenCount,
			TotalTokens:  titanResp.InputTextTokenCount + result.TokenCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *BedrockProvider) invoke(ctx context.Context, model string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, PermanentError(p.name, fmt.Errorf("failed to marshal request: %w", err))
	}
	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, p.classify(err)
	}
	return output.Body, nil
}

// HealthCheck reports on client construction only; Bedrock has no cheap
// unauthenticated probe and InvokeModel is billed, so the probe stays local.
func (p *BedrockProvider) HealthCheck(_ context.Context) Health {
	if p.client == nil {
		return Health{Status: StatusUnhealthy, Error: "bedrock client not initialised"}
	}
	return Health{Status: StatusHealthy}
}

func (p *BedrockProvider) classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException",
			"ModelTimeoutException", "InternalServerException":
			return TransientError(p.name, err)
		default:
			return PermanentError(p.name, err)
		}
	}
	return FromTransportError(p.name, err)
}
