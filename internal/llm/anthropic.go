package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultModel = "claude-sonnet-4-5-20250929"

// AnthropicProvider implements Provider via the official Anthropic SDK,
// replacing the teacher's hand-rolled HTTP client in
// internal/providers/anthropic.go with anthropic.NewClient while keeping
// its config-struct-plus-functional-options shape.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int64
}

type anthropicConfig struct {
	apiKey       string
	baseURL      string
	defaultModel string
	maxTokens    int64
}

type AnthropicOption func(*anthropicConfig)

func WithModel(model string) AnthropicOption {
	return func(c *anthropicConfig) { c.defaultModel = model }
}

func WithMaxTokens(max int64) AnthropicOption {
	return func(c *anthropicConfig) { c.maxTokens = max }
}

func WithBaseURL(baseURL string) AnthropicOption {
	return func(c *anthropicConfig) { c.baseURL = baseURL }
}

func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	cfg := &anthropicConfig{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		maxTokens:    4096,
	}
	for _, o := range opts {
		o(cfg)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.apiKey)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(clientOpts...),
		defaultModel: cfg.defaultModel,
		maxTokens:    cfg.maxTokens,
	}
}

// GenerateResponse implements Provider.GenerateResponse (spec.md §6's
// LLMProvider.generateResponse contract).
func (p *AnthropicProvider) GenerateResponse(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	systemPrompt := req.SystemPrompt
	if req.JSONMode {
		systemPrompt += "\n\nRespond with a single JSON object and nothing else."
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: generate response: %w", err)
	}

	var content string
	for _, block := range message.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &GenerateResult{
		Content: content,
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
		FinishReason: string(message.StopReason),
	}, nil
}
