package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillan-ai/quillan/services/assistant/agent"
)

const openaiDefaultModel = openai.GPT4o

// OpenAIAdapter shapes requests for the OpenAI chat completions API
// via the go-openai SDK. The SDK owns its own HTTP plumbing; the
// adapter contract (full ordered history, no internal retry) still
// holds.
type OpenAIAdapter struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL   string
	model     string
	maxTokens int
}

// WithOpenAIBaseURL points the SDK at a compatible endpoint
// (vLLM, LM Studio, and friends speak this protocol).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithOpenAIModel overrides the model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithOpenAIMaxTokens sets the response token limit.
func WithOpenAIMaxTokens(n int) OpenAIOption {
	return func(c *openAIConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewOpenAIAdapter creates an OpenAI adapter.
//
// Inputs:
//
//	apiKey - Callback granting scoped access to the provider key. The
//	         SDK needs the key at construction, so it is read once
//	         here and lives inside the SDK client afterwards.
func NewOpenAIAdapter(apiKey func(fn func(key string) error) error, opts ...OpenAIOption) (*OpenAIAdapter, error) {
	cfg := openAIConfig{model: openaiDefaultModel, maxTokens: 4096}
	for _, opt := range opts {
		opt(&cfg)
	}

	var client *openai.Client
	err := apiKey(func(key string) error {
		sdkCfg := openai.DefaultConfig(key)
		if cfg.baseURL != "" {
			sdkCfg.BaseURL = cfg.baseURL
		}
		client = openai.NewClientWithConfig(sdkCfg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &OpenAIAdapter{
		client:    client,
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// ProviderName implements agent.LLMAdapter.
func (a *OpenAIAdapter) ProviderName() string {
	return "openai"
}

// Send implements agent.LLMAdapter.
func (a *OpenAIAdapter) Send(ctx context.Context, turns []agent.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		Messages:  messages,
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return "", &TransportError{URL: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
