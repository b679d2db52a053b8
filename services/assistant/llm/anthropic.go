package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillan-ai/quillan/services/assistant/agent"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultURL   = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicAdapter shapes requests for the Anthropic messages API.
//
// System turns are lifted into the top-level system field as the API
// requires; user and assistant turns are passed through as the ordered
// multi-turn messages array.
type AnthropicAdapter struct {
	transport Transport
	baseURL   string
	model     string
	maxTokens int
	apiKey    func(fn func(key string) error) error
}

// AnthropicOption configures an AnthropicAdapter.
type AnthropicOption func(*AnthropicAdapter)

// WithAnthropicBaseURL overrides the endpoint (e.g. a proxy).
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(a *AnthropicAdapter) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithAnthropicModel overrides the model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(a *AnthropicAdapter) {
		if model != "" {
			a.model = model
		}
	}
}

// WithAnthropicMaxTokens sets the response token limit.
func WithAnthropicMaxTokens(n int) AnthropicOption {
	return func(a *AnthropicAdapter) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// NewAnthropicAdapter creates an Anthropic adapter.
//
// Inputs:
//
//	transport - The shared Transport. Must not be nil.
//	apiKey - Callback granting scoped access to the provider key
//	         (config.Config.APIKey fits directly).
//	opts - Optional overrides.
func NewAnthropicAdapter(transport Transport, apiKey func(fn func(key string) error) error, opts ...AnthropicOption) *AnthropicAdapter {
	a := &AnthropicAdapter{
		transport: transport,
		baseURL:   anthropicDefaultURL,
		model:     anthropicDefaultModel,
		maxTokens: 4096,
		apiKey:    apiKey,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProviderName implements agent.LLMAdapter.
func (a *AnthropicAdapter) ProviderName() string {
	return "anthropic"
}

// Send implements agent.LLMAdapter.
//
// The entire ordered turn list is rendered: system turns concatenate
// into the system field, everything else becomes one entry in the
// messages array, order preserved.
func (a *AnthropicAdapter) Send(ctx context.Context, turns []agent.Turn) (string, error) {
	var system strings.Builder
	messages := make([]anthropicMessage, 0, len(turns))

	for _, turn := range turns {
		if turn.Role == agent.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(turn.Content)
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	reqBody := anthropicRequest{
		Model:     a.model,
		Messages:  messages,
		System:    system.String(),
		MaxTokens: a.maxTokens,
	}

	var raw []byte
	err := a.apiKey(func(key string) error {
		headers := map[string]string{
			"x-api-key":         key,
			"anthropic-version": anthropicAPIVersion,
		}
		var sendErr error
		raw, sendErr = a.transport.PostJSON(ctx, a.baseURL, headers, reqBody)
		return sendErr
	})
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding anthropic response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("anthropic API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}
