package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quillan-ai/quillan/services/assistant/agent"
)

const (
	ollamaDefaultURL   = "http://localhost:11434"
	ollamaDefaultModel = "qwen2.5-coder:14b"
)

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// OllamaAdapter shapes requests for a local Ollama /api/chat endpoint.
//
// Ollama accepts system/user/assistant roles directly, so every turn
// maps one-to-one onto the messages array.
type OllamaAdapter struct {
	transport Transport
	baseURL   string
	model     string
	maxTokens int
}

// OllamaOption configures an OllamaAdapter.
type OllamaOption func(*OllamaAdapter)

// WithOllamaBaseURL overrides the endpoint. Plain http is the normal
// case for a local daemon.
func WithOllamaBaseURL(url string) OllamaOption {
	return func(a *OllamaAdapter) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithOllamaModel overrides the model.
func WithOllamaModel(model string) OllamaOption {
	return func(a *OllamaAdapter) {
		if model != "" {
			a.model = model
		}
	}
}

// WithOllamaMaxTokens sets num_predict.
func WithOllamaMaxTokens(n int) OllamaOption {
	return func(a *OllamaAdapter) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// NewOllamaAdapter creates an Ollama adapter.
func NewOllamaAdapter(transport Transport, opts ...OllamaOption) *OllamaAdapter {
	a := &OllamaAdapter{
		transport: transport,
		baseURL:   ollamaDefaultURL,
		model:     ollamaDefaultModel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProviderName implements agent.LLMAdapter.
func (a *OllamaAdapter) ProviderName() string {
	return "ollama"
}

// Send implements agent.LLMAdapter.
func (a *OllamaAdapter) Send(ctx context.Context, turns []agent.Turn) (string, error) {
	messages := make([]ollamaMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, ollamaMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	reqBody := ollamaChatRequest{
		Model:    a.model,
		Messages: messages,
		Stream:   false,
	}
	if a.maxTokens > 0 {
		reqBody.Options = &ollamaOptions{NumPredict: a.maxTokens}
	}

	raw, err := a.transport.PostJSON(ctx, a.baseURL+"/api/chat", nil, reqBody)
	if err != nil {
		return "", err
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", resp.Error)
	}

	return resp.Message.Content, nil
}
