// Package llm wraps chat and embedding backends used for concept
// extraction, relationship classification and abstract embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbeddingUnsupported is returned by providers without an embedding
// endpoint.
var ErrEmbeddingUnsupported = errors.New("llm: provider does not support embeddings")

// Provider answers prompts and embeds text.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Message is one conversation turn. Role is "system", "user" or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks a model for one completion. An empty Model uses the
// provider's configured model.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// JSON asks the model for a single JSON object.
	JSON bool `json:"json,omitempty"`
}

// JSONPrompt is a deterministic single-turn request for a JSON answer,
// the shape every extraction stage sends.
func JSONPrompt(prompt string) ChatRequest {
	return ChatRequest{
		Messages: []Message{{Role: "user", Content: prompt}},
		JSON:     true,
	}
}

// Usage counts the tokens billed for a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total is input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// ChatResponse is a model's completion.
type ChatResponse struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// Config selects and addresses a provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"` // ollama, anthropic, custom, or a hosted name
	Model    string `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	case "ollama":
		return NewOllama(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg)
	case "custom":
		return NewOpenAICompat(cfg), nil
	}
	h, ok := hosted[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	return h.provider(cfg), nil
}
