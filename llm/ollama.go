package llm

import (
	"context"
	"fmt"
)

const ollamaDefaultURL = "http://localhost:11434"

// ollamaProvider talks to Ollama's native API: /api/chat with JSON format
// mode and the batching /api/embed.
type ollamaProvider struct {
	ep endpoint
}

// NewOllama creates a provider for a local or remote Ollama server.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ollamaDefaultURL
	}
	return &ollamaProvider{ep: newEndpoint(cfg, "/api")}
}

func (p *ollamaProvider) config() Config { return p.ep.cfg }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	in := ollamaChatRequest{
		Model:    p.ep.model(req.Model),
		Messages: req.Messages,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		in.Options["num_predict"] = req.MaxTokens
	}
	if req.JSON {
		in.Format = "json"
	}

	var out ollamaChatResponse
	if err := p.ep.call(ctx, "/chat", in, &out); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	return &ChatResponse{
		Content:    out.Message.Content,
		Model:      out.Model,
		StopReason: out.DoneReason,
		Usage:      Usage{InputTokens: out.PromptEvalCount, OutputTokens: out.EvalCount},
	}, nil
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out ollamaEmbedResponse
	if err := p.ep.call(ctx, "/embed", wireEmbedRequest{Model: p.ep.cfg.Model, Input: texts}, &out); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}
