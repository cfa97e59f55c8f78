package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// endpoint speaks the OpenAI chat completions and embeddings wire format
// below root, the base URL plus the service's API prefix.
type endpoint struct {
	cfg  Config
	root string
	http *http.Client
}

func newEndpoint(cfg Config, prefix string) endpoint {
	return endpoint{
		cfg:  cfg,
		root: strings.TrimRight(cfg.BaseURL, "/") + prefix,
		// Local runtimes load the model on first use.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

type wireChatRequest struct {
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	Temperature    float64     `json:"temperature"`
	MaxTokens      int         `json:"max_tokens,omitempty"`
	ResponseFormat *wireFormat `json:"response_format,omitempty"`
}

type wireFormat struct {
	Type string `json:"type"`
}

type wireChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type wireChatResponse struct {
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type wireEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type wireEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// call posts in as JSON to path and decodes the answer into out.
func (e endpoint) call(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}
	raw, err := post(ctx, e.http, e.root+path, e.cfg.APIKey, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (e endpoint) model(override string) string {
	if override != "" {
		return override
	}
	return e.cfg.Model
}

func (e endpoint) complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	in := wireChatRequest{
		Model:       e.model(req.Model),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		in.ResponseFormat = &wireFormat{Type: "json_object"}
	}

	var out wireChatResponse
	if err := e.call(ctx, "/chat/completions", in, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("llm: completion has no choices")
	}
	first := out.Choices[0]
	return &ChatResponse{
		Content:    first.Message.Content,
		Model:      out.Model,
		StopReason: first.FinishReason,
		Usage: Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

// embeddings returns one vector per text, placed by the response index.
func (e endpoint) embeddings(ctx context.Context, texts []string) ([][]float32, error) {
	var out wireEmbedResponse
	if err := e.call(ctx, "/embeddings", wireEmbedRequest{Model: e.cfg.Model, Input: texts}, &out); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("llm: embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("llm: no embedding for input %d", i)
		}
	}
	return vecs, nil
}

// compatProvider serves any OpenAI-compatible API: the "custom" provider
// and every hosted service.
type compatProvider struct {
	ep endpoint
}

// NewOpenAICompat creates a provider for an OpenAI-compatible server at
// cfg.BaseURL with the usual /v1 prefix.
func NewOpenAICompat(cfg Config) Provider {
	return &compatProvider{ep: newEndpoint(cfg, "/v1")}
}

func (p *compatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.ep.complete(ctx, req)
}

func (p *compatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.ep.embeddings(ctx, texts)
}

func (p *compatProvider) config() Config { return p.ep.cfg }
