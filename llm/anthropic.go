package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// ErrAPIKeyRequired is returned when a hosted provider has no API key.
var ErrAPIKeyRequired = errors.New("llm: API key required")

type anthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic creates a chat-only provider backed by the Anthropic
// Messages API. ANTHROPIC_API_KEY is used when cfg.APIKey is empty.
func NewAnthropic(cfg Config) (Provider, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or llm.api_key", ErrAPIKeyRequired)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(int(retryLimit)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}, nil
}

func (p *anthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       p.model,
		MaxTokens:   1024,
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.Model != "" {
		params.Model = anthropic.Model(req.Model)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}

	// System turns go in the dedicated field; the API rejects them inline.
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.JSON {
		system = append(system, "Respond with a single JSON object and nothing else.")
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("unexpected response format: no text blocks")
	}

	return &ChatResponse{
		Content:    text.String(),
		Model:      string(message.Model),
		StopReason: string(message.StopReason),
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

func (p *anthropicProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrEmbeddingUnsupported
}
