package llm

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (m *memCache) Set(_ context.Context, key string, v []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	return nil
}

type countingProvider struct {
	chats  int
	embeds int
}

func (c *countingProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	c.chats++
	return &ChatResponse{Content: "reply to " + req.Messages[0].Content}, nil
}

func (c *countingProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.embeds++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestWithCacheChat(t *testing.T) {
	inner := &countingProvider{}
	p := WithCache(inner, &memCache{data: map[string][]byte{}}, "m", time.Hour)
	ctx := context.Background()
	req := ChatRequest{Messages: []Message{{Role: "user", Content: "q"}}}

	for i := 0; i < 3; i++ {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Content != "reply to q" {
			t.Errorf("content = %q", resp.Content)
		}
	}
	if inner.chats != 1 {
		t.Errorf("inner chats = %d, want 1", inner.chats)
	}

	req.Temperature = 0.7
	p.Chat(ctx, req)
	p.Chat(ctx, req)
	if inner.chats != 3 {
		t.Errorf("sampled requests must bypass cache, inner chats = %d", inner.chats)
	}
}

func TestWithCacheEmbedPartialHits(t *testing.T) {
	inner := &countingProvider{}
	p := WithCache(inner, &memCache{data: map[string][]byte{}}, "e", time.Hour)
	ctx := context.Background()

	if _, err := p.Embed(ctx, []string{"aa"}); err != nil {
		t.Fatal(err)
	}
	embs, err := p.Embed(ctx, []string{"aa", "bbb"})
	if err != nil {
		t.Fatal(err)
	}
	if embs[0][0] != 2 || embs[1][0] != 3 {
		t.Errorf("embs = %v", embs)
	}
	if inner.embeds != 2 {
		t.Errorf("inner embeds = %d, want 2", inner.embeds)
	}
	if _, err := p.Embed(ctx, []string{"bbb", "aa"}); err != nil {
		t.Fatal(err)
	}
	if inner.embeds != 2 {
		t.Errorf("fully cached batch hit upstream, embeds = %d", inner.embeds)
	}
}

func TestWithCacheNil(t *testing.T) {
	inner := &countingProvider{}
	if p := WithCache(inner, nil, "m", time.Hour); p != Provider(inner) {
		t.Error("nil cache should return provider unchanged")
	}
}

func TestThrottle(t *testing.T) {
	inner := &countingProvider{}
	if Throttle(inner, 0) != Provider(inner) {
		t.Error("zero delay should return provider unchanged")
	}

	p := Throttle(inner, 20*time.Millisecond)
	ctx := context.Background()
	req := ChatRequest{Messages: []Message{{Content: "x"}}}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := p.Chat(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("3 calls took %v, want >= 40ms spacing", elapsed)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.Chat(cancelled, req); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around", `Sure! Here it is: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, false},
		{"first of two", `{"a":1} or maybe {"a":2}`, `{"a":1}`, false},
		{"skips broken brace", `{oops {"a":1}`, `{"a":1}`, false},
		{"unterminated", `{"a":1`, "", true},
		{"none", "no json here", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
