package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// throttled spaces out calls to a rate-limited upstream such as a free
// API tier. Chat and Embed share one limiter.
type throttled struct {
	next    Provider
	limiter *rate.Limiter
}

// Throttle wraps p so consecutive calls start at least delay apart.
// A non-positive delay returns p unchanged.
func Throttle(p Provider, delay time.Duration) Provider {
	if delay <= 0 {
		return p
	}
	return &throttled{next: p, limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

func (t *throttled) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Chat(ctx, req)
}

func (t *throttled) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Embed(ctx, texts)
}
