package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry tuning; tests shrink these.
var (
	retryLimit     uint64 = 6
	retryBase             = 2 * time.Second
	rateLimitFloor        = 5 * time.Second
)

// APIError is a non-2xx answer from a model endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// floorBackOff is an exponential policy whose next wait can be raised by
// a rate-limit answer.
type floorBackOff struct {
	backoff.BackOff
	floor time.Duration
}

func (b *floorBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d != backoff.Stop && d < b.floor {
		d = b.floor
	}
	b.floor = 0
	return d
}

func retryPolicy() *floorBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retryBase
	exp.RandomizationFactor = 0.1
	exp.Multiplier = 2
	exp.MaxInterval = 2 * time.Minute
	exp.MaxElapsedTime = 0
	return &floorBackOff{BackOff: exp}
}

// rateLimitWait doubles the 429 floor per attempt, or uses Retry-After
// seconds when the server asks for longer.
func rateLimitWait(attempt int, retryAfter string) time.Duration {
	d := rateLimitFloor << (attempt - 1)
	if s, err := strconv.Atoi(retryAfter); err == nil && s > 0 {
		d = max(d, time.Duration(s)*time.Second)
	}
	return d
}

// post sends payload to url and returns the 2xx body. Transport errors and
// temporary API errors are retried with backoff.
func post(ctx context.Context, client *http.Client, url, apiKey string, payload []byte) ([]byte, error) {
	policy := retryPolicy()
	var body []byte
	attempt := 0

	send := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("posting to %s: %w", url, err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s response: %w", url, err)
		}
		if resp.StatusCode/100 == 2 {
			body = raw
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		if !apiErr.Temporary() {
			return backoff.Permanent(apiErr)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			policy.floor = rateLimitWait(attempt, resp.Header.Get("Retry-After"))
		}
		return apiErr
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, retryLimit), ctx)
	err := backoff.RetryNotify(send, b, func(err error, wait time.Duration) {
		slog.Warn("llm: retrying request", "url", url, "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Temporary() && attempt > int(retryLimit) {
			return nil, fmt.Errorf("max retries exceeded: %w", err)
		}
		return nil, err
	}
	return body, nil
}
