package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// StatusError is a non-2xx response from an upstream API.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// ErrNotFound is returned when an upstream API has no record for an ID.
var ErrNotFound = errors.New("source: not found")

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// fetcher performs rate-limited GETs with exponential backoff on 429 and
// 5xx responses.
type fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	retries   uint64
	initial   time.Duration
}

func newFetcher(delay time.Duration) *fetcher {
	lim := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		lim = rate.NewLimiter(rate.Every(delay), 1)
	}
	return &fetcher{
		client:    &http.Client{Timeout: 60 * time.Second},
		limiter:   lim,
		userAgent: "papergraph/1.0 (+https://github.com/brunobiangulo/papergraph)",
		retries:   5,
		initial:   time.Second,
	}
}

// get returns the response body for url. headers are added to the request.
func (f *fetcher) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var body []byte
	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", f.userAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%s: %w", url, ErrNotFound))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			serr := &StatusError{URL: url, StatusCode: resp.StatusCode}
			if !retryable(resp.StatusCode) {
				return backoff.Permanent(serr)
			}
			return serr
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.initial
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, f.retries), ctx)

	err := backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		slog.Warn("source: retrying request", "url", url, "delay", d, "error", err)
	})
	return body, err
}
