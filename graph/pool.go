// Package graph builds the paper knowledge graph: it extracts concepts from
// paper text, relates paper pairs that share concepts, and walks the
// resulting relationship graph.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

// defaultConcurrency is the default semaphore size for parallel LLM work.
const defaultConcurrency = 4

// defaultItemTimeout caps how long a single paper or pair can take.
const defaultItemTimeout = 90 * time.Second

var tracer = otel.Tracer("github.com/brunobiangulo/papergraph/graph")

// Recorder receives per-item outcomes and computed priors. The metrics
// package implements it.
type Recorder interface {
	RecordItem(stage string, err error)
	RecordPrior(prior float64)
}

// BatchResult reports the outcome of a pooled run.
type BatchResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// runPool executes fn for every item with at most concurrency calls in
// flight, each under its own timeout. Individual failures are collected;
// an error is returned only when every item failed.
func runPool[T any](ctx context.Context, stage string, items []T, concurrency int, timeout time.Duration,
	label func(T) string, fn func(context.Context, T) error) (BatchResult, error) {

	res := BatchResult{Total: len(items)}
	if len(items) == 0 {
		return res, nil
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if timeout <= 0 {
		timeout = defaultItemTimeout
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, concurrency)
		start = time.Now()
		done  int
	)

	fail := func(item T, err error) {
		mu.Lock()
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", label(item), err))
		done++
		mu.Unlock()
	}

	for _, item := range items {
		wg.Add(1)
		go func(item T) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				fail(item, ctx.Err())
				return
			}

			itemCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			itemStart := time.Now()
			if err := fn(itemCtx, item); err != nil {
				slog.Warn(stage+": item failed",
					"item", label(item), "error", err,
					"elapsed", time.Since(itemStart).Round(time.Millisecond))
				fail(item, err)
				return
			}

			mu.Lock()
			res.Succeeded++
			done++
			n := done
			mu.Unlock()
			slog.Info(stage+": item processed",
				"progress", fmt.Sprintf("%d/%d", n, len(items)),
				"item", label(item),
				"elapsed", time.Since(itemStart).Round(time.Millisecond),
				"total_elapsed", time.Since(start).Round(time.Millisecond))
		}(item)
	}

	wg.Wait()

	if res.Failed == len(items) {
		return res, fmt.Errorf("%s: all %d items failed; first error: %s", stage, len(items), res.Errors[0])
	}
	if res.Failed > 0 {
		slog.Warn(stage+": completed with failures",
			"succeeded", res.Succeeded, "failed", res.Failed, "total", len(items))
	}
	return res, nil
}
