// Package batch provides a bounded worker pool that fans GLPI queries out in
// parallel and collects the results in input order.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds worker pool configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel calls.
	// GLPI serves each session serially on most installs, so keep this small.
	MaxConcurrency int

	// Timeout per item (0 = inherit the caller's deadline)
	Timeout time.Duration

	// Name labels log lines
	Name string
}

// DefaultConfig returns a conservative configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
	}
}

// Result is the outcome of one item
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Map calls fn for every item using at most cfg.MaxConcurrency workers and
// returns one Result per item, in input order. A failing item does not stop
// the others; items not started before ctx is done get ctx.Err().
func Map[T, R any](ctx context.Context, cfg Config, items []T, fn func(ctx context.Context, item T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	workers := cfg.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	start := time.Now()
	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0
			for idx := range queue {
				if err := ctx.Err(); err != nil {
					results[idx] = Result[R]{Index: idx, Err: err}
					continue
				}

				itemCtx := ctx
				cancel := func() {}
				if cfg.Timeout > 0 {
					itemCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
				}
				value, err := fn(itemCtx, items[idx])
				cancel()

				results[idx] = Result[R]{Index: idx, Value: value, Err: err}
				processed++
			}
			if processed > 0 {
				log.Debug().
					Str("batch", cfg.Name).
					Int("worker_id", workerID).
					Int("items_processed", processed).
					Msg("Worker completed")
			}
		}(w)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Debug().
		Str("batch", cfg.Name).
		Int("items", len(items)).
		Int("failed", failed).
		Int("workers", workers).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	return results
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
