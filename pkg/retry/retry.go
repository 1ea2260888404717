// Package retry implements the exponential backoff policy shared by the
// session manager and the request executor.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glpi_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glpi_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by operation",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glpi_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

var (
	// ErrRetryExhausted is returned when all attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a backoff wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how many attempts are made and how long to wait between them.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Base is the exponent base: the wait after attempt i (0-indexed) is Base^i seconds.
	Base float64

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep SleepFunc
}

// DefaultPolicy returns 3 attempts with base 2 (waits of 1s then 2s).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Base:        2,
	}
}

// Delay returns the wait after the given 0-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 2
	}
	return time.Duration(math.Pow(base, float64(attempt)) * float64(time.Second))
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// permanentError stops the retry loop immediately.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, or the policy
// runs out of attempts. There is no wait after the final attempt.
// The attempt index passed to fn is 0-based.
func Do(ctx context.Context, p Policy, operation string, fn func(attempt int) error) error {
	maxAttempts := p.attempts()
	sleep := p.Sleep
	if sleep == nil {
		sleep = contextSleep
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				log.Info().
					Str("operation", operation).
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			var p *permanentError
			errors.As(err, &p)
			return p.err
		}

		if attempt >= maxAttempts-1 {
			break
		}

		backoff := p.Delay(attempt)
		retriesTotal.WithLabelValues(operation).Inc()
		retryBackoffSeconds.WithLabelValues(operation).Observe(backoff.Seconds())

		log.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Attempt failed, retrying after backoff")

		if err := sleep(ctx, backoff); err != nil {
			log.Warn().
				Str("operation", operation).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(operation).Inc()
	log.Error().
		Err(lastErr).
		Str("operation", operation).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
