package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/recipe-enricher/pkg/core"
)

// RetryConfig controls retries of the worker's own storage calls (claim,
// heartbeat, complete, fail). Job retries are governed by queue.Config.
type RetryConfig struct {
	// MaxAttempts includes the initial call.
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// JitterFraction randomizes each wait by up to this fraction (0.0 to 1.0).
	JitterFraction float64
}

// DefaultRetryConfig returns the default storage retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// dequeueRetryConfig backs off longer so an outage is not hammered by every pool.
func dequeueRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// retryWithBackoff runs operation until it succeeds, returns a permanent
// error, or exhausts config.MaxAttempts.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) || attempt >= config.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}

// IsRetryableError reports whether a storage error may succeed on retry.
// Context errors and a lost job lock are permanent; other database errors
// (connection resets, lock waits, deadlocks) are assumed transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, core.ErrJobNotOwned) {
		return false
	}
	return true
}
