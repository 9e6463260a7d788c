package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrInvalidQueueName  = errors.New("jobs: invalid queue name")
	ErrQueueNameTooLong  = errors.New("jobs: queue name too long")
	ErrPayloadTooLarge   = errors.New("jobs: job payload exceeds size limit")
	ErrJobNotOwned       = errors.New("jobs: job not owned by this worker")
	ErrDuplicateJob      = errors.New("jobs: duplicate in-flight job with same dedup key")
	ErrDedupKeyTooLong   = errors.New("jobs: dedup key exceeds maximum length")
	ErrInvalidDedupKey   = errors.New("jobs: invalid dedup key")
	ErrQueueNotFound     = errors.New("jobs: queue not registered")
	ErrQueueAlreadyExist = errors.New("jobs: queue already registered")
	ErrJobStalled        = errors.New("job stalled more than allowable limit")
)

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// IsNoRetry reports whether err carries a NoRetry marker.
func IsNoRetry(err error) bool {
	var nr *NoRetryError
	return errors.As(err, &nr)
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
