package worker

import (
	"log/slog"
	"time"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration. Per-queue tunables such as
// concurrency live on queue.Config.
type WorkerConfig struct {
	// Queues limits the worker to these queues. Empty means every registered queue.
	Queues          []string
	PollInterval    time.Duration
	WorkerID        string
	EnableScheduler bool
	Logger          *slog.Logger
	StorageRetry    *RetryConfig
	DequeueRetry    *RetryConfig
}

// WithQueues restricts the worker to the named queues.
func WithQueues(names ...string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Queues = append(c.Queues, names...)
	})
}

// PollInterval sets how long an idle pool waits before polling again.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WithWorkerID sets the identity recorded in job locks.
func WithWorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// WithScheduler enables the scheduler in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableScheduler = enabled
	})
}

// WithLogger sets the worker's logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}

// WithStorageRetry sets the retry policy for lock, complete and fail writes.
func WithStorageRetry(rc RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &rc
	})
}

// WithDequeueRetry sets the retry policy for claiming jobs.
func WithDequeueRetry(rc RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DequeueRetry = &rc
	})
}
