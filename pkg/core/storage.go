package core

import (
	"context"
	"time"
)

// Starter is the interface for starting long-running components.
type Starter interface {
	Start(ctx context.Context) error
}

// RetentionPolicy bounds how many terminal jobs are kept and for how long.
// Zero values disable the corresponding bound.
type RetentionPolicy struct {
	Count int
	Age   time.Duration
}

// StallResult reports what a stalled-job sweep did.
type StallResult struct {
	// Requeued jobs had their lock expire for the first time and are pending again.
	Requeued []*Job
	// Failed jobs exceeded the stall limit and are now terminal.
	Failed []*Job
}

// Storage defines the persistence layer for jobs.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Enqueue inserts a job. When the job ID names an in-flight job the
	// existing job is returned together with ErrDuplicateJob.
	Enqueue(ctx context.Context, job *Job) (*Job, error)

	// Job lifecycle
	Dequeue(ctx context.Context, queue string, workerID string, lockDuration time.Duration) (*Job, error)
	Complete(ctx context.Context, jobID string, workerID string) error
	Fail(ctx context.Context, jobID string, workerID string, errMsg string, retryAt *time.Time) error

	// Locking
	Heartbeat(ctx context.Context, jobID string, workerID string, lockDuration time.Duration) error
	RecoverStalled(ctx context.Context, queue string, maxStalledCount int) (*StallResult, error)

	// Retention
	Prune(ctx context.Context, queue string, status JobStatus, policy RetentionPolicy) (int64, error)

	// Checkpointing
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoints(ctx context.Context, jobID string) ([]Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, jobID string) error

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetInFlight(ctx context.Context, queue string, limit int) ([]*Job, error)
	GetJobsByStatus(ctx context.Context, queue string, status JobStatus, limit int) ([]*Job, error)
}
