package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// InFlight reports whether a job in this status still occupies its dedup key.
func (s JobStatus) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BackoffType selects how retry delays grow between attempts.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Job represents a unit of work to be processed.
//
// When a dedup key is supplied on enqueue it becomes the job ID, so the
// primary key itself guarantees at most one row per logical unit of work.
type Job struct {
	ID             string      `gorm:"primaryKey;size:255"`
	Queue          string      `gorm:"index;size:255;not null"`
	Payload        []byte      `gorm:"type:bytes"`
	Status         JobStatus   `gorm:"index;size:20;default:'pending'"`
	Attempt        int         `gorm:"default:0"`
	MaxAttempts    int         `gorm:"default:3"`
	BackoffType    BackoffType `gorm:"size:20;default:'exponential'"`
	BackoffDelayMs int64       `gorm:"default:1000"`
	StalledCount   int         `gorm:"default:0"`
	LastError      string      `gorm:"type:text"`
	RunAt          *time.Time  `gorm:"index"`
	StartedAt      *time.Time
	CompletedAt    *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
	LockedBy       string     `gorm:"size:255"`
	LockedUntil    *time.Time `gorm:"index"`
}

// BackoffDelay returns the configured base delay.
func (j *Job) BackoffDelay() time.Duration {
	return time.Duration(j.BackoffDelayMs) * time.Millisecond
}

// Checkpoint stores the result of a completed processing phase so a retried
// attempt can resume from it.
type Checkpoint struct {
	ID        string    `gorm:"primaryKey;size:36"`
	JobID     string    `gorm:"index;size:255;not null"`
	Phase     string    `gorm:"size:255;not null"`
	Result    []byte    `gorm:"type:bytes"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// EnqueueStatus is the outcome of an enqueue request.
type EnqueueStatus string

const (
	EnqueueQueued    EnqueueStatus = "queued"
	EnqueueDuplicate EnqueueStatus = "duplicate"
	EnqueueSkipped   EnqueueStatus = "skipped"
)

// EnqueueResult describes what happened to an enqueue request.
type EnqueueResult struct {
	Status EnqueueStatus `json:"status"`
	JobID  string        `json:"jobId,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Queued builds a queued result.
func Queued(jobID string) EnqueueResult {
	return EnqueueResult{Status: EnqueueQueued, JobID: jobID}
}

// Duplicate builds a duplicate result pointing at the in-flight job.
func Duplicate(jobID string) EnqueueResult {
	return EnqueueResult{Status: EnqueueDuplicate, JobID: jobID}
}

// Skipped builds a skipped result with the reason the caller gave.
func Skipped(reason string) EnqueueResult {
	return EnqueueResult{Status: EnqueueSkipped, Reason: reason}
}
