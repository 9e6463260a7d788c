package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when a job starts processing.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job completes successfully.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a failed attempt is scheduled for retry.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobStalled is emitted when a job's lock expired without renewal.
type JobStalled struct {
	Job       *Job
	Requeued  bool
	Timestamp time.Time
}

func (*JobStalled) eventMarker() {}

// QueueDrained is emitted when a pool finds its queue empty after a burst.
type QueueDrained struct {
	Queue     string
	Processed int
	Timestamp time.Time
}

func (*QueueDrained) eventMarker() {}
