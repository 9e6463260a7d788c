// Package context provides context helpers for job processors.
package context

import (
	"context"
	"sync"

	"github.com/jdziat/recipe-enricher/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the job being processed and its saved phases.
type JobContext struct {
	Job      *core.Job
	Storage  core.Storage
	WorkerID string

	mu     sync.Mutex
	phases map[string]*core.Checkpoint
}

// NewJobContext builds a JobContext seeded with checkpoints from earlier attempts.
func NewJobContext(job *core.Job, storage core.Storage, workerID string, checkpoints []core.Checkpoint) *JobContext {
	jc := &JobContext{
		Job:      job,
		Storage:  storage,
		WorkerID: workerID,
		phases:   make(map[string]*core.Checkpoint, len(checkpoints)),
	}
	for i := range checkpoints {
		jc.phases[checkpoints[i].Phase] = &checkpoints[i]
	}
	return jc
}

// Phase returns the checkpoint saved for phase, if any.
func (jc *JobContext) Phase(phase string) (*core.Checkpoint, bool) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	cp, ok := jc.phases[phase]
	return cp, ok
}

// SavePhase persists cp and makes it visible to later Phase lookups.
func (jc *JobContext) SavePhase(ctx context.Context, cp *core.Checkpoint) error {
	if jc.Storage != nil {
		if err := jc.Storage.SaveCheckpoint(ctx, cp); err != nil {
			return err
		}
	}
	jc.mu.Lock()
	if jc.phases == nil {
		jc.phases = make(map[string]*core.Checkpoint)
	}
	jc.phases[cp.Phase] = cp
	jc.mu.Unlock()
	return nil
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}
