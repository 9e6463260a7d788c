// Package jobctx gives processors access to the job they are running and to
// phase checkpoints that survive retries.
package jobctx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jdziat/recipe-enricher/pkg/core"
	intctx "github.com/jdziat/recipe-enricher/pkg/internal/context"
)

// WithJob attaches job state to ctx. The worker calls this before running a
// processor; tests use it to exercise checkpointing directly.
func WithJob(ctx context.Context, job *core.Job, storage core.Storage, workerID string, checkpoints []core.Checkpoint) context.Context {
	return intctx.WithJobContext(ctx, intctx.NewJobContext(job, storage, workerID, checkpoints))
}

// JobFromContext returns the current Job from context, or nil if not in a job handler.
func JobFromContext(ctx context.Context) *core.Job {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID, or "" outside a job handler.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// AttemptFromContext returns the current attempt number, or 0 outside a job handler.
func AttemptFromContext(ctx context.Context) int {
	job := JobFromContext(ctx)
	if job == nil {
		return 0
	}
	return job.Attempt
}

// SavePhaseCheckpoint stores the result of a completed phase.
// Returns nil if not running within a job handler.
func SavePhaseCheckpoint(ctx context.Context, phase string, result any) error {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil {
		return nil
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal phase result: %w", err)
	}

	return jc.SavePhase(ctx, &core.Checkpoint{
		ID:     uuid.New().String(),
		JobID:  jc.Job.ID,
		Phase:  phase,
		Result: resultBytes,
	})
}

// LoadPhaseCheckpoint returns a phase result saved by an earlier attempt.
// Returns (zero, false) if absent, undecodable, or not in a job handler.
func LoadPhaseCheckpoint[T any](ctx context.Context, phase string) (T, bool) {
	var zero T

	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return zero, false
	}

	cp, ok := jc.Phase(phase)
	if !ok {
		return zero, false
	}

	var result T
	if err := json.Unmarshal(cp.Result, &result); err != nil {
		return zero, false
	}
	return result, true
}

// Phase runs fn once per job: a result checkpointed by an earlier attempt is
// returned without calling fn again.
func Phase[T any](ctx context.Context, phase string, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := LoadPhaseCheckpoint[T](ctx, phase); ok {
		return v, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	if err := SavePhaseCheckpoint(ctx, phase, v); err != nil {
		return v, fmt.Errorf("checkpoint %s: %w", phase, err)
	}
	return v, nil
}
