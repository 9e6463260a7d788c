package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Values(t *testing.T) {
	assert.Equal(t, JobStatus("pending"), StatusPending)
	assert.Equal(t, JobStatus("running"), StatusRunning)
	assert.Equal(t, JobStatus("completed"), StatusCompleted)
	assert.Equal(t, JobStatus("failed"), StatusFailed)
}

func TestJobStatus_InFlightAndTerminal(t *testing.T) {
	assert.True(t, StatusPending.InFlight())
	assert.True(t, StatusRunning.InFlight())
	assert.False(t, StatusCompleted.InFlight())
	assert.False(t, StatusFailed.InFlight())

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestJob_BackoffDelay(t *testing.T) {
	job := &Job{BackoffDelayMs: 2500}
	assert.Equal(t, 2500*time.Millisecond, job.BackoffDelay())
}

func TestEnqueueResult_Constructors(t *testing.T) {
	q := Queued("job-1")
	assert.Equal(t, EnqueueQueued, q.Status)
	assert.Equal(t, "job-1", q.JobID)
	assert.Empty(t, q.Reason)

	d := Duplicate("allergy-detect-42")
	assert.Equal(t, EnqueueDuplicate, d.Status)
	assert.Equal(t, "allergy-detect-42", d.JobID)

	s := Skipped("allergy detection disabled")
	assert.Equal(t, EnqueueSkipped, s.Status)
	assert.Empty(t, s.JobID)
	assert.Equal(t, "allergy detection disabled", s.Reason)
}

func TestEnqueueResult_JSONOmitsEmpty(t *testing.T) {
	data, err := json.Marshal(Skipped("no allergens configured"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"skipped","reason":"no allergens configured"}`, string(data))
}
