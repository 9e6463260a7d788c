package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/security"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying database handle.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage runs on SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

func (s *GormStorage) isPostgres() bool {
	return s.db != nil && s.db.Dialector.Name() == "postgres"
}

// forUpdate adds row locking on PostgreSQL. SQLite serializes writers on its
// own, so the clause is skipped there.
func (s *GormStorage) forUpdate(tx *gorm.DB, skipLocked bool) *gorm.DB {
	if !s.isPostgres() {
		return tx
	}
	lock := clause.Locking{Strength: "UPDATE"}
	if skipLocked {
		lock.Options = "SKIP LOCKED"
	}
	return tx.Clauses(lock)
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.Checkpoint{})
}

// Enqueue adds a job to its queue.
//
// The job ID doubles as the dedup key. If a pending or running job already
// holds the ID, nothing is written and the in-flight job is returned with
// core.ErrDuplicateJob. A terminal job holding the ID is replaced.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) (*core.Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if job.BackoffType == "" {
		job.BackoffType = core.BackoffExponential
	}

	var existing core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current core.Job
		err := s.forUpdate(tx, false).Where("id = ?", job.ID).Take(&current).Error
		switch {
		case err == nil:
			if current.Status.InFlight() {
				existing = current
				return core.ErrDuplicateJob
			}
			if err := tx.Where("job_id = ?", job.ID).Delete(&core.Checkpoint{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id = ?", job.ID).Delete(&core.Job{}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}
		return tx.Create(job).Error
	})

	if errors.Is(err, core.ErrDuplicateJob) {
		return &existing, core.ErrDuplicateJob
	}
	if err != nil && isUniqueViolation(err) {
		// Lost a race with a concurrent enqueue for the same key.
		current, getErr := s.GetJob(ctx, job.ID)
		if getErr != nil {
			return nil, getErr
		}
		return current, core.ErrDuplicateJob
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// Dequeue fetches and locks the oldest runnable job in the queue.
// Returns (nil, nil) when the queue has nothing to run.
func (s *GormStorage) Dequeue(ctx context.Context, queue string, workerID string, lockDuration time.Duration) (*core.Job, error) {
	var job core.Job
	now := time.Now()
	lockUntil := now.Add(lockDuration)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := s.forUpdate(tx, true).
			Where("queue = ?", queue).
			Where("status = ?", core.StatusPending).
			Where("(run_at IS NULL OR run_at <= ?)", now).
			Order("created_at ASC").
			First(&job)

		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		job.Status = core.StatusRunning
		job.LockedBy = workerID
		job.LockedUntil = &lockUntil
		job.StartedAt = &now
		job.Attempt++

		return tx.Save(&job).Error
	})

	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// Complete marks a job as successfully completed.
// Validates that the worker owns the job before completing.
func (s *GormStorage) Complete(ctx context.Context, jobID string, workerID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Updates(map[string]any{
			"status":       core.StatusCompleted,
			"completed_at": now,
			"last_error":   "",
			"locked_by":    "",
			"locked_until": nil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Fail records a failed attempt. A non-nil retryAt puts the job back to
// pending; otherwise it becomes terminally failed.
// Error messages are sanitized before storage.
func (s *GormStorage) Fail(ctx context.Context, jobID string, workerID string, errMsg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error":   security.SanitizeErrorMessage(errMsg),
		"locked_by":    "",
		"locked_until": nil,
	}

	if retryAt != nil {
		updates["status"] = core.StatusPending
		updates["run_at"] = retryAt
	} else {
		updates["status"] = core.StatusFailed
		updates["completed_at"] = time.Now()
	}

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Heartbeat extends the lock on a running job. ErrJobNotOwned means the lock
// was lost, typically because the job was recovered as stalled.
func (s *GormStorage) Heartbeat(ctx context.Context, jobID string, workerID string, lockDuration time.Duration) error {
	lockUntil := time.Now().Add(lockDuration)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Update("locked_until", lockUntil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// RecoverStalled finds running jobs whose lock expired. A job that has
// stalled fewer than maxStalledCount times goes back to pending (the stalled
// attempt is not counted); otherwise it is failed permanently.
func (s *GormStorage) RecoverStalled(ctx context.Context, queue string, maxStalledCount int) (*core.StallResult, error) {
	now := time.Now()
	res := &core.StallResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stalled []*core.Job
		err := s.forUpdate(tx, true).
			Where("queue = ?", queue).
			Where("status = ?", core.StatusRunning).
			Where("locked_until IS NOT NULL AND locked_until < ?", now).
			Find(&stalled).Error
		if err != nil {
			return err
		}

		for _, job := range stalled {
			job.StalledCount++
			job.LockedBy = ""
			job.LockedUntil = nil

			if job.StalledCount <= maxStalledCount {
				job.Status = core.StatusPending
				if job.Attempt > 0 {
					job.Attempt--
				}
				job.LastError = "job lock expired; requeued"
				res.Requeued = append(res.Requeued, job)
			} else {
				job.Status = core.StatusFailed
				job.CompletedAt = &now
				job.LastError = core.ErrJobStalled.Error()
				res.Failed = append(res.Failed, job)
			}

			if err := tx.Save(job).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Prune deletes terminal jobs of the given status beyond the retention policy.
func (s *GormStorage) Prune(ctx context.Context, queue string, status core.JobStatus, policy core.RetentionPolicy) (int64, error) {
	if !status.Terminal() {
		return 0, nil
	}

	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string

		if policy.Age > 0 {
			var aged []string
			cutoff := time.Now().Add(-policy.Age)
			if err := tx.Model(&core.Job{}).
				Where("queue = ? AND status = ? AND completed_at < ?", queue, status, cutoff).
				Pluck("id", &aged).Error; err != nil {
				return err
			}
			ids = append(ids, aged...)
		}

		if policy.Count > 0 {
			var overflow []string
			if err := tx.Model(&core.Job{}).
				Where("queue = ? AND status = ?", queue, status).
				Order("completed_at DESC").
				Offset(policy.Count).
				Limit(10000).
				Pluck("id", &overflow).Error; err != nil {
				return err
			}
			ids = append(ids, overflow...)
		}

		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&core.Checkpoint{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&core.Job{})
		total = result.RowsAffected
		return result.Error
	})
	return total, err
}

// SaveCheckpoint stores a phase result, replacing an earlier one for the same phase.
func (s *GormStorage) SaveCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ? AND phase = ?", cp.JobID, cp.Phase).Delete(&core.Checkpoint{}).Error; err != nil {
			return err
		}
		return tx.Create(cp).Error
	})
}

// GetCheckpoints retrieves all checkpoints for a job.
func (s *GormStorage) GetCheckpoints(ctx context.Context, jobID string) ([]core.Checkpoint, error) {
	var checkpoints []core.Checkpoint
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&checkpoints).Error
	return checkpoints, err
}

// DeleteCheckpoints removes all checkpoints for a job.
func (s *GormStorage) DeleteCheckpoints(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&core.Checkpoint{}).Error
}

// GetJob retrieves a job by ID. Returns (nil, nil) when it does not exist.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetInFlight returns pending and running jobs of a queue, oldest first.
func (s *GormStorage) GetInFlight(ctx context.Context, queue string, limit int) ([]*core.Job, error) {
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Where("queue = ?", queue).
		Where("status IN ?", []core.JobStatus{core.StatusPending, core.StatusRunning}).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobList).Error
	return jobList, err
}

// GetJobsByStatus retrieves jobs of a queue by status.
func (s *GormStorage) GetJobsByStatus(ctx context.Context, queue string, status core.JobStatus, limit int) ([]*core.Job, error) {
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Where("queue = ?", queue).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobList).Error
	return jobList, err
}

// QueueStats counts a queue's jobs by status.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int64  `json:"pending"`
	Running   int64  `json:"running"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// GetQueueStats returns job counts for every queue that has jobs, sorted by
// queue name.
func (s *GormStorage) GetQueueStats(ctx context.Context) ([]QueueStats, error) {
	var rows []struct {
		Queue  string
		Status core.JobStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&core.Job{}).
		Select("queue, status, COUNT(*) AS count").
		Group("queue, status").
		Order("queue").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var out []QueueStats
	for _, r := range rows {
		if len(out) == 0 || out[len(out)-1].Queue != r.Queue {
			out = append(out, QueueStats{Queue: r.Queue})
		}
		qs := &out[len(out)-1]
		switch r.Status {
		case core.StatusPending:
			qs.Pending = r.Count
		case core.StatusRunning:
			qs.Running = r.Count
		case core.StatusCompleted:
			qs.Completed = r.Count
		case core.StatusFailed:
			qs.Failed = r.Count
		}
	}
	return out, nil
}
