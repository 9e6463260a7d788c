package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/internal/handler"
	"github.com/jdziat/recipe-enricher/pkg/jobctx"
	"github.com/jdziat/recipe-enricher/pkg/observability"
	"github.com/jdziat/recipe-enricher/pkg/queue"
	"github.com/jdziat/recipe-enricher/pkg/security"
)

// Worker runs one independent pool per queue, so a slow queue never starves
// another.
type Worker struct {
	queue  *queue.Queue
	config WorkerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorker creates a new worker for the given queue registry.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		PollInterval: time.Second,
		WorkerID:     uuid.New().String(),
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.StorageRetry == nil {
		rc := DefaultRetryConfig()
		config.StorageRetry = &rc
	}
	if config.DequeueRetry == nil {
		rc := dequeueRetryConfig()
		config.DequeueRetry = &rc
	}
	logger := config.Logger
	if logger == nil {
		logger = q.Logger()
	}

	return &Worker{
		queue:  q,
		config: config,
		logger: logger.With("worker_id", config.WorkerID),
	}
}

// ID returns the identity this worker records in job locks.
func (w *Worker) ID() string {
	return w.config.WorkerID
}

// Start begins processing jobs. Blocks until ctx is cancelled and every
// in-flight job has returned.
func (w *Worker) Start(ctx context.Context) error {
	names := w.config.Queues
	if len(names) == 0 {
		names = w.queue.Queues()
	}
	if len(names) == 0 {
		return fmt.Errorf("jobs: worker has no queues to process")
	}

	configs := make([]queue.Config, len(names))
	for i, name := range names {
		cfg, ok := w.queue.Config(name)
		if !ok {
			return fmt.Errorf("%w: %q", core.ErrQueueNotFound, name)
		}
		configs[i] = cfg
	}

	for i, name := range names {
		w.wg.Add(2)
		go w.runPool(ctx, name, configs[i])
		go w.runMaintenance(ctx, name, configs[i])
	}

	if w.config.EnableScheduler {
		w.wg.Add(1)
		go w.runScheduler(ctx)
	}

	w.logger.Info("worker started", "queues", names)
	<-ctx.Done()
	w.wg.Wait()
	w.logger.Info("worker stopped")
	return ctx.Err()
}

// runPool claims jobs for one queue while it has free slots.
func (w *Worker) runPool(ctx context.Context, name string, cfg queue.Config) {
	defer w.wg.Done()

	slots := make(chan struct{}, cfg.Concurrency)
	var running sync.WaitGroup
	defer running.Wait()

	processed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		job, err := w.dequeueWithRetry(ctx, name, cfg)
		if err != nil || job == nil {
			<-slots
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Error("failed to dequeue after retries", "queue", name, "error", err)
			}

			wait := w.config.PollInterval
			if job == nil && err == nil && processed > 0 {
				w.queue.Emit(&core.QueueDrained{Queue: name, Processed: processed, Timestamp: time.Now()})
				w.logger.Debug("queue drained", "queue", name, "processed", processed)
				processed = 0
				if cfg.DrainDelay > 0 {
					wait = cfg.DrainDelay
				}
			}
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		processed++
		running.Add(1)
		go func() {
			defer func() {
				<-slots
				running.Done()
			}()
			w.processJob(ctx, job, cfg)
		}()
	}
}

// dequeueWithRetry claims a job with exponential backoff on storage failure.
func (w *Worker) dequeueWithRetry(ctx context.Context, name string, cfg queue.Config) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var dequeueErr error
		job, dequeueErr = w.queue.Storage().Dequeue(ctx, name, w.config.WorkerID, cfg.LockDuration)
		return dequeueErr
	})
	return job, err
}

func (w *Worker) processJob(ctx context.Context, job *core.Job, cfg queue.Config) {
	startTime := time.Now()
	// Outcome writes must land even when shutdown cancels ctx mid-job.
	storeCtx := context.WithoutCancel(ctx)
	log := w.logger.With("job_id", job.ID, "queue", job.Queue, "attempt", job.Attempt)

	h, ok := w.queue.GetHandler(job.Queue)
	if !ok {
		err := core.NoRetry(fmt.Errorf("no processor registered for queue %s", job.Queue))
		log.Error("no handler for job")
		w.handleError(storeCtx, job, err)
		return
	}

	w.queue.Emit(&core.JobStarted{Job: job, Timestamp: startTime})
	log.Debug("job started")

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job, cfg)

	err := w.executeHandler(ctx, job, h)
	cancelHeartbeat()

	observability.JobDuration.WithLabelValues(job.Queue).Observe(time.Since(startTime).Seconds())

	if err != nil {
		log.Warn("job attempt failed", "error", err)
		w.handleError(storeCtx, job, err)
		return
	}

	if err := w.completeWithRetry(storeCtx, job.ID); err != nil {
		log.Error("failed to complete job after retries", "error", err)
		return
	}
	if err := w.queue.Storage().DeleteCheckpoints(storeCtx, job.ID); err != nil {
		log.Warn("failed to delete checkpoints", "error", err)
	}

	observability.JobsProcessed.WithLabelValues(job.Queue, "completed").Inc()
	w.queue.Emit(&core.JobCompleted{Job: job, Duration: time.Since(startTime), Timestamp: time.Now()})
	log.Info("job completed", "duration", time.Since(startTime))
}

// completeWithRetry marks a job complete with retry on transient failures.
func (w *Worker) completeWithRetry(ctx context.Context, jobID string) error {
	return retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().Complete(ctx, jobID, w.config.WorkerID)
	})
}

// runHeartbeat extends the job lock every LockRenewInterval. It stops once
// the lock is lost, which means the stalled sweep has taken the job back.
func (w *Worker) runHeartbeat(ctx context.Context, job *core.Job, cfg queue.Config) {
	ticker := time.NewTicker(cfg.LockRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
				return w.queue.Storage().Heartbeat(ctx, job.ID, w.config.WorkerID, cfg.LockDuration)
			})
			switch {
			case errors.Is(err, core.ErrJobNotOwned):
				w.logger.Warn("job lock lost", "job_id", job.ID, "queue", job.Queue)
				return
			case err != nil && ctx.Err() == nil:
				w.logger.Warn("heartbeat failed after retries", "job_id", job.ID, "error", err)
			}
		}
	}
}

func (w *Worker) executeHandler(ctx context.Context, job *core.Job, h *handler.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	checkpoints, err := w.queue.Storage().GetCheckpoints(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoints: %w", err)
	}

	jobCtx := jobctx.WithJob(ctx, job, w.queue.Storage(), w.config.WorkerID, checkpoints)
	return h.Execute(jobCtx, job.Payload)
}

// handleError decides between retry and terminal failure, records it, and
// runs the failure hooks with the decision.
func (w *Worker) handleError(ctx context.Context, job *core.Job, err error) {
	var retryAt *time.Time
	isFinal := core.IsNoRetry(err) || job.Attempt >= job.MaxAttempts

	if !isFinal {
		delay := queue.BackoffDelay(job.BackoffType, job.BackoffDelay(), job.Attempt)
		var retryAfter *core.RetryAfterError
		if errors.As(err, &retryAfter) && retryAfter.Delay > 0 {
			delay = retryAfter.Delay
		}
		t := time.Now().Add(delay)
		retryAt = &t
	}

	job.LastError = security.SanitizeErrorMessage(err.Error())
	if failErr := w.failWithRetry(ctx, job.ID, err.Error(), retryAt); failErr != nil {
		if errors.Is(failErr, core.ErrJobNotOwned) {
			// The stalled sweep already moved the job on.
			w.logger.Warn("job lock lost before failure was recorded", "job_id", job.ID, "queue", job.Queue)
			return
		}
		w.logger.Error("failed to mark job as failed after retries", "job_id", job.ID, "error", failErr)
	}

	w.queue.CallFailureHooks(ctx, job, err, isFinal)

	if isFinal {
		observability.JobsProcessed.WithLabelValues(job.Queue, "failed").Inc()
		w.queue.Emit(&core.JobFailed{Job: job, Error: err, Timestamp: time.Now()})
		w.logger.Error("job failed", "job_id", job.ID, "queue", job.Queue, "attempt", job.Attempt, "error", err)
		return
	}

	observability.JobsProcessed.WithLabelValues(job.Queue, "retried").Inc()
	w.queue.Emit(&core.JobRetrying{Job: job, Attempt: job.Attempt, Error: err, NextRunAt: *retryAt, Timestamp: time.Now()})
}

// failWithRetry records a failed attempt with retry on transient storage failures.
func (w *Worker) failWithRetry(ctx context.Context, jobID string, errMsg string, retryAt *time.Time) error {
	return retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().Fail(ctx, jobID, w.config.WorkerID, errMsg, retryAt)
	})
}

// runMaintenance sweeps stalled jobs and prunes old ones every StalledInterval.
func (w *Worker) runMaintenance(ctx context.Context, name string, cfg queue.Config) {
	defer w.wg.Done()

	ticker := time.NewTicker(cfg.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.maintain(ctx, name, cfg)
		}
	}
}

func (w *Worker) maintain(ctx context.Context, name string, cfg queue.Config) {
	w.recoverStalled(ctx, name, cfg)
	w.prune(ctx, name, core.StatusCompleted, cfg.RemoveOnComplete)
	w.prune(ctx, name, core.StatusFailed, cfg.RemoveOnFail)
}

func (w *Worker) recoverStalled(ctx context.Context, name string, cfg queue.Config) {
	res, err := w.queue.Storage().RecoverStalled(ctx, name, cfg.MaxStalledCount)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("stalled job sweep failed", "queue", name, "error", err)
		}
		return
	}

	now := time.Now()
	for _, job := range res.Requeued {
		observability.JobsStalled.WithLabelValues(name, "requeued").Inc()
		w.queue.Emit(&core.JobStalled{Job: job, Requeued: true, Timestamp: now})
		w.logger.Warn("stalled job requeued", "job_id", job.ID, "queue", name, "stalled_count", job.StalledCount)
	}
	for _, job := range res.Failed {
		observability.JobsStalled.WithLabelValues(name, "failed").Inc()
		observability.JobsProcessed.WithLabelValues(name, "failed").Inc()
		w.queue.Emit(&core.JobStalled{Job: job, Requeued: false, Timestamp: now})
		w.queue.CallFailureHooks(ctx, job, core.ErrJobStalled, true)
		w.queue.Emit(&core.JobFailed{Job: job, Error: core.ErrJobStalled, Timestamp: now})
		w.logger.Error("stalled job failed", "job_id", job.ID, "queue", name, "stalled_count", job.StalledCount)
	}
}

func (w *Worker) prune(ctx context.Context, name string, status core.JobStatus, policy core.RetentionPolicy) {
	if policy.Count <= 0 && policy.Age <= 0 {
		return
	}
	n, err := w.queue.Storage().Prune(ctx, name, status, policy)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("prune failed", "queue", name, "status", status, "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Debug("pruned jobs", "queue", name, "status", status, "count", n)
	}
}

// runScheduler enqueues recurring jobs when they fall due. Each run is
// enqueued under a key derived from its slot, so several workers running
// the scheduler produce one job per slot.
func (w *Worker) runScheduler(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	next := make(map[string]time.Time)
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.enqueueDue(ctx, next, start, time.Now())
		}
	}
}

func (w *Worker) enqueueDue(ctx context.Context, next map[string]time.Time, start, now time.Time) {
	for name, sj := range w.queue.GetScheduledJobs() {
		due, ok := next[name]
		if !ok {
			due = sj.Schedule.Next(start)
			next[name] = due
		}
		if now.Before(due) {
			continue
		}

		key := fmt.Sprintf("scheduled:%s:%d", name, due.Unix())
		res, err := w.queue.Enqueue(ctx, sj.Queue, sj.Payload, queue.DedupKey(key))
		if err != nil {
			w.logger.Error("failed to enqueue scheduled job", "name", name, "error", err)
			continue
		}
		w.logger.Debug("scheduled job enqueued", "name", name, "status", res.Status, "job_id", res.JobID)
		next[name] = sj.Schedule.Next(now)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
