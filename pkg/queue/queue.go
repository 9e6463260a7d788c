package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/internal/handler"
	"github.com/jdziat/recipe-enricher/pkg/observability"
	"github.com/jdziat/recipe-enricher/pkg/schedule"
	"github.com/jdziat/recipe-enricher/pkg/security"
)

// FailureHook runs after every failed attempt. isFinal is true when the job
// will not be retried.
type FailureHook func(ctx context.Context, job *core.Job, err error, isFinal bool)

// Queue holds the registered queues and their handlers, enqueues jobs and
// fans lifecycle events out to subscribers.
type Queue struct {
	storage       core.Storage
	handlers      map[string]*handler.Handler
	configs       map[string]Config
	scheduledJobs map[string]*ScheduledJob
	logger        *slog.Logger
	mu            sync.RWMutex

	onFailure []FailureHook

	// Event stream
	eventSubs []chan core.Event
}

// ScheduledJob holds configuration for a recurring job.
type ScheduledJob struct {
	Name     string
	Schedule schedule.Schedule
	Queue    string
	Payload  any
}

// New creates a new Queue with the given storage backend.
func New(s core.Storage) *Queue {
	return &Queue{
		storage:  s,
		handlers: make(map[string]*handler.Handler),
		configs:  make(map[string]Config),
		logger:   slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (q *Queue) SetLogger(l *slog.Logger) {
	if l != nil {
		q.logger = l
	}
}

// Logger returns the queue's logger.
func (q *Queue) Logger() *slog.Logger {
	return q.logger
}

// Register declares a named queue and the processor for its jobs.
// The function must have signature: func(ctx context.Context, payload T) error.
// Invalid names or processors panic, as they are programming errors.
func (q *Queue) Register(name string, fn any, cfg Config) {
	if err := security.ValidateQueueName(name); err != nil {
		panic(fmt.Sprintf("jobs: invalid queue name %q: %v", name, err))
	}

	h, err := handler.NewHandler(fn)
	if err != nil {
		panic(fmt.Sprintf("jobs: processor for %q: %v", name, err))
	}

	cfg = cfg.Normalized()
	h.Timeout = cfg.Timeout

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[name]; exists {
		panic(fmt.Sprintf("jobs: %v: %q", core.ErrQueueAlreadyExist, name))
	}
	q.handlers[name] = h
	q.configs[name] = cfg
}

// HasHandler checks if a queue is registered.
func (q *Queue) HasHandler(name string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.handlers[name]
	return ok
}

// GetHandler returns the processor for a queue.
func (q *Queue) GetHandler(name string) (*handler.Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

// Config returns the normalized configuration of a registered queue.
func (q *Queue) Config(name string) (Config, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	cfg, ok := q.configs[name]
	return cfg, ok
}

// Queues returns the registered queue names in sorted order.
func (q *Queue) Queues() []string {
	q.mu.RLock()
	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	q.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Enqueue adds a job to a named queue. With DedupKey, a pending or running
// job holding the same key is returned as a duplicate and no new job is made.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload any, opts ...Option) (core.EnqueueResult, error) {
	if err := security.ValidateQueueName(queueName); err != nil {
		return core.EnqueueResult{}, err
	}

	cfg, ok := q.Config(queueName)
	if !ok {
		return core.EnqueueResult{}, fmt.Errorf("%w: %q", core.ErrQueueNotFound, queueName)
	}

	options := &Options{}
	for _, opt := range opts {
		opt.Apply(options)
	}

	if err := security.ValidateDedupKey(options.DedupKey); err != nil {
		return core.EnqueueResult{}, err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return core.EnqueueResult{}, fmt.Errorf("jobs: failed to marshal payload: %w", err)
	}
	if len(payloadBytes) > security.MaxPayloadSize {
		return core.EnqueueResult{}, core.ErrPayloadTooLarge
	}

	maxAttempts := cfg.MaxAttempts
	if options.MaxAttempts > 0 {
		maxAttempts = options.MaxAttempts
	}

	id := options.DedupKey
	if id == "" {
		id = uuid.New().String()
	}

	job := &core.Job{
		ID:             id,
		Queue:          queueName,
		Payload:        payloadBytes,
		Status:         core.StatusPending,
		MaxAttempts:    maxAttempts,
		BackoffType:    cfg.Backoff.Type,
		BackoffDelayMs: cfg.Backoff.Delay.Milliseconds(),
	}

	if options.Delay > 0 {
		runAt := time.Now().Add(options.Delay)
		job.RunAt = &runAt
	}
	if options.RunAt != nil {
		job.RunAt = options.RunAt
	}

	existing, err := q.storage.Enqueue(ctx, job)
	if errors.Is(err, core.ErrDuplicateJob) && existing != nil {
		observability.JobsEnqueued.WithLabelValues(queueName, string(core.EnqueueDuplicate)).Inc()
		q.logger.Debug("duplicate enqueue", "queue", queueName, "job_id", existing.ID)
		return core.Duplicate(existing.ID), nil
	}
	if err != nil {
		return core.EnqueueResult{}, fmt.Errorf("jobs: failed to enqueue: %w", err)
	}

	observability.JobsEnqueued.WithLabelValues(queueName, string(core.EnqueueQueued)).Inc()
	return core.Queued(job.ID), nil
}

// GetJob returns a job by ID, or nil if it does not exist.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	return q.storage.GetJob(ctx, jobID)
}

// InFlight returns the pending and running jobs of a queue.
func (q *Queue) InFlight(ctx context.Context, queueName string, limit int) ([]*core.Job, error) {
	if err := security.ValidateQueueName(queueName); err != nil {
		return nil, err
	}
	return q.storage.GetInFlight(ctx, queueName, limit)
}

// Schedule registers a recurring job that enqueues payload on queueName.
func (q *Queue) Schedule(name string, sched schedule.Schedule, queueName string, payload any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduledJobs == nil {
		q.scheduledJobs = make(map[string]*ScheduledJob)
	}
	q.scheduledJobs[name] = &ScheduledJob{
		Name:     name,
		Schedule: sched,
		Queue:    queueName,
		Payload:  payload,
	}
}

// GetScheduledJobs returns a copy of the scheduled jobs (for the scheduler).
func (q *Queue) GetScheduledJobs() map[string]*ScheduledJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]*ScheduledJob, len(q.scheduledJobs))
	for k, v := range q.scheduledJobs {
		out[k] = v
	}
	return out
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// OnJobFailure registers a callback for every failed attempt.
func (q *Queue) OnJobFailure(fn FailureHook) {
	q.mu.Lock()
	q.onFailure = append(q.onFailure, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed. After Unsubscribe returns, no further events
// will be sent to it.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full so slow consumers cannot block workers.
		}
	}
}

// CallFailureHooks calls all registered failure hooks. A panicking hook is
// logged and does not stop the others.
func (q *Queue) CallFailureHooks(ctx context.Context, job *core.Job, err error, isFinal bool) {
	q.mu.RLock()
	hooks := make([]FailureHook, len(q.onFailure))
	copy(hooks, q.onFailure)
	q.mu.RUnlock()

	for _, fn := range hooks {
		q.safeHook(job, func() { fn(ctx, job, err, isFinal) })
	}
}

func (q *Queue) safeHook(job *core.Job, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("failure hook panicked", "job_id", job.ID, "queue", job.Queue, "panic", r)
		}
	}()
	fn()
}
