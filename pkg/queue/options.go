package queue

import (
	"time"

	"github.com/jdziat/recipe-enricher/pkg/security"
)

// Options holds per-enqueue settings.
type Options struct {
	DedupKey    string
	Delay       time.Duration
	RunAt       *time.Time
	MaxAttempts int
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// DedupKey makes the enqueue idempotent: while a job with this key is pending
// or running, further enqueues return it instead of creating another.
func DedupKey(key string) Option {
	return optionFunc(func(o *Options) {
		o.DedupKey = key
	})
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Attempts overrides the queue's MaxAttempts for one job.
// Values are clamped to [1, MaxAttempts].
func Attempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxAttempts = security.ClampAttempts(n)
	})
}
