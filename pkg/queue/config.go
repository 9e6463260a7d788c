package queue

import (
	"time"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/security"
)

// Backoff controls the delay before a failed attempt is retried.
type Backoff struct {
	Type  core.BackoffType
	Delay time.Duration
}

// Config holds the per-queue tunables.
type Config struct {
	// Concurrency is the fixed number of jobs a pool runs at once.
	Concurrency int
	// MaxAttempts bounds total attempts, including the first.
	MaxAttempts int
	Backoff     Backoff

	// LockDuration is how long a claim is valid without renewal.
	LockDuration time.Duration
	// LockRenewInterval is how often a running job extends its lock.
	LockRenewInterval time.Duration
	// StalledInterval is how often expired locks are swept.
	StalledInterval time.Duration
	// MaxStalledCount is how many stalls a job survives before it fails.
	MaxStalledCount int
	// DrainDelay is the pause after a queue runs dry.
	DrainDelay time.Duration

	RemoveOnComplete core.RetentionPolicy
	RemoveOnFail     core.RetentionPolicy

	// UserFacing marks queues whose terminal failures are shown to the user.
	UserFacing bool
	// Timeout caps a single attempt. Zero means no limit beyond the lock.
	Timeout time.Duration
}

// DefaultConfig returns the baseline every queue starts from.
func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		MaxAttempts:       3,
		Backoff:           Backoff{Type: core.BackoffExponential, Delay: 5 * time.Second},
		LockDuration:      30 * time.Second,
		LockRenewInterval: 15 * time.Second,
		StalledInterval:   30 * time.Second,
		MaxStalledCount:   1,
		DrainDelay:        5 * time.Second,
		RemoveOnComplete:  core.RetentionPolicy{Count: 100, Age: 24 * time.Hour},
		RemoveOnFail:      core.RetentionPolicy{Count: 500, Age: 7 * 24 * time.Hour},
	}
}

// Normalized fills zero fields from DefaultConfig and clamps the rest.
func (c Config) Normalized() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	c.Concurrency = security.ClampConcurrency(c.Concurrency)
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	c.MaxAttempts = security.ClampAttempts(c.MaxAttempts)
	if c.Backoff.Type == "" {
		c.Backoff.Type = d.Backoff.Type
	}
	if c.Backoff.Delay <= 0 {
		c.Backoff.Delay = d.Backoff.Delay
	}
	if c.LockDuration <= 0 {
		c.LockDuration = d.LockDuration
	}
	if c.LockRenewInterval <= 0 || c.LockRenewInterval >= c.LockDuration {
		c.LockRenewInterval = c.LockDuration / 2
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = d.StalledInterval
	}
	if c.MaxStalledCount <= 0 {
		c.MaxStalledCount = d.MaxStalledCount
	}
	if c.DrainDelay < 0 {
		c.DrainDelay = 0
	}
	return c
}

// BackoffFor returns the delay before retrying after the given attempt
// (1-based). Exponential grows as delay*2^(attempt-1); fixed is constant.
func (c Config) BackoffFor(attempt int) time.Duration {
	return BackoffDelay(c.Backoff.Type, c.Backoff.Delay, attempt)
}

// maxBackoffShift keeps exponential delays from overflowing.
const maxBackoffShift = 20

// BackoffDelay computes the retry delay for a job's stored backoff settings.
func BackoffDelay(typ core.BackoffType, delay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if typ == core.BackoffFixed {
		return delay
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return delay * time.Duration(1<<shift)
}
