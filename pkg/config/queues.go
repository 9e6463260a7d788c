package config

import (
	"fmt"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/enrich"
	"github.com/jdziat/recipe-enricher/pkg/queue"
)

// QueueOverride is a [queues.<name>] table. Unset fields keep the queue's
// built-in value.
type QueueOverride struct {
	Concurrency       *int      `toml:"concurrency"`
	MaxAttempts       *int      `toml:"max_attempts"`
	Backoff           string    `toml:"backoff"`
	BackoffDelay      *Duration `toml:"backoff_delay"`
	LockDuration      *Duration `toml:"lock_duration"`
	LockRenewInterval *Duration `toml:"lock_renew_interval"`
	StalledInterval   *Duration `toml:"stalled_interval"`
	MaxStalledCount   *int      `toml:"max_stalled_count"`
	DrainDelay        *Duration `toml:"drain_delay"`
	Timeout           *Duration `toml:"timeout"`
	KeepCompleted     *int      `toml:"keep_completed"`
	KeepFailed        *int      `toml:"keep_failed"`
}

func (o QueueOverride) validate() error {
	switch core.BackoffType(o.Backoff) {
	case "", core.BackoffFixed, core.BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff %q", o.Backoff)
	}
	if o.MaxAttempts != nil && *o.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if o.Concurrency != nil && *o.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}

// Apply returns base with the override's set fields replaced.
func (o QueueOverride) Apply(base queue.Config) queue.Config {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&base.Concurrency, o.Concurrency)
	setInt(&base.MaxAttempts, o.MaxAttempts)
	setInt(&base.MaxStalledCount, o.MaxStalledCount)
	setInt(&base.RemoveOnComplete.Count, o.KeepCompleted)
	setInt(&base.RemoveOnFail.Count, o.KeepFailed)
	if o.Backoff != "" {
		base.Backoff.Type = core.BackoffType(o.Backoff)
	}
	if o.BackoffDelay != nil {
		base.Backoff.Delay = o.BackoffDelay.Std()
	}
	if o.LockDuration != nil {
		base.LockDuration = o.LockDuration.Std()
	}
	if o.LockRenewInterval != nil {
		base.LockRenewInterval = o.LockRenewInterval.Std()
	}
	if o.StalledInterval != nil {
		base.StalledInterval = o.StalledInterval.Std()
	}
	if o.DrainDelay != nil {
		base.DrainDelay = o.DrainDelay.Std()
	}
	if o.Timeout != nil {
		base.Timeout = o.Timeout.Std()
	}
	return base
}

// QueueConfigs resolves every [queues.<name>] table against the built-in
// defaults, ready for enrich.Enricher.Register.
func (c *Config) QueueConfigs() map[string]queue.Config {
	defaults := enrich.DefaultQueueConfigs()
	out := make(map[string]queue.Config, len(c.Queues))
	for name, o := range c.Queues {
		base, ok := defaults[name]
		if !ok {
			continue
		}
		out[name] = o.Apply(base)
	}
	return out
}
