package enrich

import (
	"time"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/queue"
)

// Queue names.
const (
	QueueImportURL      = "import-url"
	QueueImportVideo    = "import-video"
	QueueImportImage    = "import-image"
	QueueImportPaste    = "import-paste"
	QueueNutrition      = "nutrition-estimation"
	QueueAutoTag        = "auto-tagging"
	QueueAutoCategorize = "auto-categorization"
	QueueAllergy        = "allergy-detection"
	QueueScheduled      = "scheduled-tasks"
	QueueCalendarSync   = "calendar-sync"
)

// QueueNames lists every queue in registration order.
func QueueNames() []string {
	return []string{
		QueueImportURL, QueueImportVideo, QueueImportImage, QueueImportPaste,
		QueueNutrition, QueueAutoTag, QueueAutoCategorize, QueueAllergy,
		QueueScheduled, QueueCalendarSync,
	}
}

// userFacing is the base for imports: a person is waiting, so stalls are
// noticed within seconds.
func userFacing(concurrency, attempts int) queue.Config {
	return queue.Config{
		Concurrency:       concurrency,
		MaxAttempts:       attempts,
		Backoff:           queue.Backoff{Type: core.BackoffExponential, Delay: 5 * time.Second},
		LockDuration:      30 * time.Second,
		LockRenewInterval: 10 * time.Second,
		StalledInterval:   5 * time.Second,
		MaxStalledCount:   1,
		DrainDelay:        time.Second,
		RemoveOnComplete:  core.RetentionPolicy{Count: 200, Age: 24 * time.Hour},
		RemoveOnFail:      core.RetentionPolicy{Count: 500, Age: 7 * 24 * time.Hour},
		UserFacing:        true,
	}
}

// background is the base for enhancements nobody asked for directly.
func background(concurrency, attempts int) queue.Config {
	return queue.Config{
		Concurrency:       concurrency,
		MaxAttempts:       attempts,
		Backoff:           queue.Backoff{Type: core.BackoffExponential, Delay: 10 * time.Second},
		LockDuration:      2 * time.Minute,
		LockRenewInterval: 30 * time.Second,
		StalledInterval:   60 * time.Second,
		MaxStalledCount:   1,
		DrainDelay:        5 * time.Second,
		RemoveOnComplete:  core.RetentionPolicy{Count: 100, Age: 24 * time.Hour},
		RemoveOnFail:      core.RetentionPolicy{Count: 200, Age: 3 * 24 * time.Hour},
	}
}

// DefaultQueueConfigs returns the tunables each queue runs with unless
// configuration overrides them.
func DefaultQueueConfigs() map[string]queue.Config {
	video := userFacing(2, 2)
	video.Backoff.Delay = 10 * time.Second
	video.Timeout = 15 * time.Minute

	allergy := background(1, 5)
	// Safety-relevant; keep failures around for audit.
	allergy.RemoveOnFail = core.RetentionPolicy{Count: 1000, Age: 30 * 24 * time.Hour}

	calendar := background(1, 10)
	calendar.Backoff.Delay = 30 * time.Second

	return map[string]queue.Config{
		QueueImportURL:      userFacing(3, 3),
		QueueImportVideo:    video,
		QueueImportImage:    userFacing(2, 3),
		QueueImportPaste:    userFacing(3, 3),
		QueueNutrition:      background(1, 3),
		QueueAutoTag:        background(2, 3),
		QueueAutoCategorize: background(2, 3),
		QueueAllergy:        allergy,
		QueueScheduled:      background(1, 3),
		QueueCalendarSync:   calendar,
	}
}

// QueueConfigs merges overrides onto the defaults. An override replaces the
// whole entry; UserFacing always keeps the default so visibility cannot be
// configured away.
func QueueConfigs(overrides map[string]queue.Config) map[string]queue.Config {
	configs := DefaultQueueConfigs()
	for name, cfg := range overrides {
		base, ok := configs[name]
		if !ok {
			continue
		}
		cfg.UserFacing = base.UserFacing
		configs[name] = cfg
	}
	return configs
}
