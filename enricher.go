// Package enricher imports recipes from web pages, videos, photos and pasted
// text, then enriches them with tags, categories, allergen warnings and
// nutrition estimates on durable background queues.
//
// It re-exports the types most callers need from the pkg/ packages, so an
// embedding service can wire the pipeline without importing each one.
//
// Basic usage:
//
//	cfg, _ := enricher.LoadConfig("enricher.toml")
//	app, _ := enricher.New(ctx, cfg, slog.Default())
//	defer app.Close()
//
//	// Queue an import for a user
//	app.Enricher.TriggerImportURL(ctx, enricher.Scope{UserID: "u1"}, "https://example.com/dal")
//
//	// Run the worker and HTTP API until ctx is cancelled
//	app.Run(ctx, enricher.RunOptions{Worker: true, Server: true})
package enricher

import (
	"context"
	"log/slog"

	"github.com/jdziat/recipe-enricher/pkg/app"
	"github.com/jdziat/recipe-enricher/pkg/config"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/enrich"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

type (
	// App is a fully wired enricher process.
	App = app.App

	// RunOptions selects whether a process runs the worker, the API or both.
	RunOptions = app.RunOptions

	// Option adjusts how an App is built.
	Option = app.Option

	// Config is the full service configuration.
	Config = config.Config

	// Recipe is a stored recipe.
	Recipe = recipe.Recipe

	// Scope identifies the user, household and recipe a request acts on.
	Scope = recipe.Context

	// Features are the runtime enrichment toggles.
	Features = enrich.Features

	// EnqueueResult reports whether a trigger queued, deduplicated or skipped.
	EnqueueResult = core.EnqueueResult

	// EnqueueStatus is the outcome of a trigger.
	EnqueueStatus = core.EnqueueStatus

	// JobStatus is the lifecycle state of a queued job.
	JobStatus = core.JobStatus
)

// Trigger outcomes.
const (
	EnqueueQueued    = core.EnqueueQueued
	EnqueueDuplicate = core.EnqueueDuplicate
	EnqueueSkipped   = core.EnqueueSkipped
)

// Job states.
const (
	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
)

// Queue names.
const (
	QueueImportURL      = enrich.QueueImportURL
	QueueImportVideo    = enrich.QueueImportVideo
	QueueImportImage    = enrich.QueueImportImage
	QueueImportPaste    = enrich.QueueImportPaste
	QueueNutrition      = enrich.QueueNutrition
	QueueAutoTag        = enrich.QueueAutoTag
	QueueAutoCategorize = enrich.QueueAutoCategorize
	QueueAllergy        = enrich.QueueAllergy
	QueueScheduled      = enrich.QueueScheduled
	QueueCalendarSync   = enrich.QueueCalendarSync
)

// New builds an App from cfg and migrates its tables.
func New(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...Option) (*App, error) {
	return app.New(ctx, cfg, logger, opts...)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads TOML files over the defaults, then the environment.
func LoadConfig(paths ...string) (*Config, error) {
	return config.Load(paths...)
}

// QueueNames lists every queue in registration order.
func QueueNames() []string {
	return enrich.QueueNames()
}

// NoRetry marks an error as terminal for the job that returned it.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// IsNoRetry reports whether err was marked terminal.
func IsNoRetry(err error) bool {
	return core.IsNoRetry(err)
}
