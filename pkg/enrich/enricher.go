package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/queue"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/strategy"
)

var (
	// ErrInvalidInput is returned for payloads that can never succeed.
	ErrInvalidInput = errors.New("enrich: invalid input")
	// ErrNoRecipeFound is returned when a page or text holds no recipe.
	ErrNoRecipeFound = errors.New("enrich: no recipe found")
	// ErrUnknownTask is returned for scheduled tasks nobody handles.
	ErrUnknownTask = errors.New("enrich: unknown scheduled task")
	// ErrCalendarUnavailable is returned when no calendar syncer is wired.
	ErrCalendarUnavailable = errors.New("enrich: calendar sync not configured")
)

// Event topics. The topic doubles as the policy category.
const (
	TopicImport     = "recipe-import"
	TopicEnrichment = "recipe-enrichment"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	LoadRecipe(ctx context.Context, id string) (*recipe.Recipe, error)
	// MergeAndSave applies patch to the stored recipe in one transaction.
	MergeAndSave(ctx context.Context, id string, patch recipe.Patch) (*recipe.Recipe, error)
	// FindExisting returns a recipe the scope can see with the same source
	// URL or name, or nil.
	FindExisting(ctx context.Context, scope recipe.Context, sourceURL, name string) (*recipe.Recipe, error)
	CreateRecipe(ctx context.Context, r *recipe.Recipe) error
	ListRecipes(ctx context.Context, after string, limit int) ([]*recipe.Recipe, error)
}

// Emitter publishes lifecycle events. *broadcast.Broadcaster satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic string, scope broadcast.Scope, event string, payload any) error
}

// MediaStore keeps a recipe's image and video files.
type MediaStore interface {
	strategy.AssetSaver
	// SaveUpload stores a file the user uploaded as the recipe's image.
	SaveUpload(ctx context.Context, recipeID, localPath string) (string, error)
	// Remove deletes everything stored for a recipe.
	Remove(ctx context.Context, recipeID string) error
}

// CalendarSyncer pushes a user's meal plan to an external calendar.
type CalendarSyncer interface {
	Sync(ctx context.Context, scope recipe.Context, from, to time.Time) (int, error)
}

// PageFetcher downloads and parses a web page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Deps are the Enricher's collaborators. Media and Calendar may be nil.
type Deps struct {
	Queue    *queue.Queue
	Store    Store
	Registry *strategy.Registry
	Executor *ai.Executor
	Events   Emitter
	Features FeatureSource
	Pages    PageFetcher
	Media    MediaStore
	Calendar CalendarSyncer
	Logger   *slog.Logger
}

// Enricher runs every enrichment job and owns the triggers that enqueue them.
type Enricher struct {
	queue    *queue.Queue
	store    Store
	registry *strategy.Registry
	exec     *ai.Executor
	events   Emitter
	features FeatureSource
	pages    PageFetcher
	media    MediaStore
	calendar CalendarSyncer
	logger   *slog.Logger
}

// New creates an Enricher. Call Register before starting workers.
func New(d Deps) *Enricher {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	features := d.Features
	if features == nil {
		features = StaticFeatures(DefaultFeatures())
	}
	return &Enricher{
		queue:    d.Queue,
		store:    d.Store,
		registry: d.Registry,
		exec:     d.Executor,
		events:   d.Events,
		features: features,
		pages:    d.Pages,
		media:    d.Media,
		calendar: d.Calendar,
		logger:   logger,
	}
}

// Register declares every queue with its processor. overrides replace the
// defaults for the queues they name.
func (e *Enricher) Register(overrides map[string]queue.Config) {
	handlers := map[string]any{
		QueueImportURL:      e.ImportURL,
		QueueImportVideo:    e.ImportVideo,
		QueueImportImage:    e.ImportImage,
		QueueImportPaste:    e.ImportPaste,
		QueueNutrition:      e.EstimateNutrition,
		QueueAutoTag:        e.AutoTag,
		QueueAutoCategorize: e.AutoCategorize,
		QueueAllergy:        e.DetectAllergies,
		QueueScheduled:      e.RunScheduledTask,
		QueueCalendarSync:   e.SyncCalendar,
	}
	configs := QueueConfigs(overrides)
	for _, name := range QueueNames() {
		e.queue.Register(name, handlers[name], configs[name])
	}
	e.queue.OnJobFailure(e.onFailure)
}

// emit publishes an event and logs delivery failures; events never fail a job.
func (e *Enricher) emit(ctx context.Context, topic string, scope recipe.Context, event string, payload any) {
	if e.events == nil {
		return
	}
	bs := broadcast.Scope{UserID: scope.UserID, HouseholdKey: scope.HouseholdKey}
	if err := e.events.Emit(ctx, topic, bs, event, payload); err != nil {
		e.logger.Warn("failed to emit event", "topic", topic, "event", event, "recipe_id", scope.RecipeID, "error", err)
	}
}

func (e *Enricher) toast(ctx context.Context, scope recipe.Context, titleKey, severity string) {
	e.emit(ctx, TopicImport, scope, broadcast.EventProgressToast, broadcast.ToastPayload{TitleKey: titleKey, Severity: severity})
}

// requireUser rejects payloads without an owner.
func requireUser(scope recipe.Context) error {
	if scope.UserID == "" {
		return core.NoRetry(fmt.Errorf("%w: missing user", ErrInvalidInput))
	}
	return nil
}
