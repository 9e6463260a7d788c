// Package app assembles the enricher from configuration: storage, queues,
// model providers, video sources, the event broadcaster and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/config"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/enrich"
	"github.com/jdziat/recipe-enricher/pkg/queue"
	"github.com/jdziat/recipe-enricher/pkg/schedule"
	"github.com/jdziat/recipe-enricher/pkg/storage"
	"github.com/jdziat/recipe-enricher/pkg/strategy"
	"github.com/jdziat/recipe-enricher/pkg/video"
	"github.com/jdziat/recipe-enricher/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

// App is a fully wired enricher process.
type App struct {
	Config      *config.Config
	Settings    *config.Live
	Logger      *slog.Logger
	DB          *gorm.DB
	Jobs        *storage.GormStorage
	Recipes     *storage.RecipeStore
	Queue       *queue.Queue
	Enricher    *enrich.Enricher
	Broadcaster *broadcast.Broadcaster
	Media       *enrich.LocalMediaStore

	relay *broadcast.RedisRelay
	redis *redis.Client
}

// Option adjusts how an App is built. Tests use them to replace providers.
type Option func(*buildOptions)

type buildOptions struct {
	provider    ai.Provider
	transcriber ai.Transcriber
	calendar    enrich.CalendarSyncer
}

// WithProvider replaces the model providers built from API keys.
func WithProvider(p ai.Provider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// WithTranscriber replaces the Gemini transcriber.
func WithTranscriber(t ai.Transcriber) Option {
	return func(o *buildOptions) { o.transcriber = t }
}

// WithCalendar wires a calendar syncer; without one calendar sync is skipped.
func WithCalendar(c enrich.CalendarSyncer) Option {
	return func(o *buildOptions) { o.calendar = c }
}

// New builds an App and migrates its tables. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}

	queueConfigs := enrich.QueueConfigs(cfg.QueueConfigs())
	total := 0
	for _, qc := range queueConfigs {
		total += qc.Concurrency
	}
	pool := []storage.PoolOption{storage.WithPoolConfig(storage.PoolConfigForWorkers(total, len(queueConfigs)))}
	if cfg.Database.MaxOpenConns > 0 {
		pool = append(pool, storage.MaxOpenConns(cfg.Database.MaxOpenConns))
	}
	db, err := storage.Open(cfg.Database.DSN, gormLogLevel(cfg.Database.LogLevel), pool...)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Settings: config.NewLive(cfg), Logger: log, DB: db}
	a.Jobs = storage.NewGormStorage(db)
	a.Recipes = storage.NewRecipeStore(a.Jobs)
	if err := a.Migrate(ctx); err != nil {
		return nil, err
	}

	a.Queue = queue.New(a.Jobs)
	a.Queue.SetLogger(log.With("component", "queue"))

	a.Media, err = enrich.NewLocalMediaStore(cfg.Video.MediaDir, nil)
	if err != nil {
		return nil, err
	}

	provider := o.provider
	if provider == nil {
		if provider, err = buildProvider(ctx, cfg); err != nil {
			return nil, err
		}
	}
	exec := ai.NewExecutor(provider, a.Settings,
		ai.WithLogger(log.With("component", "ai")),
		ai.WithRateLimit(cfg.AI.RateLimit))

	transcriber := o.transcriber
	if transcriber == nil && cfg.AI.GeminiAPIKey != "" {
		t, err := ai.NewGeminiTranscriber(ctx, cfg.AI.GeminiAPIKey, cfg.AI.TranscriptionModel)
		if err != nil {
			return nil, fmt.Errorf("app: gemini transcriber: %w", err)
		}
		transcriber = t
	}

	scraper := video.NewPageScraper(nil)
	registry := strategy.Default(strategy.Deps{
		Executor:    exec,
		Transcriber: transcriber,
		Scraper:     scraper,
		Assets:      a.Media,
		Workspace: func() (*video.Workspace, error) {
			return video.NewWorkspace(cfg.Video.WorkDir, video.WithWorkspaceLogger(log))
		},
		MaxDuration: cfg.Video.MaxDuration.Std(),
		Logger:      log.With("component", "strategy"),
	}, videoSources(cfg))

	bopts := []broadcast.Option{broadcast.WithLogger(log.With("component", "events"))}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.relay = broadcast.NewRedisRelay(a.redis, cfg.Redis.Channel, log.With("component", "relay"))
		bopts = append(bopts, broadcast.WithPublisher(a.relay))
	}
	a.Broadcaster = broadcast.New(a.Settings, bopts...)

	a.Enricher = enrich.New(enrich.Deps{
		Queue:    a.Queue,
		Store:    a.Recipes,
		Registry: registry,
		Executor: exec,
		Events:   a.Broadcaster,
		Features: a.Settings,
		Pages:    scraper,
		Media:    a.Media,
		Calendar: o.calendar,
		Logger:   log.With("component", "enrich"),
	})
	a.Enricher.Register(queueConfigs)

	if cfg.Worker.Backfill != "" {
		sched, err := schedule.Parse(cfg.Worker.Backfill)
		if err != nil {
			return nil, fmt.Errorf("app: backfill schedule: %w", err)
		}
		a.Queue.Schedule(enrich.TaskBackfill, sched, enrich.QueueScheduled,
			enrich.ScheduledTaskPayload{Task: enrich.TaskBackfill, Limit: cfg.Worker.BackfillLimit})
	}
	return a, nil
}

// Migrate creates or updates the job and recipe tables.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.Jobs.Migrate(ctx); err != nil {
		return fmt.Errorf("app: migrate jobs: %w", err)
	}
	if err := a.Recipes.Migrate(ctx); err != nil {
		return fmt.Errorf("app: migrate recipes: %w", err)
	}
	return nil
}

// Worker builds the worker for the configured queues.
func (a *App) Worker() *worker.Worker {
	return worker.NewWorker(a.Queue,
		worker.PollInterval(a.Config.Worker.PollInterval.Std()),
		worker.WithQueues(a.Config.Worker.Queues...),
		worker.WithScheduler(a.Config.Worker.Scheduler),
		worker.WithLogger(a.Logger.With("component", "worker")),
	)
}

// RunOptions selects what a process runs.
type RunOptions struct {
	Worker bool
	Server bool
}

// Run runs the selected parts until ctx is cancelled or one fails. The
// first failure stops the rest.
func (a *App) Run(ctx context.Context, ro RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("app: %s: %w", name, err)
					cancel()
				})
			}
		}()
	}

	if a.relay != nil {
		run("relay", func() error { return ignoreCanceled(a.relay.Run(ctx, a.Broadcaster, nil)) })
	}
	if ro.Worker {
		w := a.Worker()
		events := a.Queue.Events()
		run("queue events", func() error {
			defer a.Queue.Unsubscribe(events)
			a.logQueueEvents(ctx, events)
			return nil
		})
		run("worker", func() error { return ignoreCanceled(w.Start(ctx)) })
	}
	if ro.Server {
		srv := &http.Server{
			Addr:              a.Config.Server.Addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		run("http", func() error {
			a.Logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		run("http shutdown", func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	wg.Wait()
	return firstErr
}

// logQueueEvents records retries, stalls and terminal failures until ctx ends.
func (a *App) logQueueEvents(ctx context.Context, events <-chan core.Event) {
	log := a.Logger.With("component", "queue")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch ev := e.(type) {
			case *core.JobRetrying:
				log.Info("job retry scheduled", "job_id", ev.Job.ID, "queue", ev.Job.Queue,
					"attempt", ev.Attempt, "next_run_at", ev.NextRunAt, "error", ev.Error)
			case *core.JobStalled:
				log.Warn("job stalled", "job_id", ev.Job.ID, "queue", ev.Job.Queue, "requeued", ev.Requeued)
			case *core.JobFailed:
				log.Warn("job failed", "job_id", ev.Job.ID, "queue", ev.Job.Queue, "attempt", ev.Job.Attempt, "error", ev.Error)
			case *core.QueueDrained:
				log.Debug("queue drained", "queue", ev.Queue, "processed", ev.Processed)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

func buildProvider(ctx context.Context, cfg *config.Config) (ai.Provider, error) {
	var claude, gemini ai.Provider
	if cfg.AI.ClaudeAPIKey != "" {
		claude = ai.NewClaudeProvider(cfg.AI.ClaudeAPIKey)
	}
	if cfg.AI.GeminiAPIKey != "" {
		g, err := ai.NewGeminiProvider(ctx, cfg.AI.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("app: gemini provider: %w", err)
		}
		gemini = g
	}
	return ai.NewRouter(claude, gemini), nil
}

func videoSources(cfg *config.Config) strategy.Sources {
	ytdlp := video.NewYTDLPSource(cfg.Video.YTDLPPath,
		video.WithMaxFilesize(cfg.Video.MaxFilesize),
		video.WithSubtitleLanguages(cfg.Video.SubtitleLanguages))

	auth := make(map[strategy.Platform]*video.AuthTokens, len(cfg.Video.Cookies))
	for platform, cookies := range cfg.Video.Cookies {
		auth[strategy.Platform(strings.ToLower(platform))] = &video.AuthTokens{CookiesFile: cookies}
	}
	return strategy.Sources{
		YouTube: video.Chain(video.NewYouTubeSource(cfg.Video.CaptionLanguage), ytdlp),
		Social:  ytdlp,
		Generic: ytdlp,
		Auth:    auth,
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn", "warning":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}
