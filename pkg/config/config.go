// Package config loads the enricher's settings from TOML files, .env files
// and ENRICHER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/enrich"
	"github.com/jdziat/recipe-enricher/pkg/schedule"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENRICHER_"

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig           `toml:"database"`
	Redis    RedisConfig              `toml:"redis"`
	AI       AIConfig                 `toml:"ai"`
	Features FeaturesConfig           `toml:"features"`
	Video    VideoConfig              `toml:"video"`
	Queues   map[string]QueueOverride `toml:"queues"`
	Worker   WorkerConfig             `toml:"worker"`
	Events   EventsConfig             `toml:"events"`
	Server   ServerConfig             `toml:"server"`
	Logging  LoggingConfig            `toml:"logging"`
}

type DatabaseConfig struct {
	// DSN is a postgres URL or keyword DSN, or a SQLite path.
	DSN          string `toml:"dsn"`
	LogLevel     string `toml:"log_level"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// RedisConfig enables the cross-process event relay when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

type AIConfig struct {
	Enabled            bool    `toml:"enabled"`
	ClaudeAPIKey       string  `toml:"claude_api_key"`
	GeminiAPIKey       string  `toml:"gemini_api_key"`
	TextModel          string  `toml:"text_model"`
	VisionModel        string  `toml:"vision_model"`
	TranscriptionModel string  `toml:"transcription_model"`
	Temperature        float64 `toml:"temperature"`
	MaxTokens          int     `toml:"max_tokens"`
	// RateLimit caps model calls per minute across the process. Zero
	// disables the limit.
	RateLimit int `toml:"rate_limit"`
}

type FeaturesConfig struct {
	AutoTag          string   `toml:"auto_tag"`
	AutoCategorize   bool     `toml:"auto_categorize"`
	AllergyDetection bool     `toml:"allergy_detection"`
	Nutrition        bool     `toml:"nutrition"`
	CalendarSync     bool     `toml:"calendar_sync"`
	Categories       []string `toml:"categories"`
}

type VideoConfig struct {
	YTDLPPath         string   `toml:"ytdlp_path"`
	MaxDuration       Duration `toml:"max_duration"`
	MaxFilesize       string   `toml:"max_filesize"`
	SubtitleLanguages string   `toml:"subtitle_languages"`
	CaptionLanguage   string   `toml:"caption_language"`
	WorkDir           string   `toml:"work_dir"`
	MediaDir          string   `toml:"media_dir"`
	// Cookies maps a platform name (instagram, facebook, tiktok) to a
	// Netscape cookie file used for gated posts.
	Cookies map[string]string `toml:"cookies"`
}

type WorkerConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	// Queues limits the worker to these queues; empty means all.
	Queues    []string `toml:"queues"`
	Scheduler bool     `toml:"scheduler"`
	// Backfill is a schedule spec ("every 6h", "daily 03:00", or a cron
	// expression); empty disables the backfill task.
	Backfill      string `toml:"backfill"`
	BackfillLimit int    `toml:"backfill_limit"`
}

// EventsConfig holds the visibility rule for each event category.
type EventsConfig struct {
	DefaultRule string            `toml:"default_rule"`
	Rules       map[string]string `toml:"rules"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// UserHeader and HouseholdHeader carry the identity set by the
	// authenticating proxy in front of the service.
	UserHeader      string `toml:"user_header"`
	HouseholdHeader string `toml:"household_header"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	f := enrich.DefaultFeatures()
	return &Config{
		Database: DatabaseConfig{DSN: "enricher.db", LogLevel: "silent"},
		Redis:    RedisConfig{Channel: broadcast.DefaultChannel},
		AI: AIConfig{
			Enabled:            f.AIEnabled,
			TextModel:          "gemini-2.5-flash",
			VisionModel:        "gemini-2.5-flash",
			TranscriptionModel: "gemini-2.5-flash",
			Temperature:        0.2,
			MaxTokens:          4096,
		},
		Features: FeaturesConfig{
			AutoTag:          string(f.AutoTag),
			AutoCategorize:   f.AutoCategorize,
			AllergyDetection: f.AllergyDetection,
			Nutrition:        f.Nutrition,
			CalendarSync:     f.CalendarSync,
		},
		Video: VideoConfig{
			YTDLPPath:         "yt-dlp",
			MaxDuration:       Duration(10 * time.Minute),
			MaxFilesize:       "200M",
			SubtitleLanguages: "en.*,en",
			CaptionLanguage:   "en",
			MediaDir:          "media",
		},
		Worker: WorkerConfig{
			PollInterval:  Duration(time.Second),
			Scheduler:     true,
			Backfill:      "daily 03:30",
			BackfillLimit: 500,
		},
		Events: EventsConfig{
			DefaultRule: string(broadcast.RuleOwner),
			Rules: map[string]string{
				enrich.TopicImport:     string(broadcast.RuleOwner),
				enrich.TopicEnrichment: string(broadcast.RuleHousehold),
			},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			UserHeader:      "X-User-Id",
			HouseholdHeader: "X-Household-Key",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are skipped; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the given TOML files over the defaults, later files winning,
// then applies environment overrides and validates the result.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies ENRICHER_* overrides. The provider API keys also honour
// their conventional unprefixed names.
func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("DATABASE_LOG_LEVEL", &cfg.Database.LogLevel)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_CHANNEL", &cfg.Redis.Channel)
	str("TEXT_MODEL", &cfg.AI.TextModel)
	str("VISION_MODEL", &cfg.AI.VisionModel)
	str("TRANSCRIPTION_MODEL", &cfg.AI.TranscriptionModel)
	str("YTDLP_PATH", &cfg.Video.YTDLPPath)
	str("WORK_DIR", &cfg.Video.WorkDir)
	str("MEDIA_DIR", &cfg.Video.MediaDir)
	str("SERVER_ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AI.ClaudeAPIKey = v
	}
	str("CLAUDE_API_KEY", &cfg.AI.ClaudeAPIKey)
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.AI.GeminiAPIKey = v
	}
	str("GEMINI_API_KEY", &cfg.AI.GeminiAPIKey)

	if v := os.Getenv(EnvPrefix + "AI_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sAI_ENABLED: %w", EnvPrefix, err)
		}
		cfg.AI.Enabled = b
	}
	if v := os.Getenv(EnvPrefix + "REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sREDIS_DB: %w", EnvPrefix, err)
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv(EnvPrefix + "WORKER_QUEUES"); v != "" {
		cfg.Worker.Queues = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "CATEGORIES"); v != "" {
		cfg.Features.Categories = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch enrich.AutoTagMode(c.Features.AutoTag) {
	case enrich.AutoTagOff, enrich.AutoTagUntagged, enrich.AutoTagAlways:
	default:
		errs = append(errs, fmt.Errorf("features.auto_tag: unknown mode %q", c.Features.AutoTag))
	}
	if _, err := parseRule(c.Events.DefaultRule); err != nil {
		errs = append(errs, fmt.Errorf("events.default_rule: %w", err))
	}
	for category, rule := range c.Events.Rules {
		if _, err := parseRule(rule); err != nil {
			errs = append(errs, fmt.Errorf("events.rules.%s: %w", category, err))
		}
	}

	known := make(map[string]bool)
	for _, name := range enrich.QueueNames() {
		known[name] = true
	}
	for name, q := range c.Queues {
		if !known[name] {
			errs = append(errs, fmt.Errorf("queues.%s: unknown queue", name))
			continue
		}
		if err := q.validate(); err != nil {
			errs = append(errs, fmt.Errorf("queues.%s: %w", name, err))
		}
	}
	for _, name := range c.Worker.Queues {
		if !known[name] {
			errs = append(errs, fmt.Errorf("worker.queues: unknown queue %q", name))
		}
	}
	if c.Worker.Backfill != "" {
		if _, err := schedule.Parse(c.Worker.Backfill); err != nil {
			errs = append(errs, fmt.Errorf("worker.backfill: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func parseRule(s string) (broadcast.ScopeRule, error) {
	switch r := broadcast.ScopeRule(strings.ToLower(strings.TrimSpace(s))); r {
	case broadcast.RuleEveryone, broadcast.RuleHousehold, broadcast.RuleOwner:
		return r, nil
	}
	return "", fmt.Errorf("unknown rule %q", s)
}

// Duration is a time.Duration written as "90s" or "5m" in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
