package config

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/enrich"
)

// Provider is the read-only view of configuration the pipeline consults on
// every job, so a reload takes effect without a restart.
type Provider interface {
	ai.SettingsSource
	enrich.FeatureSource
	broadcast.Policy
}

// Static serves a single snapshot.
type Static struct {
	cfg *Config
}

// NewStatic wraps cfg. cfg must not be modified afterwards.
func NewStatic(cfg *Config) *Static {
	return &Static{cfg: cfg}
}

func (s *Static) AISettings(context.Context) (ai.Settings, error) {
	return aiSettings(s.cfg), nil
}

func (s *Static) Features(context.Context) (enrich.Features, error) {
	return features(s.cfg), nil
}

func (s *Static) ViewPolicy(_ context.Context, category string) (broadcast.ScopeRule, error) {
	return viewPolicy(s.cfg, category), nil
}

// Live serves whichever snapshot was stored last.
type Live struct {
	cur atomic.Pointer[Config]
}

// NewLive starts with cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.cur.Store(cfg)
	return l
}

// Store swaps in a new snapshot.
func (l *Live) Store(cfg *Config) {
	l.cur.Store(cfg)
}

// Reload re-reads paths and swaps the result in. On error the current
// snapshot is kept.
func (l *Live) Reload(paths ...string) error {
	cfg, err := Load(paths...)
	if err != nil {
		return err
	}
	l.cur.Store(cfg)
	return nil
}

// Current returns the active snapshot.
func (l *Live) Current() *Config { return l.cur.Load() }

func (l *Live) AISettings(context.Context) (ai.Settings, error) {
	return aiSettings(l.cur.Load()), nil
}

func (l *Live) Features(context.Context) (enrich.Features, error) {
	return features(l.cur.Load()), nil
}

func (l *Live) ViewPolicy(_ context.Context, category string) (broadcast.ScopeRule, error) {
	return viewPolicy(l.cur.Load(), category), nil
}

func aiSettings(c *Config) ai.Settings {
	return ai.Settings{
		Enabled:     c.AI.Enabled,
		TextModel:   c.AI.TextModel,
		VisionModel: c.AI.VisionModel,
		Temperature: c.AI.Temperature,
		MaxTokens:   c.AI.MaxTokens,
	}
}

func features(c *Config) enrich.Features {
	return enrich.Features{
		AIEnabled:        c.AI.Enabled,
		AutoTag:          enrich.AutoTagMode(c.Features.AutoTag),
		AutoCategorize:   c.Features.AutoCategorize,
		AllergyDetection: c.Features.AllergyDetection,
		Nutrition:        c.Features.Nutrition,
		CalendarSync:     c.Features.CalendarSync,
		Categories:       append([]string(nil), c.Features.Categories...),
	}
}

// viewPolicy falls back to the default rule for unlisted categories, and to
// owner-only when even that is unreadable.
func viewPolicy(c *Config, category string) broadcast.ScopeRule {
	if raw, ok := c.Events.Rules[category]; ok {
		if r, err := parseRule(raw); err == nil {
			return r
		}
	}
	if r, err := parseRule(c.Events.DefaultRule); err == nil {
		return r
	}
	return broadcast.RuleOwner
}

// ProviderKeys reports which model providers have credentials.
func (c *Config) ProviderKeys() (claude, gemini bool) {
	return strings.TrimSpace(c.AI.ClaudeAPIKey) != "", strings.TrimSpace(c.AI.GeminiAPIKey) != ""
}
