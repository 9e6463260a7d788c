package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/jdziat/recipe-enricher/pkg/observability"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 4096
)

// Settings are the stored model defaults and the global enable switch.
type Settings struct {
	Enabled     bool
	TextModel   string
	VisionModel string
	Temperature float64
	MaxTokens   int
}

// SettingsSource reads the current model settings. It is consulted on every
// call so toggling AI off takes effect without a restart.
type SettingsSource interface {
	AISettings(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings Settings

func (s StaticSettings) AISettings(context.Context) (Settings, error) {
	return Settings(s), nil
}

// Executor is the single path through which model calls are made.
type Executor struct {
	provider Provider
	settings SettingsSource
	validate *validator.Validate
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRateLimit caps outgoing calls to perMinute, with bursts of one.
// Zero or negative disables the limit.
func WithRateLimit(perMinute int) ExecutorOption {
	return func(e *Executor) {
		if perMinute <= 0 {
			e.limiter = nil
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}
}

// WithValidator replaces the validator applied to decoded results.
func WithValidator(v *validator.Validate) ExecutorOption {
	return func(e *Executor) {
		if v != nil {
			e.validate = v
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(p Provider, settings SettingsSource, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provider: p,
		settings: settings,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CallOption overrides per-call behaviour.
type CallOption func(*callOptions)

type callOptions struct {
	vision      bool
	images      []Image
	temperature *float64
	maxTokens   int
	schema      map[string]any
}

// WithVision selects the vision model.
func WithVision() CallOption {
	return func(o *callOptions) { o.vision = true }
}

// WithImages attaches images and selects the vision model.
func WithImages(images ...Image) CallOption {
	return func(o *callOptions) {
		o.images = append(o.images, images...)
		o.vision = true
	}
}

// WithTemperature overrides the stored sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

// WithMaxTokens overrides the stored output token limit.
func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = n }
}

// WithSchema replaces the schema reflected from the result type.
func WithSchema(schema map[string]any) CallOption {
	return func(o *callOptions) { o.schema = schema }
}

// Execute performs one structured-generation call and decodes the output
// into T. Every expected failure is returned as a failed Result; Execute
// does not panic and never returns a Result with both data and an error.
func Execute[T any](ctx context.Context, e *Executor, prompt, system string, opts ...CallOption) (res Result[T]) {
	provider := "none"
	if e.provider != nil {
		provider = e.provider.Name()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("model call panicked", "provider", provider, "panic", r)
			res = Fail[T](CodeUnknown, fmt.Sprintf("unexpected error: %v", r))
		}
		code := "ok"
		if !res.Success {
			code = string(res.Code)
		}
		observability.AIRequests.WithLabelValues(provider, code).Inc()
	}()

	settings, err := e.settings.AISettings(ctx)
	if err != nil {
		return Fail[T](CodeUnknown, fmt.Sprintf("read ai settings: %v", err))
	}
	if !settings.Enabled {
		return Fail[T](CodeAIDisabled, "AI features are disabled")
	}
	if e.provider == nil {
		return Fail[T](CodeAuthError, "no model provider configured")
	}
	if strings.TrimSpace(prompt) == "" {
		return Fail[T](CodeInvalidInput, "prompt is empty")
	}

	o := &callOptions{}
	for _, opt := range opts {
		opt(o)
	}

	req := Request{
		Model:       settings.TextModel,
		System:      system,
		Prompt:      prompt,
		Images:      o.images,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
		Schema:      o.schema,
	}
	if o.vision && settings.VisionModel != "" {
		req.Model = settings.VisionModel
	}
	if req.Model == "" {
		return Fail[T](CodeInvalidInput, "no model configured")
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}
	if req.Temperature < 0 {
		req.Temperature = defaultTemperature
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.Schema == nil {
		schema, err := SchemaFor[T]()
		if err != nil {
			return Fail[T](CodeUnknown, err.Error())
		}
		req.Schema = schema
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return failFrom[T](err)
		}
	}

	resp, err := e.provider.Generate(ctx, req)
	if err != nil {
		e.logger.Warn("model call failed", "provider", provider, "model", req.Model, "error", err)
		return failFrom[T](err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return Fail[T](CodeEmptyResponse, "model returned no structured output")
	}

	var data T
	if err := json.Unmarshal([]byte(resp.Text), &data); err != nil {
		return Fail[T](CodeValidationError, fmt.Sprintf("decode model output: %v", err))
	}
	if isStruct(data) {
		if err := e.validate.Struct(data); err != nil {
			return Fail[T](CodeValidationError, fmt.Sprintf("model output failed validation: %v", err))
		}
	}

	e.logger.Debug("model call succeeded", "provider", provider, "model", req.Model)
	return OK(data, resp.Usage)
}

func failFrom[T any](err error) Result[T] {
	code := ClassifyError(err)
	res := Fail[T](code, err.Error())
	if code == CodeRateLimit {
		res.RetryAfter = RetryDelay(err)
	}
	var aiErr *Error
	if errors.As(err, &aiErr) && aiErr.RetryAfter > 0 {
		res.RetryAfter = aiErr.RetryAfter
	}
	return res
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}
