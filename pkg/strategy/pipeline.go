package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/jobctx"
	"github.com/jdziat/recipe-enricher/pkg/observability"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

// errSkipped marks a candidate that had nothing to offer, as opposed to one
// whose extraction failed.
var errSkipped = errors.New("skipped")

func skip(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errSkipped, fmt.Sprintf(format, args...))
}

// candidate produces the text for one extraction attempt.
type candidate struct {
	method  Method
	produce func(ctx context.Context) (string, error)
}

// pipeline is the extraction procedure every platform shares. Platforms
// differ only in the source and tokens they hand it.
type pipeline struct {
	platform Platform
	source   video.Source
	auth     *video.AuthTokens
	deps     Deps
}

func (p *pipeline) Platform() Platform { return p.platform }

func (p *pipeline) Process(ctx context.Context, req Request) (*Outcome, error) {
	logger := p.deps.logger().With("platform", p.platform, "url", req.URL, "recipe_id", req.Scope.RecipeID)

	ws, err := p.deps.workspace()
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	auth := req.Auth
	if auth == nil {
		auth = p.auth
	}
	meta, err := p.source.GetMetadata(ctx, req.URL, auth)
	if err != nil {
		if errors.Is(err, video.ErrUnavailable) || errors.Is(err, video.ErrUnsupportedPlatform) {
			return nil, core.NoRetry(fmt.Errorf("strategy: metadata: %w", err))
		}
		return nil, fmt.Errorf("strategy: metadata: %w", err)
	}

	if limit := p.deps.MaxDuration; limit > 0 && meta.Duration > limit.Seconds() {
		return nil, core.NoRetry(fmt.Errorf("%w: %.0fs > %.0fs", ErrVideoTooLong, meta.Duration, limit.Seconds()))
	}

	assets := p.saveAssets(ctx, ws, req, meta, logger)
	// Runs before Cleanup so the video copy finishes before its file goes.
	defer assets.wait()

	var (
		draft  *recipe.Draft
		method Method
	)
	if meta.IsImage() {
		draft, method, err = p.extractImage(ctx, req, meta, logger)
	} else {
		draft, method, err = p.extractVideo(ctx, ws, req, meta, logger)
	}
	assets.wait()
	if err != nil {
		return nil, err
	}

	logger.Info("recipe extracted", "method", method, "ingredients", len(draft.Ingredients))
	return &Outcome{
		Draft:     draft,
		Method:    method,
		Metadata:  meta,
		ImagePath: assets.image,
		VideoPath: assets.video,
	}, nil
}

// extractImage handles posts without playable media. The caption is the
// only signal, so there is nothing to fall back to.
func (p *pipeline) extractImage(ctx context.Context, req Request, meta *video.Metadata, logger *slog.Logger) (*recipe.Draft, Method, error) {
	caption := strings.TrimSpace(meta.Description)
	if len(caption) < minDescription && p.deps.Scraper != nil {
		scraped, err := p.deps.Scraper.Describe(ctx, req.URL)
		if err != nil {
			logger.Warn("page scrape failed", "error", err)
		} else if scraped = strings.TrimSpace(scraped); len(scraped) > len(caption) {
			caption = scraped
		}
	}
	if len(caption) < minDescription {
		p.record(MethodCaption, "skipped")
		return nil, "", core.NoRetry(fmt.Errorf("%w: caption has %d characters", ErrNoRecipeInCaption, len(caption)))
	}

	withCaption := *meta
	withCaption.Description = caption
	draft, err := p.extract(ctx, candidateText(&withCaption, MethodCaption, ""))
	if err != nil {
		p.record(MethodCaption, "failed")
		if stop := stopError(err); stop != nil {
			return nil, "", stop
		}
		if transient(err) {
			return nil, "", fmt.Errorf("strategy: caption extraction: %w", err)
		}
		return nil, "", core.NoRetry(fmt.Errorf("%w: %v", ErrNoRecipeInCaption, err))
	}
	p.record(MethodCaption, "success")
	return draft, MethodCaption, nil
}

// extractVideo tries the video's signals from cheapest to most expensive.
func (p *pipeline) extractVideo(ctx context.Context, ws *video.Workspace, req Request, meta *video.Metadata, logger *slog.Logger) (*recipe.Draft, Method, error) {
	var audioErr error

	candidates := []candidate{
		{MethodCaptions, func(ctx context.Context) (string, error) {
			path, err := p.source.DownloadCaptions(ctx, req.URL, ws.Dir())
			ws.Track(path)
			if err != nil {
				return "", skip("captions unavailable: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", skip("read captions: %v", err)
			}
			captions := strings.TrimSpace(string(data))
			if n := len(captions) + len(strings.TrimSpace(meta.Description)); n < minCaptionText {
				return "", skip("captions and description too short (%d characters)", n)
			}
			return candidateText(meta, MethodCaptions, captions), nil
		}},
		{MethodTranscript, func(ctx context.Context) (string, error) {
			if p.deps.Transcriber == nil {
				audioErr = errors.New("no transcriber configured")
				return "", skip("%v", audioErr)
			}
			transcript, err := jobctx.Phase(ctx, "transcript", func(ctx context.Context) (string, error) {
				path, err := p.source.DownloadAudio(ctx, req.URL, ws.Dir())
				ws.Track(path)
				if err != nil {
					return "", fmt.Errorf("download audio: %w", err)
				}
				return p.deps.Transcriber.Transcribe(ctx, path)
			})
			if err != nil {
				audioErr = err
				logger.Warn("audio path failed", "error", err)
				return "", err
			}
			return candidateText(meta, MethodTranscript, transcript), nil
		}},
		{MethodDescription, func(ctx context.Context) (string, error) {
			if audioErr == nil {
				return "", skip("audio was usable")
			}
			if n := len(strings.TrimSpace(meta.Description)); n < minDescription {
				return "", skip("description too short (%d characters)", n)
			}
			return candidateText(meta, MethodDescription, ""), nil
		}},
	}

	return p.run(ctx, candidates, logger)
}

// run evaluates candidates in order and returns the first valid draft.
// A failed candidate only advances the loop. When every candidate fails the
// error is terminal unless one of the failures was transient.
func (p *pipeline) run(ctx context.Context, candidates []candidate, logger *slog.Logger) (*recipe.Draft, Method, error) {
	var errs []error
	permanent := true

	for _, c := range candidates {
		text, err := c.produce(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			if !errors.Is(err, errSkipped) {
				p.record(c.method, "failed")
				if transient(err) {
					permanent = false
				}
			} else {
				p.record(c.method, "skipped")
			}
			logger.Debug("candidate unavailable", "method", c.method, "reason", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.method, err))
			continue
		}

		draft, err := p.extract(ctx, text)
		if err == nil {
			p.record(c.method, "success")
			return draft, c.method, nil
		}
		p.record(c.method, "failed")
		if stop := stopError(err); stop != nil {
			return nil, "", stop
		}
		if transient(err) {
			permanent = false
		}
		logger.Info("candidate failed", "method", c.method, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", c.method, err))
	}

	err := fmt.Errorf("%w: %w", ErrExtractionFailed, errors.Join(errs...))
	if permanent {
		return nil, "", core.NoRetry(err)
	}
	return nil, "", err
}

// extract runs one candidate through the model and validates the draft.
func (p *pipeline) extract(ctx context.Context, text string) (*recipe.Draft, error) {
	res := ai.Execute[recipe.Draft](ctx, p.deps.Executor, extractionPrompt(text), extractionSystem)
	if !res.Success {
		return nil, res.Err()
	}
	draft := res.Data
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return &draft, nil
}

// stopError returns a job error for model failures no other candidate can
// fix, or nil.
func stopError(err error) error {
	var aiErr *ai.Error
	if errors.As(err, &aiErr) && (aiErr.Code == ai.CodeAIDisabled || aiErr.Code == ai.CodeAuthError) {
		return ai.JobError(err)
	}
	return nil
}

// transient reports whether err may clear up on a later attempt.
func transient(err error) bool {
	var aiErr *ai.Error
	if errors.As(err, &aiErr) {
		return aiErr.Code.Transient() && aiErr.Code != ai.CodeEmptyResponse
	}
	if errors.Is(err, errSkipped) || errors.Is(err, recipe.ErrInvalidDraft) ||
		errors.Is(err, video.ErrUnavailable) || errors.Is(err, video.ErrNoCaptions) {
		return false
	}
	return true
}

func (p *pipeline) record(method Method, outcome string) {
	observability.ExtractionAttempts.WithLabelValues(string(p.platform), string(method), outcome).Inc()
}

// assetSave tracks the background save of a post's image and video.
type assetSave struct {
	wg    sync.WaitGroup
	image string
	video string
}

func (a *assetSave) wait() { a.wg.Wait() }

// saveAssets stores the thumbnail and, for videos, the video file. It runs
// alongside extraction and never fails the job.
func (p *pipeline) saveAssets(ctx context.Context, ws *video.Workspace, req Request, meta *video.Metadata, logger *slog.Logger) *assetSave {
	a := &assetSave{}
	if p.deps.Assets == nil || req.Scope.RecipeID == "" {
		return a
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("asset save panicked", "panic", r)
			}
		}()

		if meta.ThumbnailURL != "" {
			path, err := p.deps.Assets.SaveImage(ctx, req.Scope.RecipeID, meta.ThumbnailURL)
			if err != nil {
				logger.Warn("thumbnail save failed", "error", err)
			} else {
				a.image = path
			}
		}
		if meta.IsImage() {
			return
		}

		local, err := p.source.DownloadVideo(ctx, req.URL, ws.Dir())
		ws.Track(local)
		if err != nil {
			logger.Warn("video download failed", "error", err)
			return
		}
		path, err := p.deps.Assets.SaveVideo(ctx, req.Scope.RecipeID, local)
		if err != nil {
			logger.Warn("video save failed", "error", err)
			return
		}
		a.video = path
	}()
	return a
}
