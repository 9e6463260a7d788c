package enrich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/jobctx"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/strategy"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

const (
	minPasteText  = 20
	minPageText   = 100
	maxImageBytes = 15 << 20

	methodJSONLD = "json-ld"
	methodPage   = "page"
	methodPaste  = "paste"
	methodImage  = "image"

	phaseRecipeID = "recipe-id"
)

// importResult is what every import hands to save.
type importResult struct {
	draft     *recipe.Draft
	method    string
	imageURL  string
	imagePath string
	videoPath string
}

// ImportURL imports a recipe from a web page. Schema.org markup is used when
// present; otherwise the page text goes to the model.
func (e *Enricher) ImportURL(ctx context.Context, p ImportPayload) error {
	if err := requireUser(p.Scope); err != nil {
		return err
	}
	if _, err := strategy.ParseURL(p.URL); err != nil {
		return core.NoRetry(err)
	}
	if strategy.IsVideoHost(p.URL) {
		res, err := e.TriggerImportVideo(ctx, p.Scope, p.URL)
		if err != nil {
			return err
		}
		e.logger.Info("url import rerouted to video queue", "url", p.URL, "status", res.Status, "job_id", res.JobID)
		return nil
	}

	scope, err := e.importScope(ctx, p.Scope)
	if err != nil {
		return err
	}
	e.started(ctx, scope, p.URL)

	doc, err := e.pages.Fetch(ctx, p.URL)
	if err != nil {
		if errors.Is(err, video.ErrUnavailable) {
			return core.NoRetry(err)
		}
		return err
	}

	result := importResult{imageURL: video.PageImage(doc)}
	if pr := RecipeFromJSONLD(doc); pr != nil && pr.Draft.Validate() == nil {
		result.draft = pr.Draft
		result.method = methodJSONLD
		if pr.ImageURL != "" {
			result.imageURL = pr.ImageURL
		}
	} else {
		text, err := PageMarkdown(doc, p.URL)
		if err != nil {
			return fmt.Errorf("enrich: convert page: %w", err)
		}
		if len(text) < minPageText {
			return core.NoRetry(fmt.Errorf("%w: page has no readable content", ErrNoRecipeFound))
		}
		draft, err := e.extract(ctx, pagePrompt(p.URL, text))
		if err != nil {
			return err
		}
		result.draft = draft
		result.method = methodPage
	}

	if e.media != nil && result.imageURL != "" {
		path, err := e.media.SaveImage(ctx, scope.RecipeID, result.imageURL)
		if err != nil {
			e.logger.Warn("failed to save page image", "recipe_id", scope.RecipeID, "error", err)
		}
		result.imagePath = path
	}
	return e.save(ctx, p, scope, result)
}

// ImportVideo imports a recipe from a video or social post through the
// platform's extraction strategy.
func (e *Enricher) ImportVideo(ctx context.Context, p ImportPayload) error {
	if err := requireUser(p.Scope); err != nil {
		return err
	}
	strat, err := e.registry.Select(p.URL)
	if err != nil {
		return core.NoRetry(err)
	}

	scope, err := e.importScope(ctx, p.Scope)
	if err != nil {
		return err
	}
	e.started(ctx, scope, p.URL)

	out, err := strat.Process(ctx, strategy.Request{URL: p.URL, Scope: scope, Auth: p.Auth})
	if err != nil {
		return err
	}
	return e.save(ctx, p, scope, importResult{
		draft:     out.Draft,
		method:    string(out.Method),
		imagePath: out.ImagePath,
		videoPath: out.VideoPath,
	})
}

// ImportImage imports a recipe from a photo of a card or cookbook page.
func (e *Enricher) ImportImage(ctx context.Context, p ImportPayload) error {
	if err := requireUser(p.Scope); err != nil {
		return err
	}
	data, err := os.ReadFile(p.ImagePath)
	if err != nil {
		return core.NoRetry(fmt.Errorf("%w: read image: %v", ErrInvalidInput, err))
	}
	if len(data) == 0 || len(data) > maxImageBytes {
		return core.NoRetry(fmt.Errorf("%w: image is %d bytes", ErrInvalidInput, len(data)))
	}
	mediaType := p.MediaType
	if mediaType == "" {
		mediaType = imageMediaType(p.ImagePath)
	}

	scope, err := e.importScope(ctx, p.Scope)
	if err != nil {
		return err
	}
	e.started(ctx, scope, "")

	draft, err := e.extract(ctx, imagePrompt,
		ai.WithImages(ai.Image{MediaType: mediaType, Data: data}))
	if err != nil {
		return err
	}

	result := importResult{draft: draft, method: methodImage}
	if e.media != nil {
		path, err := e.media.SaveUpload(ctx, scope.RecipeID, p.ImagePath)
		if err != nil {
			e.logger.Warn("failed to keep uploaded image", "recipe_id", scope.RecipeID, "error", err)
		}
		result.imagePath = path
	}
	return e.save(ctx, p, scope, result)
}

// ImportPaste imports a recipe from text the user pasted.
func (e *Enricher) ImportPaste(ctx context.Context, p ImportPayload) error {
	if err := requireUser(p.Scope); err != nil {
		return err
	}
	text := strings.TrimSpace(p.Text)
	if len(text) < minPasteText {
		return core.NoRetry(fmt.Errorf("%w: pasted text is too short", ErrInvalidInput))
	}

	scope, err := e.importScope(ctx, p.Scope)
	if err != nil {
		return err
	}
	e.started(ctx, scope, "")

	draft, err := e.extract(ctx, pastePrompt(truncate(text, maxPageMarkdown)))
	if err != nil {
		return err
	}
	return e.save(ctx, p, scope, importResult{draft: draft, method: methodPaste})
}

// importScope fixes the recipe ID an import writes to. New imports get an
// ID checkpointed on the first attempt, so retries and saved media agree.
func (e *Enricher) importScope(ctx context.Context, scope recipe.Context) (recipe.Context, error) {
	if scope.RecipeID != "" {
		return scope, nil
	}
	id, err := jobctx.Phase(ctx, phaseRecipeID, func(context.Context) (string, error) {
		return uuid.New().String(), nil
	})
	if err != nil {
		return scope, err
	}
	scope.RecipeID = id
	return scope, nil
}

func (e *Enricher) started(ctx context.Context, scope recipe.Context, url string) {
	if jobctx.AttemptFromContext(ctx) > 1 {
		return
	}
	e.emit(ctx, TopicImport, scope, broadcast.EventStarted, ImportEvent{RecipeID: scope.RecipeID, URL: url})
	e.toast(ctx, scope, "import.started", broadcast.SeverityInfo)
}

// extract runs the import prompt and validates the draft. A draft the model
// returns but that holds no recipe is terminal.
func (e *Enricher) extract(ctx context.Context, prompt string, opts ...ai.CallOption) (*recipe.Draft, error) {
	res := ai.Execute[recipe.Draft](ctx, e.exec, prompt, importSystem, opts...)
	if !res.Success {
		if res.Code == ai.CodeValidationError {
			return nil, core.NoRetry(fmt.Errorf("%w: %s", ErrNoRecipeFound, res.Error))
		}
		return nil, ai.JobError(res.Err())
	}
	draft := res.Data
	if err := draft.Validate(); err != nil {
		return nil, core.NoRetry(fmt.Errorf("%w: %v", ErrNoRecipeFound, err))
	}
	return &draft, nil
}

// save persists an import. A new import that matches a recipe the user can
// already see is reported as a duplicate instead of stored twice.
func (e *Enricher) save(ctx context.Context, p ImportPayload, scope recipe.Context, res importResult) error {
	sourceURL := p.URL
	var (
		saved *recipe.Recipe
		err   error
	)

	if p.Scope.RecipeID == "" {
		existing, ferr := e.store.FindExisting(ctx, scope, sourceURL, res.draft.Name)
		if ferr != nil {
			return fmt.Errorf("enrich: duplicate check: %w", ferr)
		}
		if existing != nil {
			e.logger.Info("import matches existing recipe", "recipe_id", existing.ID, "url", sourceURL)
			e.discardMedia(ctx, scope.RecipeID, res)
			e.emit(ctx, TopicImport, scope, broadcast.EventCompleted, ImportEvent{
				RecipeID: existing.ID, URL: sourceURL, Name: existing.Name, Method: res.method, Duplicate: true,
			})
			return nil
		}

		r := res.draft.ToRecipe(scope.RecipeID, scope, sourceURL)
		r.ImagePath = res.imagePath
		r.VideoPath = res.videoPath
		if err = e.store.CreateRecipe(ctx, r); err != nil {
			return fmt.Errorf("enrich: create recipe: %w", err)
		}
		saved = r
	} else {
		saved, err = e.store.MergeAndSave(ctx, scope.RecipeID, func(r *recipe.Recipe) error {
			r.ApplyDraft(res.draft)
			if r.SourceURL == "" {
				r.SourceURL = sourceURL
			}
			if res.imagePath != "" {
				r.ImagePath = res.imagePath
			}
			if res.videoPath != "" {
				r.VideoPath = res.videoPath
			}
			r.ImportStatus = recipe.ImportCompleted
			return nil
		})
		if err != nil {
			return fmt.Errorf("enrich: save recipe: %w", err)
		}
	}

	e.logger.Info("recipe imported", "recipe_id", saved.ID, "method", res.method, "url", sourceURL)
	e.emit(ctx, TopicImport, scope, broadcast.EventCompleted, ImportEvent{
		RecipeID: saved.ID, URL: sourceURL, Name: saved.Name, Method: res.method,
	})
	e.toast(ctx, scope, "import.completed", broadcast.SeveritySuccess)

	scope.RecipeID = saved.ID
	e.triggerFollowUps(ctx, scope)
	return nil
}

// discardMedia drops files saved under a new import's ID that will never be
// used.
func (e *Enricher) discardMedia(ctx context.Context, recipeID string, res importResult) {
	if e.media == nil || (res.imagePath == "" && res.videoPath == "") {
		return
	}
	if err := e.media.Remove(ctx, recipeID); err != nil {
		e.logger.Warn("failed to remove unused media", "recipe_id", recipeID, "error", err)
	}
}

func imageMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	return "image/jpeg"
}
