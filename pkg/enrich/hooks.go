package enrich

import (
	"context"
	"encoding/json"

	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

// onFailure runs after every failed attempt. Only the final failure of a
// user-facing import is shown to the user; everything else is logged.
func (e *Enricher) onFailure(ctx context.Context, job *core.Job, err error, isFinal bool) {
	logger := e.logger.With("job_id", job.ID, "queue", job.Queue, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "final", isFinal)

	cfg, _ := e.queue.Config(job.Queue)
	if !cfg.UserFacing {
		if isFinal {
			logger.Warn("background enrichment gave up", "error", err)
		} else {
			logger.Debug("background enrichment attempt failed", "error", err)
		}
		return
	}

	if !isFinal {
		logger.Info("import attempt failed; will retry", "error", err)
		return
	}

	var p ImportPayload
	if uerr := json.Unmarshal(job.Payload, &p); uerr != nil {
		logger.Error("cannot decode failed import payload", "error", uerr)
		return
	}

	reason := video.FriendlyMessage(err)
	recipeID := e.failedRecipeID(ctx, job, p.Scope)
	logger.Warn("import failed", "url", p.URL, "recipe_id", recipeID, "reason", reason, "error", err)

	// A new import never created its row, so there is nothing to mark.
	if p.Scope.RecipeID != "" {
		_, serr := e.store.MergeAndSave(ctx, p.Scope.RecipeID, func(r *recipe.Recipe) error {
			r.ImportStatus = recipe.ImportFailed
			return nil
		})
		if serr != nil {
			logger.Warn("failed to mark recipe import as failed", "error", serr)
		}
	}

	e.emit(ctx, TopicImport, p.Scope, broadcast.EventFailed, ImportEvent{
		RecipeID: recipeID,
		URL:      p.URL,
		Reason:   reason,
	})
	e.toast(ctx, p.Scope, "import.failed", broadcast.SeverityError)
}

// failedRecipeID is the recipe an import was writing to. New imports have
// no ID in their payload; theirs was checkpointed by the first attempt and
// is still stored because checkpoints are only removed on completion.
func (e *Enricher) failedRecipeID(ctx context.Context, job *core.Job, scope recipe.Context) string {
	if scope.RecipeID != "" {
		return scope.RecipeID
	}
	cps, err := e.queue.Storage().GetCheckpoints(ctx, job.ID)
	if err != nil {
		e.logger.Warn("failed to load import checkpoints", "job_id", job.ID, "error", err)
		return ""
	}
	for _, cp := range cps {
		if cp.Phase != phaseRecipeID {
			continue
		}
		var id string
		if err := json.Unmarshal(cp.Result, &id); err == nil {
			return id
		}
	}
	return ""
}
