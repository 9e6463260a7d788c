package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

// Scheduled task names.
const (
	// TaskBackfill triggers missing enhancements for stored recipes.
	TaskBackfill = "backfill-enrichment"
)

const defaultBackfillLimit = 500

// RunScheduledTask runs a named maintenance task.
func (e *Enricher) RunScheduledTask(ctx context.Context, p ScheduledTaskPayload) error {
	switch p.Task {
	case TaskBackfill:
		return e.backfill(ctx, p.Limit)
	default:
		return core.NoRetry(fmt.Errorf("%w: %q", ErrUnknownTask, p.Task))
	}
}

// backfill walks stored recipes and triggers each enhancement a recipe is
// still missing. Dedup keys make overlapping runs harmless.
func (e *Enricher) backfill(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	const page = 100

	var (
		after     string
		seen      int
		triggered int
	)
	for seen < limit {
		batch, err := e.store.ListRecipes(ctx, after, min(page, limit-seen))
		if err != nil {
			return fmt.Errorf("enrich: list recipes: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, r := range batch {
			triggered += e.backfillRecipe(ctx, r)
		}
		seen += len(batch)
		after = batch[len(batch)-1].ID
	}
	e.logger.Info("backfill finished", "recipes", seen, "triggered", triggered)
	return nil
}

func (e *Enricher) backfillRecipe(ctx context.Context, r *recipe.Recipe) int {
	if len(r.Ingredients) == 0 {
		return 0
	}
	scope := recipe.Context{RecipeID: r.ID, UserID: r.OwnerID, HouseholdKey: r.HouseholdKey}

	var triggers []func(context.Context, recipe.Context) (core.EnqueueResult, error)
	if len(r.Tags) == 0 {
		triggers = append(triggers, e.TriggerAutoTag)
	}
	if len(r.Categories) == 0 {
		triggers = append(triggers, e.TriggerAutoCategorize)
	}
	if r.Nutrition == nil {
		triggers = append(triggers, e.TriggerNutrition)
	}

	n := 0
	for _, trigger := range triggers {
		res, err := trigger(ctx, scope)
		if err != nil {
			e.logger.Warn("backfill trigger failed", "recipe_id", r.ID, "error", err)
			continue
		}
		if res.Status == core.EnqueueQueued {
			n++
		}
	}
	return n
}

// SyncCalendar pushes the user's meal plan to their calendar.
func (e *Enricher) SyncCalendar(ctx context.Context, p CalendarSyncPayload) error {
	if err := requireUser(p.Scope); err != nil {
		return err
	}
	if e.calendar == nil {
		return core.NoRetry(ErrCalendarUnavailable)
	}
	from, to := p.From, p.To
	if from.IsZero() {
		from = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if to.IsZero() || !to.After(from) {
		to = from.Add(7 * 24 * time.Hour)
	}

	n, err := e.calendar.Sync(ctx, p.Scope, from, to)
	if err != nil {
		return fmt.Errorf("enrich: calendar sync: %w", err)
	}
	e.logger.Info("calendar synced", "user_id", p.Scope.UserID, "entries", n)
	e.emit(ctx, TopicEnrichment, p.Scope, broadcast.EventCompleted, EnrichmentEvent{Kind: "calendar-sync", Synced: n})
	return nil
}
