package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/queue"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/strategy"
)

// Skip reasons.
const (
	ReasonAIDisabled       = "ai disabled"
	ReasonFeatureDisabled  = "feature disabled"
	ReasonNoAllergies      = "no allergies configured"
	ReasonNoCategories     = "no categories configured"
	ReasonNoRecipe         = "no recipe id"
	ReasonCalendarDisabled = "calendar sync disabled"
)

// importKey derives one dedup key per user and source, so a double-clicked
// import cannot run twice.
func importKey(queueName, userID, source string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + strings.TrimSpace(source)))
	return queueName + ":" + hex.EncodeToString(sum[:12])
}

// TriggerImportURL enqueues a web page import. Known video hosts go to the
// video queue instead.
func (e *Enricher) TriggerImportURL(ctx context.Context, scope recipe.Context, rawURL string) (core.EnqueueResult, error) {
	if strategy.IsVideoHost(rawURL) {
		return e.TriggerImportVideo(ctx, scope, rawURL)
	}
	if _, err := strategy.ParseURL(rawURL); err != nil {
		return core.EnqueueResult{}, err
	}
	if res, skip := e.gateAI(ctx); skip {
		return res, nil
	}
	return e.queue.Enqueue(ctx, QueueImportURL, ImportPayload{Scope: scope, URL: rawURL},
		queue.DedupKey(importKey(QueueImportURL, scope.UserID, rawURL)))
}

// TriggerImportVideo enqueues a video or social post import.
func (e *Enricher) TriggerImportVideo(ctx context.Context, scope recipe.Context, rawURL string) (core.EnqueueResult, error) {
	if _, err := strategy.ParseURL(rawURL); err != nil {
		return core.EnqueueResult{}, err
	}
	if res, skip := e.gateAI(ctx); skip {
		return res, nil
	}
	return e.queue.Enqueue(ctx, QueueImportVideo, ImportPayload{Scope: scope, URL: rawURL},
		queue.DedupKey(importKey(QueueImportVideo, scope.UserID, rawURL)))
}

// TriggerImportImage enqueues extraction from an uploaded photo.
func (e *Enricher) TriggerImportImage(ctx context.Context, scope recipe.Context, path, mediaType string) (core.EnqueueResult, error) {
	if res, skip := e.gateAI(ctx); skip {
		return res, nil
	}
	return e.queue.Enqueue(ctx, QueueImportImage, ImportPayload{Scope: scope, ImagePath: path, MediaType: mediaType})
}

// TriggerImportPaste enqueues extraction from pasted text.
func (e *Enricher) TriggerImportPaste(ctx context.Context, scope recipe.Context, text string) (core.EnqueueResult, error) {
	if res, skip := e.gateAI(ctx); skip {
		return res, nil
	}
	return e.queue.Enqueue(ctx, QueueImportPaste, ImportPayload{Scope: scope, Text: text},
		queue.DedupKey(importKey(QueueImportPaste, scope.UserID, text)))
}

// TriggerAutoTag enqueues tagging for scope.RecipeID.
func (e *Enricher) TriggerAutoTag(ctx context.Context, scope recipe.Context) (core.EnqueueResult, error) {
	return e.triggerRecipe(ctx, scope, QueueAutoTag, "auto-tag-", func(f Features) string {
		if f.AutoTag == AutoTagOff || f.AutoTag == "" {
			return ReasonFeatureDisabled
		}
		return ""
	})
}

// TriggerAutoCategorize enqueues categorization for scope.RecipeID.
func (e *Enricher) TriggerAutoCategorize(ctx context.Context, scope recipe.Context) (core.EnqueueResult, error) {
	return e.triggerRecipe(ctx, scope, QueueAutoCategorize, "auto-categorize-", func(f Features) string {
		switch {
		case !f.AutoCategorize:
			return ReasonFeatureDisabled
		case len(f.Categories) == 0:
			return ReasonNoCategories
		}
		return ""
	})
}

// TriggerAllergyDetection enqueues allergen detection for scope.RecipeID.
// Nothing is queued when the household has no allergies on file.
func (e *Enricher) TriggerAllergyDetection(ctx context.Context, scope recipe.Context) (core.EnqueueResult, error) {
	return e.triggerRecipe(ctx, scope, QueueAllergy, "allergy-detect-", func(f Features) string {
		switch {
		case !f.AllergyDetection:
			return ReasonFeatureDisabled
		case len(scope.Allergies) == 0:
			return ReasonNoAllergies
		}
		return ""
	})
}

// TriggerNutrition enqueues a nutrition estimate for scope.RecipeID.
func (e *Enricher) TriggerNutrition(ctx context.Context, scope recipe.Context) (core.EnqueueResult, error) {
	return e.triggerRecipe(ctx, scope, QueueNutrition, "nutrition-estimate-", func(f Features) string {
		if !f.Nutrition {
			return ReasonFeatureDisabled
		}
		return ""
	})
}

// TriggerCalendarSync enqueues a calendar push for the user. One sync per
// user is in flight at a time.
func (e *Enricher) TriggerCalendarSync(ctx context.Context, scope recipe.Context, from, to time.Time) (core.EnqueueResult, error) {
	f, err := e.features.Features(ctx)
	if err != nil {
		return core.EnqueueResult{}, fmt.Errorf("enrich: read features: %w", err)
	}
	if !f.CalendarSync || e.calendar == nil {
		return core.Skipped(ReasonCalendarDisabled), nil
	}
	return e.queue.Enqueue(ctx, QueueCalendarSync, CalendarSyncPayload{Scope: scope, From: from, To: to},
		queue.DedupKey(importKey(QueueCalendarSync, scope.UserID, scope.HouseholdKey)))
}

// triggerRecipe gates and enqueues a per-recipe enhancement. gate returns a
// skip reason, or "" to proceed.
func (e *Enricher) triggerRecipe(ctx context.Context, scope recipe.Context, queueName, keyPrefix string, gate func(Features) string) (core.EnqueueResult, error) {
	if scope.RecipeID == "" {
		return core.Skipped(ReasonNoRecipe), nil
	}
	f, err := e.features.Features(ctx)
	if err != nil {
		return core.EnqueueResult{}, fmt.Errorf("enrich: read features: %w", err)
	}
	if !f.AIEnabled {
		return core.Skipped(ReasonAIDisabled), nil
	}
	if reason := gate(f); reason != "" {
		return core.Skipped(reason), nil
	}
	return e.queue.Enqueue(ctx, queueName, RecipePayload{Scope: scope}, queue.DedupKey(keyPrefix+scope.RecipeID))
}

func (e *Enricher) gateAI(ctx context.Context) (core.EnqueueResult, bool) {
	f, err := e.features.Features(ctx)
	if err != nil {
		e.logger.Warn("failed to read features; assuming enabled", "error", err)
		return core.EnqueueResult{}, false
	}
	if !f.AIEnabled {
		return core.Skipped(ReasonAIDisabled), true
	}
	return core.EnqueueResult{}, false
}

// triggerFollowUps starts the background enhancements after an import.
// Results are logged only; a skipped or failed trigger never fails the import.
func (e *Enricher) triggerFollowUps(ctx context.Context, scope recipe.Context) {
	triggers := []struct {
		name string
		fn   func(context.Context, recipe.Context) (core.EnqueueResult, error)
	}{
		{QueueAutoTag, e.TriggerAutoTag},
		{QueueAutoCategorize, e.TriggerAutoCategorize},
		{QueueAllergy, e.TriggerAllergyDetection},
		{QueueNutrition, e.TriggerNutrition},
	}
	for _, t := range triggers {
		res, err := t.fn(ctx, scope)
		if err != nil {
			e.logger.Warn("follow-up trigger failed", "queue", t.name, "recipe_id", scope.RecipeID, "error", err)
			continue
		}
		e.logger.Debug("follow-up trigger", "queue", t.name, "recipe_id", scope.RecipeID, "status", res.Status, "reason", res.Reason)
	}
}
