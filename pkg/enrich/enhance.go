package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

// errSkip ends an enhancement quietly: the job completes and nothing is saved.
var errSkip = errors.New("skip")

// AutoTag merges model-suggested tags into the recipe's own.
func (e *Enricher) AutoTag(ctx context.Context, p RecipePayload) error {
	return e.enhance(ctx, p, "auto-tag", func(ctx context.Context, r *recipe.Recipe, f Features) (recipe.Patch, EnrichmentEvent, error) {
		switch f.AutoTag {
		case AutoTagOff, "":
			return nil, EnrichmentEvent{}, errSkip
		case AutoTagUntagged:
			if len(r.Tags) > 0 {
				return nil, EnrichmentEvent{}, errSkip
			}
		}
		res := ai.Execute[recipe.TagSuggestion](ctx, e.exec, tagPrompt(r), tagSystem)
		if !res.Success {
			return nil, EnrichmentEvent{}, res.Err()
		}
		tags := normalizeTags(res.Data.Tags)
		patch := func(cur *recipe.Recipe) error {
			cur.Tags = recipe.MergeLabels(cur.Tags, tags)
			return nil
		}
		return patch, EnrichmentEvent{Tags: tags}, nil
	})
}

// AutoCategorize assigns categories from the configured list.
func (e *Enricher) AutoCategorize(ctx context.Context, p RecipePayload) error {
	return e.enhance(ctx, p, "auto-categorize", func(ctx context.Context, r *recipe.Recipe, f Features) (recipe.Patch, EnrichmentEvent, error) {
		if !f.AutoCategorize || len(f.Categories) == 0 {
			return nil, EnrichmentEvent{}, errSkip
		}
		res := ai.Execute[recipe.CategorySuggestion](ctx, e.exec, categoryPrompt(r, f.Categories), categorySystem)
		if !res.Success {
			return nil, EnrichmentEvent{}, res.Err()
		}
		chosen := allowedLabels(res.Data.Categories, f.Categories)
		if len(chosen) == 0 {
			return nil, EnrichmentEvent{}, errSkip
		}
		patch := func(cur *recipe.Recipe) error {
			cur.Categories = recipe.MergeLabels(cur.Categories, chosen)
			return nil
		}
		return patch, EnrichmentEvent{Categories: chosen}, nil
	})
}

// DetectAllergies records the recipe's allergens and warns about those the
// household listed.
func (e *Enricher) DetectAllergies(ctx context.Context, p RecipePayload) error {
	return e.enhance(ctx, p, "allergy-detect", func(ctx context.Context, r *recipe.Recipe, f Features) (recipe.Patch, EnrichmentEvent, error) {
		if !f.AllergyDetection || len(p.Scope.Allergies) == 0 {
			return nil, EnrichmentEvent{}, errSkip
		}
		res := ai.Execute[recipe.AllergyReport](ctx, e.exec, allergyPrompt(r, p.Scope.Allergies), allergySystem)
		if !res.Success {
			return nil, EnrichmentEvent{}, res.Err()
		}
		allergens := normalizeTags(res.Data.Allergens)
		warnings := householdMatches(allergens, p.Scope.Allergies)
		patch := func(cur *recipe.Recipe) error {
			cur.Allergens = allergens
			return nil
		}
		return patch, EnrichmentEvent{Allergens: allergens, Warnings: warnings}, nil
	})
}

// EstimateNutrition stores a per-serving nutrition estimate.
func (e *Enricher) EstimateNutrition(ctx context.Context, p RecipePayload) error {
	return e.enhance(ctx, p, "nutrition", func(ctx context.Context, r *recipe.Recipe, f Features) (recipe.Patch, EnrichmentEvent, error) {
		if !f.Nutrition {
			return nil, EnrichmentEvent{}, errSkip
		}
		res := ai.Execute[recipe.Nutrition](ctx, e.exec, nutritionPrompt(r), nutritionSystem, ai.WithTemperature(0))
		if !res.Success {
			return nil, EnrichmentEvent{}, res.Err()
		}
		n := res.Data
		patch := func(cur *recipe.Recipe) error {
			cur.Nutrition = &n
			return nil
		}
		return patch, EnrichmentEvent{Nutrition: &n}, nil
	})
}

type enhancement func(ctx context.Context, r *recipe.Recipe, f Features) (recipe.Patch, EnrichmentEvent, error)

// enhance is the shared shape of every background enhancement: load, check,
// ask the model, merge in one transaction, announce.
func (e *Enricher) enhance(ctx context.Context, p RecipePayload, kind string, run enhancement) error {
	id := p.Scope.RecipeID
	if id == "" {
		return core.NoRetry(fmt.Errorf("%w: missing recipe id", ErrInvalidInput))
	}
	logger := e.logger.With("recipe_id", id, "kind", kind)

	f, err := e.features.Features(ctx)
	if err != nil {
		return fmt.Errorf("enrich: read features: %w", err)
	}
	if !f.AIEnabled {
		logger.Debug("enhancement skipped", "reason", ReasonAIDisabled)
		return nil
	}

	r, err := e.store.LoadRecipe(ctx, id)
	if errors.Is(err, recipe.ErrNotFound) {
		logger.Info("recipe gone; enhancement dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if len(r.Ingredients) == 0 {
		logger.Debug("enhancement skipped", "reason", "no ingredients")
		return nil
	}

	patch, event, err := run(ctx, r, f)
	switch {
	case errors.Is(err, errSkip):
		logger.Debug("enhancement skipped")
		return nil
	case err != nil:
		var aerr *ai.Error
		if errors.As(err, &aerr) && aerr.Code == ai.CodeAIDisabled {
			logger.Debug("enhancement skipped", "reason", ReasonAIDisabled)
			return nil
		}
		return ai.JobError(err)
	}

	if _, err := e.store.MergeAndSave(ctx, id, patch); err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			logger.Info("recipe deleted during enhancement")
			return nil
		}
		return fmt.Errorf("enrich: save %s: %w", kind, err)
	}

	event.RecipeID = id
	event.Kind = kind
	e.emit(ctx, TopicEnrichment, p.Scope, broadcast.EventCompleted, event)
	logger.Info("recipe enhanced")
	return nil
}

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return recipe.MergeLabels(nil, out)
}

// allowedLabels keeps suggestions that name a configured label, returning
// the configured spelling.
func allowedLabels(suggested, allowed []string) []string {
	canon := make(map[string]string, len(allowed))
	for _, a := range allowed {
		canon[strings.ToLower(strings.TrimSpace(a))] = a
	}
	var out []string
	for _, s := range suggested {
		if a, ok := canon[strings.ToLower(strings.TrimSpace(s))]; ok {
			out = append(out, a)
		}
	}
	return recipe.MergeLabels(nil, out)
}

// householdMatches returns the household allergies found among allergens.
// Matching is by substring so "tree nuts" matches "nuts".
func householdMatches(allergens, household []string) []string {
	var out []string
	for _, h := range household {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		for _, a := range allergens {
			if strings.Contains(a, key) || strings.Contains(key, a) {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
