package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

// ErrRecipeNotFound is returned when a recipe ID does not exist.
var ErrRecipeNotFound = recipe.ErrNotFound

// RecipeStore persists recipes with GORM.
type RecipeStore struct {
	jobs *GormStorage
}

// NewRecipeStore creates a recipe store sharing the job storage connection.
func NewRecipeStore(jobs *GormStorage) *RecipeStore {
	return &RecipeStore{jobs: jobs}
}

// Migrate creates the recipes table.
func (s *RecipeStore) Migrate(ctx context.Context) error {
	return s.jobs.db.WithContext(ctx).AutoMigrate(&recipe.Recipe{})
}

// LoadRecipe fetches a recipe by ID.
func (s *RecipeStore) LoadRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	var r recipe.Recipe
	err := s.jobs.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecipeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MergeAndSave loads the recipe, applies patch and writes it back inside one
// transaction. On PostgreSQL the row is locked for the duration, so concurrent
// merges (auto-tag racing a manual edit) serialize instead of overwriting.
func (s *RecipeStore) MergeAndSave(ctx context.Context, id string, patch recipe.Patch) (*recipe.Recipe, error) {
	var saved recipe.Recipe
	err := s.jobs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current recipe.Recipe
		err := s.jobs.forUpdate(tx, false).First(&current, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecipeNotFound
		}
		if err != nil {
			return err
		}
		if err := patch(&current); err != nil {
			return err
		}
		current.ID = id
		if err := tx.Save(&current).Error; err != nil {
			return fmt.Errorf("save recipe: %w", err)
		}
		saved = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// FindExisting looks for a recipe visible to the scope that came from the
// same URL or carries the same name. Returns (nil, nil) when none exists.
func (s *RecipeStore) FindExisting(ctx context.Context, scope recipe.Context, sourceURL, name string) (*recipe.Recipe, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	name = strings.TrimSpace(name)
	if sourceURL == "" && name == "" {
		return nil, nil
	}

	q := s.jobs.db.WithContext(ctx).Model(&recipe.Recipe{})
	if scope.HouseholdKey != "" {
		q = q.Where("(owner_id = ? OR household_key = ?)", scope.UserID, scope.HouseholdKey)
	} else {
		q = q.Where("owner_id = ?", scope.UserID)
	}

	switch {
	case sourceURL != "" && name != "":
		q = q.Where("(source_url = ? OR LOWER(name) = ?)", sourceURL, strings.ToLower(name))
	case sourceURL != "":
		q = q.Where("source_url = ?", sourceURL)
	default:
		q = q.Where("LOWER(name) = ?", strings.ToLower(name))
	}
	if scope.RecipeID != "" {
		q = q.Where("id <> ?", scope.RecipeID)
	}

	var r recipe.Recipe
	err := q.Order("created_at ASC").First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRecipe inserts a new recipe, assigning an ID when missing.
func (s *RecipeStore) CreateRecipe(ctx context.Context, r *recipe.Recipe) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return s.jobs.db.WithContext(ctx).Create(r).Error
}

// ListRecipes returns up to limit completed imports with IDs greater than
// after, in ID order. Pass the last ID seen to page through the table.
func (s *RecipeStore) ListRecipes(ctx context.Context, after string, limit int) ([]*recipe.Recipe, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*recipe.Recipe
	err := s.jobs.db.WithContext(ctx).
		Where("id > ?", after).
		Where("import_status = ? OR import_status = ''", recipe.ImportCompleted).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
