// Package recipe holds the recipe entities the enrichment pipeline reads and
// writes, plus the AI-facing draft and suggestion shapes.
package recipe

import (
	"strings"
	"time"
)

// Ingredient is one line of a recipe's ingredient list.
type Ingredient struct {
	Name     string `json:"name" validate:"required" jsonschema:"description=Ingredient name without quantity"`
	Quantity string `json:"quantity,omitempty" jsonschema:"description=Amount as written, e.g. 1 1/2"`
	Unit     string `json:"unit,omitempty"`
	Notes    string `json:"notes,omitempty" jsonschema:"description=Preparation notes such as chopped or room temperature"`
}

// Step is one instruction.
type Step struct {
	Order int    `json:"order" validate:"gte=0"`
	Text  string `json:"text" validate:"required"`
}

// Nutrition is a per-serving estimate.
type Nutrition struct {
	Calories   float64 `json:"calories" validate:"gte=0"`
	ProteinG   float64 `json:"proteinG" validate:"gte=0"`
	CarbsG     float64 `json:"carbsG" validate:"gte=0"`
	FatG       float64 `json:"fatG" validate:"gte=0"`
	FiberG     float64 `json:"fiberG" validate:"gte=0"`
	SugarG     float64 `json:"sugarG" validate:"gte=0"`
	SodiumMg   float64 `json:"sodiumMg" validate:"gte=0"`
	Confidence string  `json:"confidence,omitempty" validate:"omitempty,oneof=low medium high" jsonschema:"enum=low,enum=medium,enum=high"`
}

// ImportStatus tracks where an imported recipe is in the pipeline.
type ImportStatus string

const (
	ImportPending   ImportStatus = "pending"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
)

// Recipe is the persisted entity.
type Recipe struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	OwnerID      string       `gorm:"index;size:64;not null" json:"ownerId"`
	HouseholdKey string       `gorm:"index;size:64" json:"householdKey,omitempty"`
	Name         string       `gorm:"size:512" json:"name"`
	Description  string       `gorm:"type:text" json:"description,omitempty"`
	SourceURL    string       `gorm:"index;size:2048" json:"sourceUrl,omitempty"`
	Servings     int          `json:"servings,omitempty"`
	PrepMinutes  int          `json:"prepMinutes,omitempty"`
	CookMinutes  int          `json:"cookMinutes,omitempty"`
	Ingredients  []Ingredient `gorm:"serializer:json" json:"ingredients"`
	Steps        []Step       `gorm:"serializer:json" json:"steps"`
	Tags         []string     `gorm:"serializer:json" json:"tags"`
	Categories   []string     `gorm:"serializer:json" json:"categories"`
	Allergens    []string     `gorm:"serializer:json" json:"allergens"`
	Nutrition    *Nutrition   `gorm:"serializer:json" json:"nutrition,omitempty"`
	ImagePath    string       `gorm:"size:1024" json:"imagePath,omitempty"`
	VideoPath    string       `gorm:"size:1024" json:"videoPath,omitempty"`
	ImportStatus ImportStatus `gorm:"size:20" json:"importStatus,omitempty"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Context is the ownership scope carried in every job payload and used to
// decide who may observe the job's events.
type Context struct {
	RecipeID     string   `json:"recipeId,omitempty"`
	UserID       string   `json:"userId"`
	HouseholdKey string   `json:"householdKey,omitempty"`
	Allergies    []string `json:"allergies,omitempty"`
}

// Patch mutates a recipe inside a read-modify-write transaction.
type Patch func(r *Recipe) error

// ApplyDraft copies extracted fields onto the recipe. Fields the draft leaves
// empty keep their current value.
func (r *Recipe) ApplyDraft(d *Draft) {
	if d.Name != "" {
		r.Name = d.Name
	}
	if d.Description != "" {
		r.Description = d.Description
	}
	if d.Servings > 0 {
		r.Servings = d.Servings
	}
	if d.PrepMinutes > 0 {
		r.PrepMinutes = d.PrepMinutes
	}
	if d.CookMinutes > 0 {
		r.CookMinutes = d.CookMinutes
	}
	if len(d.Ingredients) > 0 {
		r.Ingredients = d.Ingredients
	}
	if len(d.Steps) > 0 {
		r.Steps = d.Steps
	}
	r.Tags = MergeLabels(r.Tags, d.Tags)
}

// MergeLabels returns existing followed by every incoming label not already
// present, comparing case-insensitively. Manually added labels are never dropped.
func MergeLabels(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, l := range existing {
		key := strings.ToLower(strings.TrimSpace(l))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	for _, l := range incoming {
		trimmed := strings.TrimSpace(l)
		key := strings.ToLower(trimmed)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}

// IngredientText renders ingredients one per line for prompts.
func (r *Recipe) IngredientText() string {
	var b strings.Builder
	for _, ing := range r.Ingredients {
		line := strings.Join(strings.Fields(ing.Quantity+" "+ing.Unit+" "+ing.Name), " ")
		if ing.Notes != "" {
			line += ", " + ing.Notes
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
