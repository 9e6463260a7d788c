package recipe

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Draft is the structured recipe an extraction produces.
type Draft struct {
	Name        string       `json:"name" validate:"required" jsonschema:"description=Recipe title"`
	Description string       `json:"description,omitempty"`
	Servings    int          `json:"servings,omitempty" validate:"gte=0"`
	PrepMinutes int          `json:"prepMinutes,omitempty" validate:"gte=0"`
	CookMinutes int          `json:"cookMinutes,omitempty" validate:"gte=0"`
	Ingredients []Ingredient `json:"ingredients" validate:"required,min=1,dive"`
	Steps       []Step       `json:"steps" validate:"required,min=1,dive"`
	Tags        []string     `json:"tags,omitempty"`
}

// TagSuggestion is the auto-tagging output.
type TagSuggestion struct {
	Tags []string `json:"tags" validate:"dive,required" jsonschema:"description=Short lowercase tags such as vegetarian or weeknight"`
}

// CategorySuggestion is the auto-categorization output.
type CategorySuggestion struct {
	Categories []string `json:"categories" validate:"dive,required" jsonschema:"description=Chosen from the provided category list only"`
}

// AllergyReport is the allergy-detection output.
type AllergyReport struct {
	Allergens []string `json:"allergens" validate:"dive,required" jsonschema:"description=Allergens present in the recipe"`
	Warnings  []string `json:"warnings,omitempty" jsonschema:"description=Matches against the household allergy list"`
}

// ErrNotFound is returned when a recipe ID does not exist.
var ErrNotFound = errors.New("recipe: not found")

// ErrInvalidDraft is returned when extracted output is structurally unusable.
var ErrInvalidDraft = errors.New("recipe: extracted draft is invalid")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a draft for the fields downstream code relies on.
func (d *Draft) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: empty", ErrInvalidDraft)
	}
	if err := Validator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

// ToRecipe builds a new recipe owned by the given context.
func (d *Draft) ToRecipe(id string, rc Context, sourceURL string) *Recipe {
	r := &Recipe{
		ID:           id,
		OwnerID:      rc.UserID,
		HouseholdKey: rc.HouseholdKey,
		SourceURL:    sourceURL,
		ImportStatus: ImportCompleted,
	}
	r.ApplyDraft(d)
	return r
}
