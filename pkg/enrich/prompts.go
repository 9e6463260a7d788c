package enrich

import (
	"fmt"
	"strings"

	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

const importSystem = `You extract a single cooking recipe from the text or image you are given.
Return only what the source states. Do not invent ingredients or steps.
Keep quantities and units as written. Number steps from 1 in cooking order.
If there is no recipe, return an empty ingredients list.`

const tagSystem = `You label recipes with short lowercase tags a home cook would filter by:
diet (vegetarian, vegan, gluten-free), meal (breakfast, dinner), effort (quick, weeknight),
cuisine and main ingredient. Return at most eight tags.`

const categorySystem = `You file recipes into categories. Choose only from the list provided,
spelled exactly as given. Return an empty list if none fit.`

const allergySystem = `You identify food allergens in recipes. Consider every ingredient,
including hidden sources such as sauces, stocks and spreads. Be conservative:
list an allergen when an ingredient commonly contains it.`

const nutritionSystem = `You estimate nutrition per serving for recipes from their ingredient list
and servings. Use typical values for raw ingredients. State confidence as low, medium or high.`

func recipeSummary(r *recipe.Recipe) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recipe: %s\n", r.Name)
	if r.Servings > 0 {
		fmt.Fprintf(&b, "Servings: %d\n", r.Servings)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
	}
	b.WriteString("\nIngredients:\n")
	b.WriteString(r.IngredientText())
	return b.String()
}

func tagPrompt(r *recipe.Recipe) string {
	return "Suggest tags for this recipe.\n\n" + recipeSummary(r)
}

func categoryPrompt(r *recipe.Recipe, categories []string) string {
	return fmt.Sprintf("Categories: %s\n\nChoose the categories for this recipe.\n\n%s",
		strings.Join(categories, ", "), recipeSummary(r))
}

func allergyPrompt(r *recipe.Recipe, household []string) string {
	return fmt.Sprintf("Household allergies: %s\n\nList the allergens in this recipe and warn about any that match the household list.\n\n%s",
		strings.Join(household, ", "), recipeSummary(r))
}

func nutritionPrompt(r *recipe.Recipe) string {
	return "Estimate nutrition per serving.\n\n" + recipeSummary(r)
}

func pagePrompt(pageURL, markdown string) string {
	return fmt.Sprintf("Extract the recipe from this web page (%s).\n\n%s", pageURL, markdown)
}

func pastePrompt(text string) string {
	return "Extract the recipe from this pasted text.\n\n" + text
}

const imagePrompt = "Extract the recipe shown in this photo."
