package enrich

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

// maxPageMarkdown bounds the page text sent to the model.
const maxPageMarkdown = 24000

// PageRecipe is a recipe read from a page's schema.org markup.
type PageRecipe struct {
	Draft    *recipe.Draft
	ImageURL string
}

// RecipeFromJSONLD returns the first schema.org Recipe in the page's
// ld+json blocks, or nil. Blocks may hold an object, an array, or an
// @graph.
func RecipeFromJSONLD(doc *goquery.Document) *PageRecipe {
	var found *PageRecipe
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &data); err != nil {
			return true
		}
		if node := findRecipeNode(data); node != nil {
			found = recipeFromNode(node)
			return false
		}
		return true
	})
	return found
}

func findRecipeNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if n := findRecipeNode(item); n != nil {
				return n
			}
		}
	case map[string]any:
		if isType(t["@type"], "Recipe") {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findRecipeNode(graph)
		}
	}
	return nil
}

func isType(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, item := range t {
			if isType(item, want) {
				return true
			}
		}
	}
	return false
}

func recipeFromNode(n map[string]any) *PageRecipe {
	d := &recipe.Draft{
		Name:        text(n["name"]),
		Description: text(n["description"]),
		Servings:    servings(n["recipeYield"]),
		PrepMinutes: isoMinutes(text(n["prepTime"])),
		CookMinutes: isoMinutes(text(n["cookTime"])),
		Tags:        keywords(n["keywords"]),
	}
	for _, line := range stringList(n["recipeIngredient"]) {
		d.Ingredients = append(d.Ingredients, recipe.Ingredient{Name: line})
	}
	for i, step := range instructions(n["recipeInstructions"]) {
		d.Steps = append(d.Steps, recipe.Step{Order: i + 1, Text: step})
	}
	return &PageRecipe{Draft: d, ImageURL: imageURL(n["image"])}
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(htmlText(t))
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if len(t) > 0 {
			return text(t[0])
		}
	}
	return ""
}

// htmlText strips markup some sites leave inside JSON-LD strings.
func htmlText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// stringList flattens a string or list of strings.
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if s := text(t); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range t {
			if s := text(item); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// instructions handles plain strings, HowToStep lists and HowToSection
// groups.
func instructions(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, line := range strings.Split(htmlText(t), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
	case []any:
		for _, item := range t {
			out = append(out, instructions(item)...)
		}
	case map[string]any:
		if items, ok := t["itemListElement"]; ok {
			return instructions(items)
		}
		if s := text(t["text"]); s != "" {
			out = append(out, s)
		} else if s := text(t["name"]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func keywords(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		raw = stringList(t)
	}
	var out []string
	for _, k := range raw {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		for _, item := range t {
			if s := imageURL(item); s != "" {
				return s
			}
		}
	case map[string]any:
		return text(t["url"])
	}
	return ""
}

var leadingInt = regexp.MustCompile(`\d+`)

func servings(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if m := leadingInt.FindString(t); m != "" {
			n, _ := strconv.Atoi(m)
			return n
		}
	case []any:
		for _, item := range t {
			if n := servings(item); n > 0 {
				return n
			}
		}
	}
	return 0
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// isoMinutes converts an ISO 8601 duration such as PT1H30M to minutes.
func isoMinutes(s string) int {
	m := isoDuration.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	atoi := func(s string) int { n, _ := strconv.Atoi(s); return n }
	return atoi(m[1])*24*60 + atoi(m[2])*60 + atoi(m[3])
}

// PageMarkdown converts the page's main content to markdown for the model.
func PageMarkdown(doc *goquery.Document, pageURL string) (string, error) {
	doc.Find("script, style, noscript, nav, footer, header, aside, form, iframe, svg").Remove()

	var content *goquery.Selection
	for _, sel := range []string{"[itemtype*='schema.org/Recipe']", "article", "main", "[role='main']", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 && strings.TrimSpace(s.Text()) != "" {
			content = s
			break
		}
	}
	if content == nil {
		return "", nil
	}
	html, err := content.Html()
	if err != nil {
		return "", err
	}

	conv := md.NewConverter(hostOf(pageURL), true, nil)
	out, err := conv.ConvertString(html)
	if err != nil {
		return "", err
	}
	return truncate(strings.TrimSpace(out), maxPageMarkdown), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
