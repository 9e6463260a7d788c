package enrich

import (
	"encoding/json"
	"time"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

// ImportPayload is the job payload of every import queue. Scope.RecipeID is
// set when re-importing into an existing recipe; otherwise a new recipe is
// created on success.
type ImportPayload struct {
	Scope recipe.Context `json:"scope"`
	URL   string         `json:"url,omitempty"`
	// Text is the pasted recipe for import-paste.
	Text string `json:"text,omitempty"`
	// ImagePath and MediaType describe an uploaded photo for import-image.
	ImagePath string `json:"imagePath,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	// Auth carries per-request platform tokens for import-video.
	Auth *video.AuthTokens `json:"auth,omitempty"`
}

// RecipePayload targets one stored recipe.
type RecipePayload struct {
	Scope recipe.Context `json:"scope"`
}

// ScheduledTaskPayload names a maintenance task.
type ScheduledTaskPayload struct {
	Task string `json:"task"`
	// Limit caps how many recipes one run touches.
	Limit int `json:"limit,omitempty"`
}

// CalendarSyncPayload asks for a user's plan between From and To.
type CalendarSyncPayload struct {
	Scope recipe.Context `json:"scope"`
	From  time.Time      `json:"from"`
	To    time.Time      `json:"to"`
}

// ImportEvent is the payload of import lifecycle events.
type ImportEvent struct {
	RecipeID  string `json:"recipeId,omitempty"`
	URL       string `json:"url,omitempty"`
	Name      string `json:"name,omitempty"`
	Method    string `json:"method,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// EnrichmentEvent is the payload of a completed background enhancement.
type EnrichmentEvent struct {
	RecipeID   string            `json:"recipeId"`
	Kind       string            `json:"kind"`
	Tags       []string          `json:"tags,omitempty"`
	Categories []string          `json:"categories,omitempty"`
	Allergens  []string          `json:"allergens,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Nutrition  *recipe.Nutrition `json:"nutrition,omitempty"`
	Synced     int               `json:"synced,omitempty"`
}

// JobScope returns the owner recorded in a job's payload. Jobs without one,
// such as scheduled maintenance, report false.
func JobScope(job *core.Job) (recipe.Context, bool) {
	var p struct {
		Scope recipe.Context `json:"scope"`
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.Scope.UserID == "" {
		return recipe.Context{}, false
	}
	return p.Scope, true
}

// JobTopic is the event category a queue's events are published under.
func JobTopic(queue string) string {
	switch queue {
	case QueueImportURL, QueueImportVideo, QueueImportImage, QueueImportPaste:
		return TopicImport
	}
	return TopicEnrichment
}
