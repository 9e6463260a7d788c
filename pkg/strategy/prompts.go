package strategy

import (
	"fmt"
	"strings"

	"github.com/jdziat/recipe-enricher/pkg/video"
)

const extractionSystem = `You extract cooking recipes from social media posts and video transcripts.
Return only what the source states or clearly implies. Do not invent ingredients or steps.
Quantities keep the units the source uses. Steps are numbered from 1 in cooking order.
If the text does not describe a recipe, return an empty ingredients list.`

func sourceLabel(m Method) string {
	switch m {
	case MethodCaptions:
		return "Video captions"
	case MethodTranscript:
		return "Audio transcript"
	}
	return ""
}

// candidateText joins the post's own text with an optional extra signal.
func candidateText(meta *video.Metadata, method Method, extra string) string {
	var b strings.Builder
	if meta.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(meta.Title))
	}
	if meta.Uploader != "" {
		fmt.Fprintf(&b, "Author: %s\n", strings.TrimSpace(meta.Uploader))
	}
	if d := strings.TrimSpace(meta.Description); d != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", d)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		fmt.Fprintf(&b, "\n%s:\n%s\n", sourceLabel(method), extra)
	}
	return b.String()
}

func extractionPrompt(text string) string {
	return "Extract the recipe from the following post.\n\n" + text
}
