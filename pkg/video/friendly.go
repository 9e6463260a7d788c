package video

import (
	"errors"
	"strings"
)

// User-facing messages for failed imports.
const (
	MsgTooLong       = "video exceeds maximum length"
	MsgUnsupported   = "platform not supported"
	MsgUnavailable   = "video is unavailable or private"
	MsgNoRecipe      = "caption did not contain a recipe"
	MsgImportFailure = "recipe import failed, please try again"
)

var phraseMessages = []struct {
	msg     string
	phrases []string
}{
	{MsgTooLong, []string{"exceeds maximum length", "too long", "max duration", "maximum duration"}},
	{MsgUnsupported, []string{"unsupported url", "platform not supported", "no suitable extractor", "is not a valid url"}},
	{MsgUnavailable, []string{
		"private video", "video unavailable", "unavailable or private", "this video is private",
		"has been removed", "login required", "sign in to confirm", "restricted access",
		"not available in your country", "http error 404", "http error 403",
	}},
	{MsgNoRecipe, []string{"did not contain a recipe", "no recipe found"}},
}

// FriendlyMessage turns an import error into one of a small set of actionable
// messages, so raw tool output never reaches the user.
func FriendlyMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVideoTooLong):
		return MsgTooLong
	case errors.Is(err, ErrUnsupportedPlatform):
		return MsgUnsupported
	case errors.Is(err, ErrUnavailable):
		return MsgUnavailable
	case errors.Is(err, ErrNoRecipeInCaption):
		return MsgNoRecipe
	}

	lower := strings.ToLower(err.Error())
	for _, pm := range phraseMessages {
		for _, p := range pm.phrases {
			if strings.Contains(lower, p) {
				return pm.msg
			}
		}
	}
	return MsgImportFailure
}
