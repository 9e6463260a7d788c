package video

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFriendlyMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("strategy: %w (900s > 600s)", ErrVideoTooLong), MsgTooLong},
		{fmt.Errorf("%w: tumblr", ErrUnsupportedPlatform), MsgUnsupported},
		{fmt.Errorf("%w: http 404", ErrUnavailable), MsgUnavailable},
		{fmt.Errorf("extract: %w", ErrNoRecipeInCaption), MsgNoRecipe},
		{errors.New("yt-dlp: exit status 1: ERROR: Private video. Sign in if you've been granted access"), MsgUnavailable},
		{errors.New("ERROR: Unsupported URL: https://example.com/x"), MsgUnsupported},
		{errors.New("ERROR: Sign in to confirm your age"), MsgUnavailable},
		{errors.New("connection refused"), MsgImportFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FriendlyMessage(tt.err), fmt.Sprint(tt.err))
	}
}

func TestFriendlyMessage_FallbackFitsEverySource(t *testing.T) {
	msg := FriendlyMessage(errors.New("connection refused"))
	for _, word := range []string{"link", "url", "video"} {
		assert.NotContains(t, msg, word, "paste and image imports share this message")
	}
}
