package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/recipe-enricher/pkg/core"
)

type importPayload struct {
	RecipeID string `json:"recipeId"`
	URL      string `json:"url"`
}

// ──────────────────────────────────────────────────────────────────────────────
// NewHandler validation
// ──────────────────────────────────────────────────────────────────────────────

func TestNewHandler_Rejects(t *testing.T) {
	var typedNil func(context.Context, importPayload) error

	tests := []struct {
		name string
		fn   any
	}{
		{"nil", nil},
		{"typed nil", typedNil},
		{"not a function", "handler"},
		{"zero args", func() error { return nil }},
		{"three args", func(context.Context, int, int) error { return nil }},
		{"two args without context", func(int, int) error { return nil }},
		{"no return", func(context.Context, importPayload) {}},
		{"non-error return", func(context.Context, importPayload) int { return 0 }},
		{"two returns", func(context.Context, importPayload) (int, error) { return 0, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandler(tt.fn)
			assert.Error(t, err)
		})
	}
}

func TestNewHandler_Accepts(t *testing.T) {
	h, err := NewHandler(func(ctx context.Context, p importPayload) error { return nil })
	require.NoError(t, err)
	assert.True(t, h.HasContext)
	assert.Equal(t, "importPayload", h.ArgsType.Name())

	h, err = NewHandler(func(p importPayload) error { return nil })
	require.NoError(t, err)
	assert.False(t, h.HasContext)

	h, err = NewHandler(func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, h.ArgsType)
}

// ──────────────────────────────────────────────────────────────────────────────
// Execute
// ──────────────────────────────────────────────────────────────────────────────

func TestHandler_Execute_DecodesPayload(t *testing.T) {
	var got importPayload
	h, err := NewHandler(func(ctx context.Context, p importPayload) error {
		got = p
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.Execute(context.Background(), []byte(`{"recipeId":"r1","url":"https://example.com"}`)))
	assert.Equal(t, importPayload{RecipeID: "r1", URL: "https://example.com"}, got)
}

func TestHandler_Execute_BadPayloadIsNoRetry(t *testing.T) {
	h, err := NewHandler(func(ctx context.Context, p importPayload) error { return nil })
	require.NoError(t, err)

	err = h.Execute(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, core.IsNoRetry(err))
}

func TestHandler_Execute_ReturnsHandlerError(t *testing.T) {
	boom := errors.New("boom")
	h, err := NewHandler(func(ctx context.Context, p importPayload) error { return boom })
	require.NoError(t, err)

	assert.ErrorIs(t, h.Execute(context.Background(), []byte(`{}`)), boom)
}

func TestHandler_Execute_PropagatesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "value")

	h, err := NewHandler(func(ctx context.Context) error {
		assert.Equal(t, "value", ctx.Value(key{}))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.Execute(ctx, nil))
}

func TestHandler_Execute_AppliesTimeout(t *testing.T) {
	h, err := NewHandler(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	h.Timeout = time.Minute

	require.NoError(t, h.Execute(context.Background(), nil))
}

func TestHandler_Execute_InvalidFn(t *testing.T) {
	h := &Handler{}
	assert.Error(t, h.Execute(context.Background(), nil))
}
