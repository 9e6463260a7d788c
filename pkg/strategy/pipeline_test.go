package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/jobctx"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

var (
	longCaptions    = strings.Repeat("boil the noodles then melt the butter with garlic ", 6)
	longDescription = "Garlic noodles in ten minutes. Ingredients below, full method in the video!"
)

func videoMeta() *video.Metadata {
	return &video.Metadata{
		Title:        "Garlic noodles",
		Description:  "Quick noodles",
		Duration:     45,
		ThumbnailURL: "https://cdn.example/t.jpg",
	}
}

func req() Request {
	return Request{URL: "https://www.instagram.com/reel/abc", Scope: recipe.Context{RecipeID: "r1", UserID: "u1"}}
}

// ──────────────────────────────────────────────────────────────────────────────
// Candidate ordering
// ──────────────────────────────────────────────────────────────────────────────

func TestProcess_CaptionsSucceedWithoutAudio(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.meta.Description = longDescription
	h.source.captions = longCaptions

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, MethodCaptions, out.Method)
	assert.Equal(t, "Garlic noodles", out.Draft.Name)

	prompts := h.provider.calls()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "boil the noodles")
	assert.Contains(t, prompts[0], "Garlic noodles in ten minutes")
	assert.Zero(t, h.source.count("audio"))
	assert.Zero(t, h.transcriber.calls)
}

func TestProcess_NoCaptionsGoesStraightToTranscript(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captionsErr = video.ErrNoCaptions

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, MethodTranscript, out.Method)

	prompts := h.provider.calls()
	require.Len(t, prompts, 1, "no caption-only extraction call")
	assert.Contains(t, prompts[0], "Audio transcript")
	assert.Equal(t, 1, h.source.count("audio"))
}

func TestProcess_ShortCaptionsAreSkipped(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captions = "hi"

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, MethodTranscript, out.Method)
	assert.Len(t, h.provider.calls(), 1)
}

func TestProcess_InvalidCaptionDraftFallsThrough(t *testing.T) {
	h := newHarness(t, videoMeta(), emptyDraft, validDraft)
	h.source.captions = longCaptions

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, MethodTranscript, out.Method)
	assert.Len(t, h.provider.calls(), 2)
}

func TestProcess_AudioFailureSalvagesDescription(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.meta.Description = longDescription
	h.source.captionsErr = video.ErrNoCaptions
	h.source.audioErr = errors.New("HTTP Error 403: Forbidden")

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, MethodDescription, out.Method)
	assert.Zero(t, h.transcriber.calls)
}

func TestProcess_ExhaustedCandidatesAreTerminal(t *testing.T) {
	h := newHarness(t, videoMeta(), emptyDraft)
	h.source.captions = longCaptions

	_, err := h.strategy().Process(context.Background(), req())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.True(t, core.IsNoRetry(err))
	assert.Len(t, h.provider.calls(), 2, "captions then transcript; description only salvages audio failures")
}

func TestProcess_TransientFailureIsRetryable(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captionsErr = video.ErrNoCaptions
	h.provider.errs = []error{errors.New("429 Too Many Requests")}

	_, err := h.strategy().Process(context.Background(), req())
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.False(t, core.IsNoRetry(err))
}

func TestProcess_AIDisabledStopsImmediately(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captions = longCaptions
	h.deps.Executor = ai.NewExecutor(h.provider, ai.StaticSettings{Enabled: false})

	_, err := h.strategy().Process(context.Background(), req())
	require.Error(t, err)
	assert.True(t, core.IsNoRetry(err))
	assert.Zero(t, h.source.count("audio"))
	assert.Empty(t, h.provider.calls())
}

func TestProcess_TranscriptReusedFromCheckpoint(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captionsErr = video.ErrNoCaptions

	job := &core.Job{ID: "import-video-r1", Attempt: 2}
	cps := []core.Checkpoint{{Phase: "transcript", Result: []byte(`"saved transcript: two cups flour"`)}}
	ctx := jobctx.WithJob(context.Background(), job, nil, "w1", cps)

	out, err := h.strategy().Process(ctx, req())
	require.NoError(t, err)
	assert.Equal(t, MethodTranscript, out.Method)
	assert.Zero(t, h.source.count("audio"))
	assert.Contains(t, h.provider.calls()[0], "saved transcript")
}

// ──────────────────────────────────────────────────────────────────────────────
// Length guard
// ──────────────────────────────────────────────────────────────────────────────

func TestProcess_LengthGuardBeforeAnyDownload(t *testing.T) {
	meta := videoMeta()
	meta.Duration = 3600
	h := newHarness(t, meta, validDraft)
	h.source.captions = longCaptions

	_, err := h.strategy().Process(context.Background(), req())
	require.ErrorIs(t, err, ErrVideoTooLong)
	assert.True(t, core.IsNoRetry(err))
	assert.Equal(t, video.MsgTooLong, video.FriendlyMessage(err))

	assert.Zero(t, h.source.count("captions"))
	assert.Zero(t, h.source.count("audio"))
	assert.Zero(t, h.source.count("video"))
	assert.Empty(t, h.provider.calls())
	assert.Empty(t, h.assets.images)
}

func TestProcess_UnavailableIsTerminal(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.metaErr = video.ErrUnavailable

	_, err := h.strategy().Process(context.Background(), req())
	assert.True(t, core.IsNoRetry(err))
	assert.Equal(t, video.MsgUnavailable, video.FriendlyMessage(err))
}

// ──────────────────────────────────────────────────────────────────────────────
// Cleanup
// ──────────────────────────────────────────────────────────────────────────────

func TestProcess_CleanupOnSuccess(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captions = "short"

	_, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	require.Len(t, h.source.files(), 3, "captions, audio and video")
	h.requireCleanedUp(t)
}

func TestProcess_CleanupOnValidationFailure(t *testing.T) {
	h := newHarness(t, videoMeta(), emptyDraft)
	h.source.captions = longCaptions

	_, err := h.strategy().Process(context.Background(), req())
	require.Error(t, err)
	h.requireCleanedUp(t)
}

func TestProcess_CleanupOnPanic(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captionsErr = video.ErrNoCaptions
	h.transcriber.panic = true

	assert.Panics(t, func() {
		_, _ = h.strategy().Process(context.Background(), req())
	})
	h.requireCleanedUp(t)
}

// ──────────────────────────────────────────────────────────────────────────────
// Image posts and assets
// ──────────────────────────────────────────────────────────────────────────────

func imageMeta(desc string) *video.Metadata {
	return &video.Metadata{Title: "Carousel", Description: desc, ThumbnailURL: "https://cdn.example/c.jpg"}
}

func TestProcess_ImageUsesCaption(t *testing.T) {
	h := newHarness(t, imageMeta(longDescription), validDraft)

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, MethodCaption, out.Method)
	assert.Zero(t, h.scraper.calls)
	assert.Zero(t, h.source.count("captions"))
	assert.Zero(t, h.source.count("audio"))
	assert.Zero(t, h.source.count("video"))
	assert.Equal(t, "media/r1/thumb.jpg", out.ImagePath)
}

func TestProcess_ImageShortCaptionScrapesPage(t *testing.T) {
	h := newHarness(t, imageMeta("yum"), validDraft)
	h.scraper.text = longDescription

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, 1, h.scraper.calls)
	assert.Contains(t, h.provider.calls()[0], "Garlic noodles in ten minutes")
	assert.Equal(t, MethodCaption, out.Method)
}

func TestProcess_ImageWithoutRecipe(t *testing.T) {
	h := newHarness(t, imageMeta("yum"), validDraft)
	h.scraper.err = errors.New("blocked")

	_, err := h.strategy().Process(context.Background(), req())
	require.ErrorIs(t, err, ErrNoRecipeInCaption)
	assert.True(t, core.IsNoRetry(err))
	assert.Equal(t, video.MsgNoRecipe, video.FriendlyMessage(err))
	assert.Empty(t, h.provider.calls())
	assert.Zero(t, h.source.count("audio"), "no transcription fallback for images")
}

func TestProcess_ImageCaptionNotARecipe(t *testing.T) {
	h := newHarness(t, imageMeta(longDescription), emptyDraft)

	_, err := h.strategy().Process(context.Background(), req())
	require.ErrorIs(t, err, ErrNoRecipeInCaption)
	assert.True(t, core.IsNoRetry(err))
}

func TestProcess_AssetsSavedBestEffort(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captions = longCaptions + longDescription

	out, err := h.strategy().Process(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "media/r1/thumb.jpg", out.ImagePath)
	assert.Equal(t, "media/r1/video.mp4", out.VideoPath)

	h2 := newHarness(t, videoMeta(), validDraft)
	h2.source.captions = longCaptions + longDescription
	h2.assets.imageErr = errors.New("cdn down")
	h2.source.videoErr = errors.New("HTTP Error 403")

	out, err = h2.strategy().Process(context.Background(), req())
	require.NoError(t, err, "asset failures never fail the extraction")
	assert.Empty(t, out.ImagePath)
	assert.Empty(t, out.VideoPath)
}

func TestProcess_NoAssetsWithoutRecipeID(t *testing.T) {
	h := newHarness(t, videoMeta(), validDraft)
	h.source.captions = longCaptions + longDescription

	r := req()
	r.Scope.RecipeID = ""
	_, err := h.strategy().Process(context.Background(), r)
	require.NoError(t, err)
	assert.Zero(t, h.source.count("video"))
}
