package strategy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

// Re-exported so callers can match strategy failures without importing video.
var (
	ErrVideoTooLong      = video.ErrVideoTooLong
	ErrNoRecipeInCaption = video.ErrNoRecipeInCaption
)

// ErrExtractionFailed is returned when every candidate source was tried and
// none produced a valid recipe.
var ErrExtractionFailed = errors.New("strategy: no candidate produced a recipe")

const (
	// minDescription is the shortest caption worth sending to the model.
	minDescription = 50
	// minCaptionText is the shortest captions+description text worth
	// extracting from before paying for audio.
	minCaptionText = 200
)

// Method names the signal a recipe was extracted from.
type Method string

const (
	MethodCaption     Method = "caption"
	MethodCaptions    Method = "captions"
	MethodTranscript  Method = "transcript"
	MethodDescription Method = "description"
)

// Request is one extraction.
type Request struct {
	URL   string
	Scope recipe.Context
	// Auth overrides the platform's configured tokens.
	Auth *video.AuthTokens
}

// Outcome is a successful extraction.
type Outcome struct {
	Draft    *recipe.Draft
	Method   Method
	Metadata *video.Metadata
	// ImagePath and VideoPath are set when the best-effort asset save worked.
	ImagePath string
	VideoPath string
}

// Strategy extracts a recipe from a post on one platform.
type Strategy interface {
	Platform() Platform
	Process(ctx context.Context, req Request) (*Outcome, error)
}

// Scraper reads a page's preview description.
type Scraper interface {
	Describe(ctx context.Context, url string) (string, error)
}

// AssetSaver persists a recipe's image and video.
type AssetSaver interface {
	SaveImage(ctx context.Context, recipeID, sourceURL string) (string, error)
	SaveVideo(ctx context.Context, recipeID, localPath string) (string, error)
}

// Deps are the collaborators shared by every strategy.
type Deps struct {
	Executor    *ai.Executor
	Transcriber ai.Transcriber
	Scraper     Scraper
	// Assets may be nil, which disables asset saving.
	Assets AssetSaver
	// Workspace creates a per-extraction temp directory. Defaults to one
	// under os.TempDir().
	Workspace func() (*video.Workspace, error)
	// MaxDuration rejects longer videos before anything is downloaded.
	// Zero disables the check.
	MaxDuration time.Duration
	Logger      *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) workspace() (*video.Workspace, error) {
	if d.Workspace != nil {
		return d.Workspace()
	}
	return video.NewWorkspace("", video.WithWorkspaceLogger(d.Logger))
}
