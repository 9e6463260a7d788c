package video

import (
	"context"
	"errors"
)

var (
	ErrVideoTooLong        = errors.New("video: exceeds maximum length")
	ErrUnavailable         = errors.New("video: unavailable or private")
	ErrUnsupportedPlatform = errors.New("video: platform not supported")
	ErrNoRecipeInCaption   = errors.New("video: caption did not contain a recipe")
	ErrNoCaptions          = errors.New("video: no captions available")
)

// Metadata describes a post or video. Duration is in seconds; zero means
// the post is an image or carousel.
type Metadata struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Duration     float64 `json:"duration"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	Uploader     string  `json:"uploader,omitempty"`
	UploadDate   string  `json:"uploadDate,omitempty"`
}

// IsImage reports whether the post has no playable media.
func (m *Metadata) IsImage() bool {
	return m.Duration <= 0
}

// AuthTokens carries credentials for hosts that gate content behind a login.
type AuthTokens struct {
	// CookiesFile is a Netscape-format cookie jar.
	CookiesFile string            `json:"cookiesFile,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Source fetches metadata and media for a URL. Download methods write into
// dir and return the path of the file they created.
type Source interface {
	GetMetadata(ctx context.Context, url string, auth *AuthTokens) (*Metadata, error)
	DownloadCaptions(ctx context.Context, url, dir string) (string, error)
	DownloadAudio(ctx context.Context, url, dir string) (string, error)
	DownloadVideo(ctx context.Context, url, dir string) (string, error)
}
