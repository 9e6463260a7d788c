package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kkdai/youtube/v2"
)

// YouTubeSource reads YouTube videos through the innertube API directly,
// without an external binary.
type YouTubeSource struct {
	client   youtube.Client
	language string

	mu     sync.Mutex
	videos map[string]*youtube.Video
}

// NewYouTubeSource creates a source preferring captions in language
// (e.g. "en"); any available track is used when that language is missing.
func NewYouTubeSource(language string) *YouTubeSource {
	if language == "" {
		language = "en"
	}
	return &YouTubeSource{language: language, videos: make(map[string]*youtube.Video)}
}

func (s *YouTubeSource) video(ctx context.Context, url string) (*youtube.Video, error) {
	s.mu.Lock()
	v, ok := s.videos[url]
	s.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := s.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, youtubeError(err)
	}

	s.mu.Lock()
	s.videos[url] = v
	s.mu.Unlock()
	return v, nil
}

func youtubeError(err error) error {
	if errors.Is(err, youtube.ErrVideoPrivate) || errors.Is(err, youtube.ErrLoginRequired) || errors.Is(err, youtube.ErrNotPlayableInEmbed) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, youtube.ErrInvalidCharactersInVideoID) || errors.Is(err, youtube.ErrVideoIDMinLength) {
		return fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}
	return err
}

func (s *YouTubeSource) GetMetadata(ctx context.Context, url string, _ *AuthTokens) (*Metadata, error) {
	v, err := s.video(ctx, url)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		Title:       v.Title,
		Description: v.Description,
		Duration:    v.Duration.Seconds(),
		Uploader:    v.Author,
	}
	if !v.PublishDate.IsZero() {
		meta.UploadDate = v.PublishDate.Format("2006-01-02")
	}
	var best uint
	for _, t := range v.Thumbnails {
		if t.Width >= best {
			best = t.Width
			meta.ThumbnailURL = t.URL
		}
	}
	return meta, nil
}

func (s *YouTubeSource) DownloadCaptions(ctx context.Context, url, dir string) (string, error) {
	v, err := s.video(ctx, url)
	if err != nil {
		return "", err
	}
	if len(v.CaptionTracks) == 0 {
		return "", ErrNoCaptions
	}

	lang := v.CaptionTracks[0].LanguageCode
	for _, track := range v.CaptionTracks {
		if strings.HasPrefix(track.LanguageCode, s.language) {
			lang = track.LanguageCode
			break
		}
	}

	transcript, err := s.client.GetTranscriptCtx(ctx, v, lang)
	if err != nil {
		if errors.Is(err, youtube.ErrTranscriptDisabled) {
			return "", ErrNoCaptions
		}
		return "", fmt.Errorf("youtube captions: %w", err)
	}

	var sb strings.Builder
	for _, seg := range transcript {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return "", ErrNoCaptions
	}

	path := filepath.Join(dir, "captions."+lang+".txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return "", fmt.Errorf("youtube captions: %w", err)
	}
	return path, nil
}

func (s *YouTubeSource) DownloadAudio(ctx context.Context, url, dir string) (string, error) {
	v, err := s.video(ctx, url)
	if err != nil {
		return "", err
	}

	formats := v.Formats.Type("audio/").WithAudioChannels()
	if len(formats) == 0 {
		return "", errors.New("youtube audio: no audio formats available")
	}
	// Lowest bitrate is plenty for speech and downloads fastest.
	sort.SliceStable(formats, func(i, j int) bool { return formats[i].Bitrate < formats[j].Bitrate })
	format := formats[0]

	ext := ".webm"
	if strings.Contains(format.MimeType, "mp4") {
		ext = ".m4a"
	}
	return s.download(ctx, v, &format, filepath.Join(dir, "audio"+ext))
}

func (s *YouTubeSource) DownloadVideo(ctx context.Context, url, dir string) (string, error) {
	v, err := s.video(ctx, url)
	if err != nil {
		return "", err
	}

	formats := v.Formats.Type("video/mp4").WithAudioChannels()
	if len(formats) == 0 {
		return "", errors.New("youtube video: no muxed mp4 formats available")
	}
	formats.Sort()
	return s.download(ctx, v, &formats[0], filepath.Join(dir, "video.mp4"))
}

func (s *YouTubeSource) download(ctx context.Context, v *youtube.Video, format *youtube.Format, path string) (string, error) {
	stream, _, err := s.client.GetStreamContext(ctx, v, format)
	if err != nil {
		return "", fmt.Errorf("youtube stream: %w", err)
	}
	defer stream.Close()

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("youtube stream: %w", err)
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("youtube stream: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("youtube stream: %w", err)
	}
	return path, nil
}
