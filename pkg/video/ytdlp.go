package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec. A failing command's stderr is
// folded into the error so FriendlyMessage can match on it.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return out, fmt.Errorf("%s: %w", name, err)
		}
		return out, fmt.Errorf("%s: %w: %s", name, err, lastLines(msg, 5))
	}
	return out, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// YTDLPSource drives the yt-dlp binary, which covers Instagram, Facebook,
// TikTok and most other video hosts.
type YTDLPSource struct {
	binary      string
	run         Runner
	maxFilesize string
	subLangs    string

	auth *AuthTokens
}

// YTDLPOption configures a YTDLPSource.
type YTDLPOption func(*YTDLPSource)

// WithRunner replaces the command runner.
func WithRunner(r Runner) YTDLPOption {
	return func(s *YTDLPSource) {
		if r != nil {
			s.run = r
		}
	}
}

// WithMaxFilesize caps video downloads, in yt-dlp notation (e.g. "200M").
func WithMaxFilesize(size string) YTDLPOption {
	return func(s *YTDLPSource) { s.maxFilesize = size }
}

// WithSubtitleLanguages sets the --sub-langs pattern.
func WithSubtitleLanguages(langs string) YTDLPOption {
	return func(s *YTDLPSource) {
		if langs != "" {
			s.subLangs = langs
		}
	}
}

// NewYTDLPSource creates a source invoking binary ("yt-dlp" when empty).
func NewYTDLPSource(binary string, opts ...YTDLPOption) *YTDLPSource {
	if binary == "" {
		binary = "yt-dlp"
	}
	s := &YTDLPSource{binary: binary, run: ExecRunner, maxFilesize: "250M", subLangs: "en.*,en"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithAuth returns a copy of the source that sends auth on every call.
func (s *YTDLPSource) WithAuth(auth *AuthTokens) *YTDLPSource {
	cp := *s
	cp.auth = auth
	return &cp
}

func (s *YTDLPSource) baseArgs(auth *AuthTokens) []string {
	args := []string{"--no-playlist", "--no-warnings", "--no-progress"}
	if auth == nil {
		auth = s.auth
	}
	if auth != nil {
		if auth.CookiesFile != "" {
			args = append(args, "--cookies", auth.CookiesFile)
		}
		keys := make([]string, 0, len(auth.Headers))
		for k := range auth.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, "--add-header", k+":"+auth.Headers[k])
		}
	}
	return args
}

type ytdlpInfo struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	Uploader    string  `json:"uploader"`
	Channel     string  `json:"channel"`
	UploadDate  string  `json:"upload_date"`
}

func (s *YTDLPSource) GetMetadata(ctx context.Context, url string, auth *AuthTokens) (*Metadata, error) {
	args := append(s.baseArgs(auth), "--dump-single-json", "--skip-download", url)
	out, err := s.run(ctx, s.binary, args...)
	if err != nil {
		return nil, ytdlpError(err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp metadata: %w", err)
	}

	meta := &Metadata{
		Title:        info.Title,
		Description:  info.Description,
		Duration:     info.Duration,
		ThumbnailURL: info.Thumbnail,
		Uploader:     info.Uploader,
		UploadDate:   formatUploadDate(info.UploadDate),
	}
	if meta.Uploader == "" {
		meta.Uploader = info.Channel
	}
	return meta, nil
}

func (s *YTDLPSource) DownloadCaptions(ctx context.Context, url, dir string) (string, error) {
	args := append(s.baseArgs(nil),
		"--skip-download", "--write-subs", "--write-auto-subs",
		"--sub-langs", s.subLangs, "--sub-format", "vtt/best", "--convert-subs", "vtt",
		"-o", filepath.Join(dir, "captions.%(ext)s"), url)
	if _, err := s.run(ctx, s.binary, args...); err != nil {
		return "", ytdlpError(err)
	}

	vtt, err := firstMatch(dir, "captions*.vtt")
	if err != nil {
		return "", ErrNoCaptions
	}
	raw, err := os.ReadFile(vtt)
	if err != nil {
		return "", fmt.Errorf("yt-dlp captions: %w", err)
	}
	text := VTTText(raw)
	if text == "" {
		return "", ErrNoCaptions
	}

	// The .vtt stays in dir and is removed with the workspace.
	path := strings.TrimSuffix(vtt, filepath.Ext(vtt)) + ".txt"
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("yt-dlp captions: %w", err)
	}
	return path, nil
}

func (s *YTDLPSource) DownloadAudio(ctx context.Context, url, dir string) (string, error) {
	args := append(s.baseArgs(nil),
		"-f", "bestaudio/best", "-x", "--audio-format", "mp3", "--audio-quality", "5",
		"-o", filepath.Join(dir, "audio.%(ext)s"), url)
	if _, err := s.run(ctx, s.binary, args...); err != nil {
		return "", ytdlpError(err)
	}
	path, err := firstMatch(dir, "audio.*")
	if err != nil {
		return "", fmt.Errorf("yt-dlp audio: %w", err)
	}
	return path, nil
}

func (s *YTDLPSource) DownloadVideo(ctx context.Context, url, dir string) (string, error) {
	args := append(s.baseArgs(nil),
		"-f", "best[ext=mp4]/best", "--max-filesize", s.maxFilesize,
		"-o", filepath.Join(dir, "video.%(ext)s"), url)
	if _, err := s.run(ctx, s.binary, args...); err != nil {
		return "", ytdlpError(err)
	}
	path, err := firstMatch(dir, "video.*")
	if err != nil {
		return "", fmt.Errorf("yt-dlp video: %w", err)
	}
	return path, nil
}

func firstMatch(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, nil
		}
	}
	return "", fmt.Errorf("no file matching %s", pattern)
}

func ytdlpError(err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("yt-dlp not installed: %w", err)
	case strings.Contains(lower, "unsupported url"):
		return fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	case strings.Contains(lower, "private"),
		strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "login required"),
		strings.Contains(lower, "has been removed"),
		strings.Contains(lower, "http error 404"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func formatUploadDate(d string) string {
	if len(d) != 8 {
		return d
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:]
}

var (
	vttTimestamp = regexp.MustCompile(`^\d{2}:\d{2}[:.]\d{2}`)
	vttCueID     = regexp.MustCompile(`^\d+$`)
	vttTag       = regexp.MustCompile(`<[^>]+>`)
)

// VTTText flattens a WebVTT file into plain text, dropping cue timings and
// the repeated lines auto-generated captions roll over between cues.
func VTTText(raw []byte) string {
	var out []string
	last := ""
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "",
			strings.HasPrefix(line, "WEBVTT"),
			strings.HasPrefix(line, "Kind:"),
			strings.HasPrefix(line, "Language:"),
			strings.HasPrefix(line, "NOTE"),
			vttTimestamp.MatchString(line),
			vttCueID.MatchString(line):
			continue
		}
		line = strings.TrimSpace(vttTag.ReplaceAllString(line, ""))
		if line == "" || line == last {
			continue
		}
		last = line
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
