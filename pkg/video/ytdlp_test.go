package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner records invocations and runs a per-call action.
type scriptedRunner struct {
	calls [][]string
	act   func(args []string) ([]byte, error)
}

func (r *scriptedRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.act(args)
}

func outputTemplate(args []string) string {
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestYTDLP_GetMetadata(t *testing.T) {
	r := &scriptedRunner{act: func([]string) ([]byte, error) {
		return []byte(`{"title":"Crispy tofu","description":"Ingredients: tofu","duration":61.5,"thumbnail":"https://img/x.jpg","channel":"chef","upload_date":"20240102"}`), nil
	}}
	s := NewYTDLPSource("", WithRunner(r.run))

	meta, err := s.GetMetadata(context.Background(), "https://www.instagram.com/reel/abc", &AuthTokens{
		CookiesFile: "/tmp/cookies.txt",
		Headers:     map[string]string{"X-B": "2", "X-A": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Crispy tofu", meta.Title)
	assert.Equal(t, 61.5, meta.Duration)
	assert.Equal(t, "chef", meta.Uploader)
	assert.Equal(t, "2024-01-02", meta.UploadDate)
	assert.False(t, meta.IsImage())

	require.Len(t, r.calls, 1)
	cmd := strings.Join(r.calls[0], " ")
	assert.True(t, strings.HasPrefix(cmd, "yt-dlp "))
	assert.Contains(t, cmd, "--cookies /tmp/cookies.txt")
	assert.Contains(t, cmd, "--add-header X-A:1 --add-header X-B:2")
	assert.Contains(t, cmd, "--dump-single-json")
}

func TestYTDLP_ErrorsAreClassified(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"ERROR: [Instagram] abc: This video is private", ErrUnavailable},
		{"ERROR: Unsupported URL: https://example.com", ErrUnsupportedPlatform},
		{"ERROR: Video unavailable", ErrUnavailable},
	}
	for _, tt := range tests {
		r := &scriptedRunner{act: func([]string) ([]byte, error) { return nil, errors.New(tt.stderr) }}
		_, err := NewYTDLPSource("", WithRunner(r.run)).GetMetadata(context.Background(), "u", nil)
		assert.ErrorIs(t, err, tt.want, tt.stderr)
	}
}

func TestYTDLP_DownloadCaptions(t *testing.T) {
	dir := t.TempDir()
	vtt := "WEBVTT\nKind: captions\nLanguage: en\n\n00:00:00.000 --> 00:00:02.000\nadd two cups <c>flour</c>\n\n00:00:02.000 --> 00:00:04.000\nadd two cups flour\nthen bake\n"
	r := &scriptedRunner{act: func(args []string) ([]byte, error) {
		out := strings.Replace(outputTemplate(args), "%(ext)s", "en.vtt", 1)
		return nil, os.WriteFile(out, []byte(vtt), 0o600)
	}}

	path, err := NewYTDLPSource("", WithRunner(r.run)).DownloadCaptions(context.Background(), "u", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "captions.en.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "add two cups flour\nthen bake", string(data))
}

func TestYTDLP_DownloadCaptions_NoneWritten(t *testing.T) {
	r := &scriptedRunner{act: func([]string) ([]byte, error) { return nil, nil }}
	_, err := NewYTDLPSource("", WithRunner(r.run)).DownloadCaptions(context.Background(), "u", t.TempDir())
	assert.ErrorIs(t, err, ErrNoCaptions)
}

func TestYTDLP_DownloadAudioAndVideo(t *testing.T) {
	dir := t.TempDir()
	r := &scriptedRunner{act: func(args []string) ([]byte, error) {
		tmpl := outputTemplate(args)
		ext := "mp3"
		if strings.Contains(tmpl, "video.") {
			ext = "mp4"
		}
		return nil, os.WriteFile(strings.Replace(tmpl, "%(ext)s", ext, 1), []byte("x"), 0o600)
	}}
	s := NewYTDLPSource("/usr/local/bin/yt-dlp", WithRunner(r.run), WithMaxFilesize("50M"))

	audio, err := s.DownloadAudio(context.Background(), "u", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "audio.mp3"), audio)

	vid, err := s.DownloadVideo(context.Background(), "u", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video.mp4"), vid)
	assert.Contains(t, strings.Join(r.calls[1], " "), "--max-filesize 50M")
	assert.Equal(t, "/usr/local/bin/yt-dlp", r.calls[0][0])
}

func TestYTDLP_WithAuthIsSticky(t *testing.T) {
	r := &scriptedRunner{act: func([]string) ([]byte, error) { return nil, nil }}
	base := NewYTDLPSource("", WithRunner(r.run))
	authed := base.WithAuth(&AuthTokens{CookiesFile: "/c"})

	_, _ = authed.DownloadAudio(context.Background(), "u", t.TempDir())
	_, _ = base.DownloadAudio(context.Background(), "u", t.TempDir())
	assert.Contains(t, r.calls[0], "--cookies")
	assert.NotContains(t, r.calls[1], "--cookies")
}

func TestVTTText_DropsRolledOverLines(t *testing.T) {
	raw := []byte("WEBVTT\n\n1\n00:00.000 --> 00:01.000\nhello\n\n00:01.000 --> 00:02.000\nhello\nworld\n")
	assert.Equal(t, "hello\nworld", VTTText(raw))
}
