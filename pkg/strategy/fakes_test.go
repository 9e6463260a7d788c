package strategy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

const validDraft = `{"name":"Garlic noodles","ingredients":[{"name":"noodles","quantity":"200","unit":"g"},{"name":"garlic"}],"steps":[{"order":1,"text":"Boil noodles"},{"order":2,"text":"Toss with garlic butter"}]}`

const emptyDraft = `{"name":"Nothing","ingredients":[],"steps":[]}`

// fakeSource writes real files into the workspace so cleanup can be checked.
type fakeSource struct {
	mu sync.Mutex

	meta        *video.Metadata
	metaErr     error
	captions    string
	captionsErr error
	audioErr    error
	videoErr    error

	calls   map[string]int
	created []string
}

func newFakeSource(meta *video.Metadata) *fakeSource {
	return &fakeSource{meta: meta, calls: map[string]int{}}
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *fakeSource) write(dir, name, content string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.created = append(f.created, path)
	f.mu.Unlock()
	return path, nil
}

func (f *fakeSource) GetMetadata(ctx context.Context, url string, auth *video.AuthTokens) (*video.Metadata, error) {
	f.mu.Lock()
	f.calls["metadata"]++
	f.mu.Unlock()
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	m := *f.meta
	return &m, nil
}

func (f *fakeSource) DownloadCaptions(ctx context.Context, url, dir string) (string, error) {
	f.mu.Lock()
	f.calls["captions"]++
	f.mu.Unlock()
	if f.captionsErr != nil {
		return "", f.captionsErr
	}
	return f.write(dir, "captions.en.txt", f.captions)
}

func (f *fakeSource) DownloadAudio(ctx context.Context, url, dir string) (string, error) {
	f.mu.Lock()
	f.calls["audio"]++
	f.mu.Unlock()
	if f.audioErr != nil {
		return "", f.audioErr
	}
	return f.write(dir, "audio.mp3", "ID3")
}

func (f *fakeSource) DownloadVideo(ctx context.Context, url, dir string) (string, error) {
	f.mu.Lock()
	f.calls["video"]++
	f.mu.Unlock()
	if f.videoErr != nil {
		return "", f.videoErr
	}
	return f.write(dir, "video.mp4", "mp4")
}

// scriptedProvider replays responses in order and records prompts.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.prompts)
	p.prompts = append(p.prompts, req.Prompt)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return &ai.Response{Text: p.responses[i]}, nil
	}
	return &ai.Response{Text: p.responses[len(p.responses)-1]}, nil
}

func (p *scriptedProvider) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

type fakeTranscriber struct {
	text  string
	err   error
	panic bool
	calls int
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	t.calls++
	if t.panic {
		panic("decoder crashed")
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return t.text, t.err
}

type fakeScraper struct {
	text  string
	err   error
	calls int
}

func (s *fakeScraper) Describe(ctx context.Context, url string) (string, error) {
	s.calls++
	return s.text, s.err
}

type fakeAssets struct {
	mu       sync.Mutex
	imageErr error
	images   []string
	videos   []string
}

func (a *fakeAssets) SaveImage(ctx context.Context, recipeID, src string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.imageErr != nil {
		return "", a.imageErr
	}
	a.images = append(a.images, src)
	return "media/" + recipeID + "/thumb.jpg", nil
}

func (a *fakeAssets) SaveVideo(ctx context.Context, recipeID, local string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := os.Stat(local); err != nil {
		return "", err
	}
	a.videos = append(a.videos, local)
	return "media/" + recipeID + "/video.mp4", nil
}

// removals counts workspace deletions per path.
type removals struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *removals) remove(p string) error {
	r.mu.Lock()
	r.counts[p]++
	r.mu.Unlock()
	return os.RemoveAll(p)
}

type harness struct {
	source      *fakeSource
	provider    *scriptedProvider
	transcriber *fakeTranscriber
	scraper     *fakeScraper
	assets      *fakeAssets
	removed     *removals
	deps        Deps
}

func newHarness(t *testing.T, meta *video.Metadata, responses ...string) *harness {
	t.Helper()
	h := &harness{
		source:      newFakeSource(meta),
		provider:    &scriptedProvider{responses: responses},
		transcriber: &fakeTranscriber{text: strings.Repeat("and now we add the garlic ", 10)},
		scraper:     &fakeScraper{},
		assets:      &fakeAssets{},
		removed:     &removals{counts: map[string]int{}},
	}
	base := t.TempDir()
	h.deps = Deps{
		Executor: ai.NewExecutor(h.provider, ai.StaticSettings{
			Enabled:   true,
			TextModel: "gemini-2.5-flash",
		}),
		Transcriber: h.transcriber,
		Scraper:     h.scraper,
		Assets:      h.assets,
		Workspace: func() (*video.Workspace, error) {
			return video.NewWorkspace(base, video.WithRemover(h.removed.remove))
		},
		MaxDuration: 10 * time.Minute,
	}
	return h
}

func (h *harness) strategy() Strategy {
	return NewInstagram(h.source, nil, h.deps)
}

// requireCleanedUp asserts each file the source created was removed once.
func (h *harness) requireCleanedUp(t *testing.T) {
	t.Helper()
	files := h.source.files()
	require.NotEmpty(t, files)
	h.removed.mu.Lock()
	defer h.removed.mu.Unlock()
	for _, f := range files {
		require.Equal(t, 1, h.removed.counts[f], f)
		_, err := os.Stat(f)
		require.True(t, os.IsNotExist(err), f)
	}
}
