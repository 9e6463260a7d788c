package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/config"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/enrich"
	"github.com/jdziat/recipe-enricher/pkg/strategy"
)

const draftJSON = `{"name":"Lemon Pasta","servings":2,"ingredients":[{"name":"spaghetti","quantity":"200","unit":"g"},{"name":"lemon"}],"steps":[{"order":1,"text":"Boil pasta"},{"order":2,"text":"Toss with lemon"}]}`

type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &ai.Response{Text: draftJSON}, nil
}

func (p *stubProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Video.MediaDir = filepath.Join(t.TempDir(), "media")
	cfg.Video.WorkDir = t.TempDir()
	cfg.Worker.PollInterval = config.Duration(10 * time.Millisecond)
	cfg.Worker.Scheduler = false
	cfg.Worker.Backfill = ""
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *stubProvider) {
	t.Helper()
	p := &stubProvider{}
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithProvider(p))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, p
}

func do(t *testing.T, h http.Handler, method, path string, body any, user string) *httptest.ResponseRecorder {
	t.Helper()
	return doAs(t, h, method, path, body, user, "h1")
}

func doAs(t *testing.T, h http.Handler, method, path string, body any, user, household string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set("X-User-Id", user)
		req.Header.Set("X-Household-Key", household)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// ──────────────────────────────────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────────────────────────────────

func TestNew_RegistersEveryQueue(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	assert.ElementsMatch(t, enrich.QueueNames(), a.Queue.Queues())
	cfg, ok := a.Queue.Config(enrich.QueueImportURL)
	require.True(t, ok)
	assert.True(t, cfg.UserFacing)
	assert.DirExists(t, a.Config.Video.MediaDir)
}

func TestNew_AppliesQueueOverrides(t *testing.T) {
	cfg := testConfig(t)
	attempts := 7
	cfg.Queues = map[string]config.QueueOverride{enrich.QueueAutoTag: {MaxAttempts: &attempts}}
	a, _ := newTestApp(t, cfg)

	qc, ok := a.Queue.Config(enrich.QueueAutoTag)
	require.True(t, ok)
	assert.Equal(t, 7, qc.MaxAttempts)
}

func TestNew_SchedulesBackfill(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Backfill = "daily 03:30"
	a, _ := newTestApp(t, cfg)

	jobs := a.Queue.GetScheduledJobs()
	require.Contains(t, jobs, enrich.TaskBackfill)
	assert.Equal(t, enrich.QueueScheduled, jobs[enrich.TaskBackfill].Queue)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Warn, gormLogLevel("WARN"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Silent, gormLogLevel(""))
}

func TestVideoSources_MapsCookies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Video.Cookies = map[string]string{"Instagram": "/secrets/ig.txt"}

	src := videoSources(cfg)
	require.NotNil(t, src.YouTube)
	require.NotNil(t, src.Social)
	require.Contains(t, src.Auth, strategy.PlatformInstagram)
	assert.Equal(t, "/secrets/ig.txt", src.Auth[strategy.PlatformInstagram].CookiesFile)
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP
// ──────────────────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	rec := do(t, a.Handler(), http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestImport_RequiresUser(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	rec := do(t, a.Handler(), http.MethodPost, "/api/imports", importRequest{URL: "https://bake.example.com/bread"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImport_QueuesAndDedups(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	h := a.Handler()
	req := importRequest{URL: "https://bake.example.com/bread"}

	rec := do(t, h, http.MethodPost, "/api/imports", req, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	first := decode[core.EnqueueResult](t, rec)
	assert.Equal(t, core.EnqueueQueued, first.Status)

	rec = do(t, h, http.MethodPost, "/api/imports", req, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[core.EnqueueResult](t, rec)
	assert.Equal(t, core.EnqueueDuplicate, second.Status)
	assert.Equal(t, first.JobID, second.JobID)

	rec = do(t, h, http.MethodGet, "/api/jobs/"+first.JobID, nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[jobView](t, rec)
	assert.Equal(t, enrich.QueueImportURL, job.Queue)
	assert.Equal(t, core.StatusPending, job.Status)
}

func TestImport_VideoHostGoesToVideoQueue(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	h := a.Handler()

	rec := do(t, h, http.MethodPost, "/api/imports", importRequest{URL: "https://www.youtube.com/watch?v=abc123"}, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decode[core.EnqueueResult](t, rec)

	job, err := a.Queue.GetJob(context.Background(), res.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, enrich.QueueImportVideo, job.Queue)
}

func TestImport_BadRequests(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	h := a.Handler()

	cases := map[string]any{
		"empty body":    importRequest{},
		"both sources":  importRequest{URL: "https://a.example.com", Text: "some recipe text here"},
		"bad scheme":    importRequest{URL: "ftp://a.example.com/recipe"},
		"unknown field": map[string]string{"link": "https://a.example.com"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/imports", body, "u1")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestImport_AIDisabledIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Enabled = false
	a, _ := newTestApp(t, cfg)

	rec := do(t, a.Handler(), http.MethodPost, "/api/imports", importRequest{Text: "Lemon pasta with spaghetti and lemon"}, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[core.EnqueueResult](t, rec)
	assert.Equal(t, core.EnqueueSkipped, res.Status)
	assert.Equal(t, enrich.ReasonAIDisabled, res.Reason)
}

func TestImportImage_StoresUpload(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="card.PNG"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	res := decode[core.EnqueueResult](t, rec)
	job, err := a.Queue.GetJob(context.Background(), res.JobID)
	require.NoError(t, err)
	var p enrich.ImportPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "image/png", p.MediaType)
	assert.True(t, strings.HasSuffix(p.ImagePath, ".png"))
	data, err := os.ReadFile(p.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(data))
}

func TestEnrich_TriggersRequestedTasks(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	h := a.Handler()

	rec := do(t, h, http.MethodPost, "/api/recipes/r1/enrich", enrichRequest{}, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	results := decode[map[string]core.EnqueueResult](t, rec)
	assert.Equal(t, core.EnqueueQueued, results[TaskTags].Status)
	assert.Equal(t, core.EnqueueQueued, results[TaskNutrition].Status)
	assert.Equal(t, core.EnqueueSkipped, results[TaskAllergies].Status, "no allergies were sent")
	assert.Equal(t, enrich.ReasonNoCategories, results[TaskCategories].Reason)

	rec = do(t, h, http.MethodPost, "/api/recipes/r1/enrich", enrichRequest{Tasks: []string{TaskAllergies}, Allergies: []string{"peanut"}}, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	results = decode[map[string]core.EnqueueResult](t, rec)
	assert.Len(t, results, 1)
	assert.Equal(t, core.EnqueueQueued, results[TaskAllergies].Status)

	rec = do(t, h, http.MethodPost, "/api/recipes/r1/enrich", enrichRequest{Tasks: []string{"bake"}}, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarSync_SkippedWithoutCalendar(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rec := do(t, a.Handler(), http.MethodPost, "/api/calendar/sync", calendarRequest{From: from, To: from.AddDate(0, 0, 7)}, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[core.EnqueueResult](t, rec)
	assert.Equal(t, enrich.ReasonCalendarDisabled, res.Reason)
}

func TestGetJob_NotFound(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	rec := do(t, a.Handler(), http.MethodGet, "/api/jobs/missing", nil, "u1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, a.Handler(), http.MethodGet, "/api/jobs/missing", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetJob_FollowsViewPolicy(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	h := a.Handler()

	rec := do(t, h, http.MethodPost, "/api/imports", importRequest{URL: "https://bake.example.com/bread"}, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	imp := decode[core.EnqueueResult](t, rec)

	rec = do(t, h, http.MethodPost, "/api/recipes/r1/enrich", enrichRequest{Tasks: []string{TaskNutrition}}, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	nutrition := decode[map[string]core.EnqueueResult](t, rec)[TaskNutrition]
	require.Equal(t, core.EnqueueQueued, nutrition.Status)

	// Imports are owner-only; enrichment is shared with the household.
	cases := []struct {
		name      string
		jobID     string
		user      string
		household string
		want      int
	}{
		{"owner sees import", imp.JobID, "u1", "h1", http.StatusOK},
		{"housemate cannot see import", imp.JobID, "u2", "h1", http.StatusNotFound},
		{"housemate sees enrichment", nutrition.JobID, "u2", "h1", http.StatusOK},
		{"other household cannot see enrichment", nutrition.JobID, "u3", "h2", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doAs(t, h, http.MethodGet, "/api/jobs/"+tc.jobID, nil, tc.user, tc.household)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestEnrich_InvalidRecipeIDIsBadRequest(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	h := a.Handler()

	rec := do(t, h, http.MethodPost, "/api/recipes/r%201/enrich", enrichRequest{Tasks: []string{TaskTags}}, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	long := strings.Repeat("r", 300)
	rec = do(t, h, http.MethodPost, "/api/recipes/"+long+"/enrich", enrichRequest{Tasks: []string{TaskTags}}, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStats(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	h := a.Handler()
	do(t, h, http.MethodPost, "/api/imports", importRequest{URL: "https://bake.example.com/bread"}, "u1")

	rec := do(t, h, http.MethodGet, "/api/queues", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Queues []struct {
			Queue   string `json:"queue"`
			Pending int64  `json:"pending"`
		} `json:"queues"`
	}](t, rec)
	require.Len(t, body.Queues, 1)
	assert.Equal(t, enrich.QueueImportURL, body.Queues[0].Queue)
	assert.Equal(t, int64(1), body.Queues[0].Pending)
}

// ──────────────────────────────────────────────────────────────────────────────
// Run
// ──────────────────────────────────────────────────────────────────────────────

func TestRun_WorkerCompletesPasteImport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Queues = []string{enrich.QueueImportPaste}
	drain := config.Duration(-1)
	cfg.Queues = map[string]config.QueueOverride{enrich.QueueImportPaste: {DrainDelay: &drain}}
	a, provider := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, RunOptions{Worker: true}) }()

	rec := do(t, a.Handler(), http.MethodPost, "/api/imports", importRequest{Text: "Lemon pasta: boil spaghetti, toss with lemon."}, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decode[core.EnqueueResult](t, rec)

	require.Eventually(t, func() bool {
		job, err := a.Queue.GetJob(context.Background(), res.JobID)
		return err == nil && job != nil && job.Status == core.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	recipes, err := a.Recipes.ListRecipes(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "Lemon Pasta", recipes[0].Name)
	assert.Equal(t, "u1", recipes[0].OwnerID)
	assert.Equal(t, 1, provider.count())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestLogQueueEvents(t *testing.T) {
	var buf syncBuffer
	a := &App{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	events := make(chan core.Event, 4)
	job := &core.Job{ID: "j1", Queue: enrich.QueueImportURL, Attempt: 2}
	events <- &core.JobRetrying{Job: job, Attempt: 2, NextRunAt: time.Now()}
	events <- &core.JobStalled{Job: job, Requeued: true}
	events <- &core.QueueDrained{Queue: enrich.QueueImportURL, Processed: 3}
	close(events)

	a.logQueueEvents(context.Background(), events)

	out := buf.String()
	assert.Contains(t, out, "job retry scheduled")
	assert.Contains(t, out, "job stalled")
	assert.Contains(t, out, "queue drained")
	assert.Contains(t, out, "job_id=j1")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
