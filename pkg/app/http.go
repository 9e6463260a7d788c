package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/enrich"
	"github.com/jdziat/recipe-enricher/pkg/observability"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/strategy"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 16 << 20
	uploadDir     = "uploads"
)

var (
	errNoUser      = errors.New("missing user header")
	errJobNotFound = errors.New("job not found")
)

// Enrichment tasks accepted by POST /api/recipes/{id}/enrich.
const (
	TaskTags       = "tags"
	TaskCategories = "categories"
	TaskAllergies  = "allergies"
	TaskNutrition  = "nutrition"
)

var allTasks = []string{TaskTags, TaskCategories, TaskAllergies, TaskNutrition}

type importRequest struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
	// RecipeID re-imports into an existing recipe.
	RecipeID string `json:"recipeId,omitempty"`
}

type enrichRequest struct {
	Tasks     []string `json:"tasks,omitempty"`
	Allergies []string `json:"allergies,omitempty"`
}

type calendarRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// jobView is the public shape of a stored job.
type jobView struct {
	ID          string         `json:"id"`
	Queue       string         `json:"queue"`
	Status      core.JobStatus `json:"status"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"maxAttempts"`
	LastError   string         `json:"lastError,omitempty"`
	RunAt       *time.Time     `json:"runAt,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func newJobView(j *core.Job) jobView {
	return jobView{
		ID:          j.ID,
		Queue:       j.Queue,
		Status:      j.Status,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
	}
}

// Handler returns the HTTP API. Callers are identified by the configured
// user and household headers, which an upstream gateway sets.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.Handle("GET /events", a.Broadcaster.Handler(broadcast.AuthenticatorFunc(func(r *http.Request) (broadcast.Scope, error) {
		scope, err := a.scopeFrom(r)
		return broadcast.Scope{UserID: scope.UserID, HouseholdKey: scope.HouseholdKey}, err
	})))

	mux.HandleFunc("POST /api/imports", a.handleImport)
	mux.HandleFunc("POST /api/imports/image", a.handleImportImage)
	mux.HandleFunc("POST /api/recipes/{id}/enrich", a.handleEnrich)
	mux.HandleFunc("POST /api/calendar/sync", a.handleCalendarSync)
	mux.HandleFunc("GET /api/jobs/{id}", a.handleGetJob)
	mux.HandleFunc("GET /api/queues", a.handleQueueStats)
	return a.logRequests(mux)
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.Logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (a *App) scopeFrom(r *http.Request) (recipe.Context, error) {
	user := strings.TrimSpace(r.Header.Get(a.Config.Server.UserHeader))
	if user == "" {
		return recipe.Context{}, errNoUser
	}
	return recipe.Context{
		UserID:       user,
		HouseholdKey: strings.TrimSpace(r.Header.Get(a.Config.Server.HouseholdHeader)),
	}, nil
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if sqlDB, err := a.DB.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"queues":      len(a.Queue.Queues()),
		"subscribers": a.Broadcaster.Subscribers(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) handleImport(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scopeFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	scope.RecipeID = req.RecipeID

	var res core.EnqueueResult
	switch {
	case req.URL != "" && req.Text != "":
		writeError(w, http.StatusBadRequest, errors.New("send either url or text, not both"))
		return
	case req.URL != "":
		res, err = a.Enricher.TriggerImportURL(r.Context(), scope, req.URL)
	case req.Text != "":
		res, err = a.Enricher.TriggerImportPaste(r.Context(), scope, req.Text)
	default:
		writeError(w, http.StatusBadRequest, errors.New("url or text is required"))
		return
	}
	a.writeEnqueue(w, res, err)
}

func (a *App) handleImportImage(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scopeFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("image field: %w", err))
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mediaType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported upload type %q", mediaType))
		return
	}
	path, err := a.saveUpload(file, filepath.Ext(header.Filename))
	if err != nil {
		a.Logger.Error("failed to store upload", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to store upload"))
		return
	}
	scope.RecipeID = r.FormValue("recipeId")
	res, err := a.Enricher.TriggerImportImage(r.Context(), scope, path, mediaType)
	if err != nil || res.Status != core.EnqueueQueued {
		os.Remove(path)
	}
	a.writeEnqueue(w, res, err)
}

// saveUpload writes an uploaded file where the import job can read it.
func (a *App) saveUpload(src io.Reader, ext string) (string, error) {
	dir := filepath.Join(a.Media.Root(), uploadDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if len(ext) > 6 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	path := filepath.Join(dir, uuid.New().String()+strings.ToLower(ext))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

func (a *App) handleEnrich(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scopeFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req enrichRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	scope.RecipeID = r.PathValue("id")
	scope.Allergies = req.Allergies

	tasks := req.Tasks
	if len(tasks) == 0 {
		tasks = allTasks
	}
	results := make(map[string]core.EnqueueResult, len(tasks))
	for _, task := range tasks {
		var res core.EnqueueResult
		switch task {
		case TaskTags:
			res, err = a.Enricher.TriggerAutoTag(r.Context(), scope)
		case TaskCategories:
			res, err = a.Enricher.TriggerAutoCategorize(r.Context(), scope)
		case TaskAllergies:
			res, err = a.Enricher.TriggerAllergyDetection(r.Context(), scope)
		case TaskNutrition:
			res, err = a.Enricher.TriggerNutrition(r.Context(), scope)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown task %q", task))
			return
		}
		if err != nil {
			a.enqueueFailed(w, err)
			return
		}
		results[task] = res
	}
	writeJSON(w, http.StatusAccepted, results)
}

func (a *App) handleCalendarSync(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scopeFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req calendarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.Enricher.TriggerCalendarSync(r.Context(), scope, req.From, req.To)
	a.writeEnqueue(w, res, err)
}

// handleGetJob answers only for jobs the caller could follow on /events;
// anything else is reported as missing.
func (a *App) handleGetJob(w http.ResponseWriter, r *http.Request) {
	viewer, err := a.scopeFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	job, err := a.Queue.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		a.Logger.Error("failed to load job", "job_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load job"))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, errJobNotFound)
		return
	}
	visible, err := a.jobVisible(r.Context(), job, viewer)
	if err != nil {
		a.Logger.Error("view policy lookup failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load job"))
		return
	}
	if !visible {
		writeError(w, http.StatusNotFound, errJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (a *App) jobVisible(ctx context.Context, job *core.Job, viewer recipe.Context) (bool, error) {
	owner, ok := enrich.JobScope(job)
	if !ok {
		return false, nil
	}
	rule, err := a.Settings.ViewPolicy(ctx, enrich.JobTopic(job.Queue))
	if err != nil {
		return false, err
	}
	return rule.Visible(
		broadcast.Scope{UserID: owner.UserID, HouseholdKey: owner.HouseholdKey},
		broadcast.Scope{UserID: viewer.UserID, HouseholdKey: viewer.HouseholdKey},
	), nil
}

func (a *App) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Jobs.GetQueueStats(r.Context())
	if err != nil {
		a.Logger.Error("failed to load queue stats", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load queue stats"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

// writeEnqueue reports a trigger result. Skipped and duplicate requests are
// not errors; the caller reads the status.
func (a *App) writeEnqueue(w http.ResponseWriter, res core.EnqueueResult, err error) {
	if err != nil {
		a.enqueueFailed(w, err)
		return
	}
	code := http.StatusAccepted
	if res.Status != core.EnqueueQueued {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (a *App) enqueueFailed(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, strategy.ErrInvalidURL), errors.Is(err, core.ErrPayloadTooLarge),
		errors.Is(err, core.ErrInvalidDedupKey), errors.Is(err, core.ErrDedupKeyTooLong):
		writeError(w, http.StatusBadRequest, err)
	default:
		a.Logger.Error("enqueue failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to enqueue job"))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
