package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jdziat/recipe-enricher/pkg/ai"
	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/queue"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
	"github.com/jdziat/recipe-enricher/pkg/storage"
	"github.com/jdziat/recipe-enricher/pkg/strategy"
	"github.com/jdziat/recipe-enricher/pkg/video"
)

const draftJSON = `{"name":"Lemon Pasta","servings":2,"ingredients":[{"name":"spaghetti","quantity":"200","unit":"g"},{"name":"lemon"},{"name":"parmesan"}],"steps":[{"order":1,"text":"Boil pasta"},{"order":2,"text":"Toss with lemon and cheese"}]}`

// routedProvider answers by system prompt so one fake serves every kind of call.
type routedProvider struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
	reqs    []ai.Request
}

func (p *routedProvider) Name() string { return "routed" }

func (p *routedProvider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return nil, p.err
	}
	if text, ok := p.answers[req.System]; ok {
		return &ai.Response{Text: text}, nil
	}
	return nil, fmt.Errorf("no answer scripted for system prompt %.30q", req.System)
}

func (p *routedProvider) requests() []ai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ai.Request(nil), p.reqs...)
}

type sentEvent struct {
	topic   string
	scope   broadcast.Scope
	event   string
	payload json.RawMessage
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, topic string, scope broadcast.Scope, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, sentEvent{topic: topic, scope: scope, event: event, payload: raw})
	r.mu.Unlock()
	return nil
}

// named returns the events with the given name, skipping toasts unless asked.
func (r *recordingEmitter) named(event string) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentEvent
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func importEvent(t *testing.T, e sentEvent) ImportEvent {
	t.Helper()
	var ev ImportEvent
	require.NoError(t, json.Unmarshal(e.payload, &ev))
	return ev
}

func enrichmentEvent(t *testing.T, e sentEvent) EnrichmentEvent {
	t.Helper()
	var ev EnrichmentEvent
	require.NoError(t, json.Unmarshal(e.payload, &ev))
	return ev
}

type fakePages struct {
	pages map[string]string
	err   error
}

func (f *fakePages) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	html, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: http 404", video.ErrUnavailable)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

type fakeStrategy struct {
	platform strategy.Platform
	outcome  *strategy.Outcome
	err      error

	mu   sync.Mutex
	reqs []strategy.Request
}

func (s *fakeStrategy) Platform() strategy.Platform { return s.platform }

func (s *fakeStrategy) Process(ctx context.Context, req strategy.Request) (*strategy.Outcome, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	return s.outcome, s.err
}

type fakeMedia struct {
	mu      sync.Mutex
	images  []string
	uploads []string
	removed []string
}

func (m *fakeMedia) SaveImage(ctx context.Context, recipeID, src string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, src)
	return recipeID + "/image.jpg", nil
}

func (m *fakeMedia) SaveVideo(ctx context.Context, recipeID, local string) (string, error) {
	return recipeID + "/video.mp4", nil
}

func (m *fakeMedia) SaveUpload(ctx context.Context, recipeID, local string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(local); err != nil {
		return "", err
	}
	m.uploads = append(m.uploads, local)
	return recipeID + "/image.png", nil
}

func (m *fakeMedia) Remove(ctx context.Context, recipeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, recipeID)
	return nil
}

type fakeCalendar struct {
	calls    int
	from, to time.Time
	err      error
}

func (c *fakeCalendar) Sync(ctx context.Context, scope recipe.Context, from, to time.Time) (int, error) {
	c.calls++
	c.from, c.to = from, to
	return 3, c.err
}

// mutableFeatures lets a test flip toggles between calls.
type mutableFeatures struct {
	mu sync.Mutex
	f  Features
}

func (m *mutableFeatures) Features(context.Context) (Features, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.f, nil
}

func (m *mutableFeatures) set(fn func(*Features)) {
	m.mu.Lock()
	fn(&m.f)
	m.mu.Unlock()
}

type harness struct {
	e        *Enricher
	q        *queue.Queue
	jobs     *storage.GormStorage
	store    *storage.RecipeStore
	provider *routedProvider
	settings *ai.StaticSettings
	events   *recordingEmitter
	pages    *fakePages
	media    *fakeMedia
	calendar *fakeCalendar
	video    *fakeStrategy
	generic  *fakeStrategy
	features *mutableFeatures
}

func newHarness(t *testing.T, overrides map[string]queue.Config) *harness {
	t.Helper()
	db, err := storage.Open(":memory:", logger.Silent)
	require.NoError(t, err)
	jobs := storage.NewGormStorage(db)
	require.NoError(t, jobs.Migrate(context.Background()))
	store := storage.NewRecipeStore(jobs)
	require.NoError(t, store.Migrate(context.Background()))

	h := &harness{
		q:     queue.New(jobs),
		jobs:  jobs,
		store: store,
		provider: &routedProvider{answers: map[string]string{
			importSystem:    draftJSON,
			tagSystem:       `{"tags":["Quick","vegetarian","quick"]}`,
			categorySystem:  `{"categories":["dinner","Desserts","made-up"]}`,
			allergySystem:   `{"allergens":["Dairy","Gluten"]}`,
			nutritionSystem: `{"calories":540,"proteinG":19,"carbsG":80,"fatG":14,"fiberG":4,"sugarG":3,"sodiumMg":420,"confidence":"medium"}`,
		}},
		settings: &ai.StaticSettings{Enabled: true, TextModel: "gemini-2.5-flash", VisionModel: "gemini-2.5-pro"},
		events:   &recordingEmitter{},
		pages:    &fakePages{pages: map[string]string{}},
		media:    &fakeMedia{},
		calendar: &fakeCalendar{},
		video: &fakeStrategy{platform: strategy.PlatformYouTube, outcome: &strategy.Outcome{
			Draft:     mustDraft(t),
			Method:    strategy.MethodCaptions,
			VideoPath: "media/video.mp4",
		}},
		generic: &fakeStrategy{platform: strategy.PlatformGeneric},
		features: &mutableFeatures{f: Features{
			AIEnabled:        true,
			AutoTag:          AutoTagAlways,
			AutoCategorize:   true,
			AllergyDetection: true,
			Nutrition:        true,
			CalendarSync:     true,
			Categories:       []string{"Dinner", "Desserts", "Breakfast"},
		}},
	}

	h.e = New(Deps{
		Queue:    h.q,
		Store:    store,
		Registry: strategy.NewRegistry(h.generic, h.video),
		Executor: ai.NewExecutor(h.provider, h.settings),
		Events:   h.events,
		Features: h.features,
		Pages:    h.pages,
		Media:    h.media,
		Calendar: h.calendar,
	})
	h.e.Register(overrides)
	return h
}

func mustDraft(t *testing.T) *recipe.Draft {
	t.Helper()
	var d recipe.Draft
	require.NoError(t, json.Unmarshal([]byte(draftJSON), &d))
	return &d
}

// seed stores a completed recipe owned by u1.
func (h *harness) seed(t *testing.T, id string, mutate ...func(*recipe.Recipe)) *recipe.Recipe {
	t.Helper()
	r := mustDraft(t).ToRecipe(id, recipe.Context{UserID: "u1", HouseholdKey: "h1"}, "")
	for _, m := range mutate {
		m(r)
	}
	require.NoError(t, h.store.CreateRecipe(context.Background(), r))
	return r
}

func (h *harness) load(t *testing.T, id string) *recipe.Recipe {
	t.Helper()
	r, err := h.store.LoadRecipe(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (h *harness) jobExists(t *testing.T, id string) bool {
	t.Helper()
	job, err := h.q.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job != nil
}

var owner = recipe.Context{UserID: "u1", HouseholdKey: "h1"}
