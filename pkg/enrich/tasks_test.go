package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/recipe-enricher/pkg/broadcast"
	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

func TestBackfill_TriggersWhatIsMissing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "a", func(r *recipe.Recipe) {
		r.Tags = []string{"done"}
		r.Categories = []string{"Dinner"}
		r.Nutrition = &recipe.Nutrition{Calories: 100}
	})
	h.seed(t, "b", func(r *recipe.Recipe) { r.Tags = []string{"done"} })
	h.seed(t, "c", func(r *recipe.Recipe) { r.Ingredients = nil })

	require.NoError(t, h.e.RunScheduledTask(ctx, ScheduledTaskPayload{Task: TaskBackfill}))

	assert.False(t, h.jobExists(t, "auto-tag-a"))
	assert.False(t, h.jobExists(t, "auto-categorize-a"))
	assert.False(t, h.jobExists(t, "nutrition-estimate-a"))

	assert.False(t, h.jobExists(t, "auto-tag-b"))
	assert.True(t, h.jobExists(t, "auto-categorize-b"))
	assert.True(t, h.jobExists(t, "nutrition-estimate-b"))

	assert.False(t, h.jobExists(t, "auto-tag-c"), "recipes without ingredients cannot be enhanced")

	require.NoError(t, h.e.RunScheduledTask(ctx, ScheduledTaskPayload{Task: TaskBackfill}), "overlapping runs dedup")
	jobs, err := h.q.InFlight(ctx, QueueNutrition, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestBackfill_HonoursLimit(t *testing.T) {
	h := newHarness(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		h.seed(t, id)
	}

	require.NoError(t, h.e.RunScheduledTask(context.Background(), ScheduledTaskPayload{Task: TaskBackfill, Limit: 2}))

	assert.True(t, h.jobExists(t, "auto-tag-b"))
	assert.False(t, h.jobExists(t, "auto-tag-c"))
}

func TestRunScheduledTask_UnknownIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	err := h.e.RunScheduledTask(context.Background(), ScheduledTaskPayload{Task: "reindex"})
	assert.True(t, core.IsNoRetry(err))
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestSyncCalendar(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.e.SyncCalendar(context.Background(), CalendarSyncPayload{Scope: owner}))

	assert.Equal(t, 1, h.calendar.calls)
	assert.Equal(t, 7*24*time.Hour, h.calendar.to.Sub(h.calendar.from))
	ev := enrichmentEvent(t, h.events.named(broadcast.EventCompleted)[0])
	assert.Equal(t, "calendar-sync", ev.Kind)
	assert.Equal(t, 3, ev.Synced)
}

func TestSyncCalendar_NotConfiguredIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	h.e.calendar = nil

	err := h.e.SyncCalendar(context.Background(), CalendarSyncPayload{Scope: owner})
	assert.True(t, core.IsNoRetry(err))
	assert.ErrorIs(t, err, ErrCalendarUnavailable)
}
