/*
scenarios_test.go - Tests for demo scenarios

Each scenario is loaded against an in-memory store with a fixed clock and
checked through the tracker.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/habit-engine/recurrence"
)

func loadScenario(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_DailyReading(t *testing.T) {
	router, h := setupTestRouter(t)
	ctx := context.Background()

	loadScenario(t, router, "daily-reading")

	// THEN: The last seven evenings are checked with 20 pages each
	history, err := h.Tracker.History(ctx, "daily-reading")
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.Equal(t, recurrence.OccurrenceKey("20240109T200000Z"), history[6].Key, "21:00 Paris")
	assert.Equal(t, "20", history[0].Quantity.String())

	stats, err := h.Tracker.Stats(ctx, "daily-reading", 30)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.CurrentStreak)
	assert.Equal(t, 14, stats.Total)
	assert.Equal(t, 7, stats.Completed)
}

func TestScenario_WeekdayWorkout(t *testing.T) {
	router, h := setupTestRouter(t)
	ctx := context.Background()

	loadScenario(t, router, "weekday-workout")

	hb, err := h.Tracker.GetHabit(ctx, "weekday-workout")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, hb.Spec.Duration())

	// THEN: The skipped Wednesday is gone and the extra Monday session exists
	instances, err := h.Tracker.Instances(ctx, "weekday-workout",
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.January, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	var starts []string
	for _, inst := range instances {
		starts = append(starts, inst.StartUTC.Format(time.RFC3339))
	}
	assert.Equal(t, []string{
		"2024-01-01T12:00:00Z",
		"2024-01-05T12:00:00Z",
		"2024-01-08T12:00:00Z",
		"2024-01-08T15:00:00Z",
	}, starts)

	history, err := h.Tracker.History(ctx, "weekday-workout")
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestScenario_DSTEdge(t *testing.T) {
	router, h := setupTestRouter(t)

	loadScenario(t, router, "dst-edge")

	instances, err := h.Tracker.Instances(context.Background(), "dst-edge",
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, instances, 30)
	assert.Equal(t, 7, instances[0].StartUTC.Hour(), "02:30 EST")
	assert.Equal(t, 6, instances[29].StartUTC.Hour(), "02:30 EDT")
}

func TestScenario_RuleChange(t *testing.T) {
	router, h := setupTestRouter(t)
	ctx := context.Background()

	loadScenario(t, router, "rule-change")

	// THEN: History survives the switch to weekly
	history, err := h.Tracker.History(ctx, "rule-change")
	require.NoError(t, err)
	assert.Len(t, history, 5)

	// AND: Future instances are weekly, on the anchor's weekday
	future, err := h.Tracker.Instances(ctx, "rule-change", testNow, testNow.AddDate(0, 0, 21))
	require.NoError(t, err)
	require.Len(t, future, 3)
	for _, inst := range future {
		assert.Equal(t, time.Sunday, inst.StartUTC.Weekday())
	}

	// AND: Past daily instances are untouched
	past, err := h.Tracker.Instances(ctx, "rule-change", testNow.AddDate(0, 0, -5), testNow)
	require.NoError(t, err)
	assert.Len(t, past, 5)
}

func TestScenario_CurrentAndReset(t *testing.T) {
	router, h := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", trimNewline(rec.Body.String()))

	loadScenario(t, router, "rule-change")
	loadScenario(t, router, "daily-reading")

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "daily-reading", decode[ScenarioDTO](t, rec).ID)

	// Loading replaces the previous scenario
	habits, err := h.Tracker.ListHabits(context.Background())
	require.NoError(t, err)
	require.Len(t, habits, 1)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	habits, err = h.Tracker.ListHabits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, habits)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarioLoaders))

	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			loadScenario(t, router, s.ID)
		})
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
