/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with habits whose
	anchors sit relative to the tracker clock, so every load shows a live
	rolling window with a history behind it.

AVAILABLE SCENARIOS:

	daily-reading:   One evening habit in Paris with a week of checks
	weekday-workout: MO/WE/FR mornings with an exclusion and an extra session
	dst-edge:        02:30 daily in New York, crossing a DST transition
	rule-change:     Daily habit switched to weekly; history survives

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create habits from JSON specs via the factory
 3. Check past occurrences
 4. Optionally update specs to show reconciliation

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "rule-change"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - factory/spec.go: Spec JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/habit-engine/recurrence"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "daily-reading",
		Name:        "Daily Reading",
		Description: "21:00 every day in Europe/Paris with the last week checked",
	},
	{
		ID:          "weekday-workout",
		Name:        "Weekday Workout",
		Description: "45 minutes on MO/WE/FR in New York, one skipped session and one extra",
	},
	{
		ID:          "dst-edge",
		Name:        "DST Edge",
		Description: "02:30 daily in America/New_York, which does not exist on spring-forward day",
	},
	{
		ID:          "rule-change",
		Name:        "Rule Change",
		Description: "Daily habit switched to weekly: future instances regenerate, completions stay",
	},
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Tracker.Reset(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h); err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetStore clears every habit.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Tracker.Reset(r.Context()); err != nil {
		h.writeDomainError(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"daily-reading":   loadDailyReadingScenario,
	"weekday-workout": loadWeekdayWorkoutScenario,
	"dst-edge":        loadDSTEdgeScenario,
	"rule-change":     loadRuleChangeScenario,
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadDailyReadingScenario(ctx context.Context, h *Handler) error {
	const tz = "Europe/Paris"
	start, err := h.daysAgo(14, tz)
	if err != nil {
		return err
	}

	if err := h.createHabitFromJSON(ctx, "Read 20 pages", fmt.Sprintf(`{
		"item_id": "daily-reading",
		"anchor_local": "%sT21:00:00",
		"timezone": %q,
		"rule": "FREQ=DAILY",
		"duration_minutes": 30
	}`, start, tz)); err != nil {
		return err
	}
	return h.checkPast(ctx, "daily-reading", 7, decimal.NewFromInt(20))
}

func loadWeekdayWorkoutScenario(ctx context.Context, h *Handler) error {
	const tz = "America/New_York"
	start, err := h.daysAgo(21, tz)
	if err != nil {
		return err
	}
	skip, err := h.daysAgo(7, tz)
	if err != nil {
		return err
	}
	extra, err := h.daysAgo(2, tz)
	if err != nil {
		return err
	}

	// The exclusion only matches when the skipped day is one of MO/WE/FR;
	// otherwise it is ignored by the expander.
	if err := h.createHabitFromJSON(ctx, "Workout", fmt.Sprintf(`{
		"item_id": "weekday-workout",
		"anchor_local": "%sT07:00:00",
		"timezone": %q,
		"rule": "FREQ=WEEKLY;BYDAY=MO,WE,FR",
		"exclusions": ["%sT07:00:00"],
		"additions": ["%sT10:00:00"],
		"duration_minutes": 45
	}`, start, tz, skip, extra)); err != nil {
		return err
	}
	return h.checkPast(ctx, "weekday-workout", 5, recurrence.DefaultQuantity)
}

func loadDSTEdgeScenario(ctx context.Context, h *Handler) error {
	// 2 AM on the second Sunday of March is skipped by New York clocks.
	year := h.Tracker.Now().Year()
	if err := h.createHabitFromJSON(ctx, "Night shift check-in", fmt.Sprintf(`{
		"item_id": "dst-edge",
		"anchor_local": "%d-03-01T02:30:00",
		"timezone": "America/New_York",
		"rule": "FREQ=DAILY;COUNT=30"
	}`, year)); err != nil {
		return err
	}

	// March may lie outside the rolling window.
	march := time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC)
	_, err := h.Tracker.Materialize(ctx, "dst-edge", march, march.AddDate(0, 1, 0))
	return err
}

func loadRuleChangeScenario(ctx context.Context, h *Handler) error {
	const tz = "UTC"
	start, err := h.daysAgo(10, tz)
	if err != nil {
		return err
	}

	if err := h.createHabitFromJSON(ctx, "Meditate", fmt.Sprintf(`{
		"item_id": "rule-change",
		"anchor_local": "%sT08:00:00",
		"timezone": %q,
		"rule": "FREQ=DAILY"
	}`, start, tz)); err != nil {
		return err
	}
	if err := h.checkPast(ctx, "rule-change", 5, recurrence.DefaultQuantity); err != nil {
		return err
	}

	weekly, err := h.Factory.ParseSpec(fmt.Sprintf(`{
		"item_id": "rule-change",
		"anchor_local": "%sT08:00:00",
		"timezone": %q,
		"rule": "FREQ=WEEKLY"
	}`, start, tz))
	if err != nil {
		return err
	}
	_, err = h.Tracker.UpdateSpec(ctx, "rule-change", weekly)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createHabitFromJSON(ctx context.Context, title, jsonStr string) error {
	spec, err := h.Factory.ParseSpec(jsonStr)
	if err != nil {
		return err
	}
	_, err = h.Tracker.CreateHabit(ctx, title, spec)
	return err
}

// daysAgo returns the local calendar date n days before now in tz.
func (h *Handler) daysAgo(n int, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return h.Tracker.Now().In(loc).AddDate(0, 0, -n).Format("2006-01-02"), nil
}

// checkPast checks the latest n instances that already started.
func (h *Handler) checkPast(ctx context.Context, id recurrence.ItemID, n int, quantity decimal.Decimal) error {
	now := h.Tracker.Now()
	past, err := h.Tracker.Instances(ctx, id, now.Add(-recurrence.DefaultHorizon), now)
	if err != nil {
		return err
	}
	if len(past) > n {
		past = past[len(past)-n:]
	}
	for _, inst := range past {
		if _, err := h.Tracker.Check(ctx, id, inst.Key, quantity, ""); err != nil {
			return err
		}
	}
	return nil
}
