/*
handlers.go - HTTP API handlers for the habit engine

PURPOSE:
  Exposes the recurrence engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to habit.Tracker.

ENDPOINTS:
  Habits:
    GET    /api/habits                       List habits
    POST   /api/habits                       Create habit (materializes)
    POST   /api/habits/import                Create habits from an .ics body
    GET    /api/habits/{id}                  Get habit
    DELETE /api/habits/{id}                  Delete habit and its history
    PUT    /api/habits/{id}/spec             Replace spec (reconciles)
    PUT    /api/habits/{id}/active           Archive / restore

  Instances:
    POST   /api/habits/{id}/materialize      Refresh an explicit window
    GET    /api/habits/{id}/instances        Cached instances in [from, to]
    GET    /api/habits/{id}/instances.ics    Same, as iCalendar

  Completions:
    GET    /api/habits/{id}/completions          History
    POST   /api/habits/{id}/check                Check by local time
    PUT    /api/habits/{id}/completions/{key}    Check
    PATCH  /api/habits/{id}/completions/{key}    Set quantity (<= 0 removes)
    DELETE /api/habits/{id}/completions/{key}    Uncheck

  Queries:
    GET    /api/habits/{id}/stats            Streaks and adherence
    GET    /api/agenda/{day}                 Pending / done of a local day
    GET    /api/agenda                       Pending / done of a local range
    POST   /api/expand                       Preview a spec, nothing stored

  Admin:
    POST   /api/admin/refresh                Roll every horizon forward
    GET    /api/admin/refresh                Last and next scheduled refresh
    GET    /api/scenarios                    Demo scenarios

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid rule, timestamp, timezone, window, key or quantity
  - 404: Habit not found
  - 409: Habit ID already taken
  - 500: Storage failures

SECURITY NOTE:
  No authentication. Put the server behind a trusted proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - habit/tracker.go: Domain operations
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/habit-engine/factory"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/recurrence"
)

// maxBodyBytes bounds request bodies, .ics imports included.
const maxBodyBytes = 1 << 20

// defaultListWindow is the instances window when a query omits to.
const defaultListWindow = 7 * 24 * time.Hour

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Tracker   *habit.Tracker
	Factory   *factory.SpecFactory
	Scheduler *RefreshScheduler // optional; refreshes go through it when set

	// DefaultTimezone is used when an agenda query or an import names none.
	DefaultTimezone string

	// CORSOrigins are the origins allowed by the router.
	CORSOrigins []string

	Logger *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over tracker. The spec factory shares the
// tracker's expander so that both validate identically.
func NewHandler(tracker *habit.Tracker) *Handler {
	f := factory.NewSpecFactory(tracker.Expander)
	f.Logger = tracker.Logger
	return &Handler{
		Tracker:         tracker,
		Factory:         f,
		DefaultTimezone: "UTC",
		CORSOrigins:     []string{"*"},
		Logger:          tracker.Logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HABIT HANDLERS
// =============================================================================

// ListHabits returns all habits.
func (h *Handler) ListHabits(w http.ResponseWriter, r *http.Request) {
	habits, err := h.Tracker.ListHabits(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list habits", err)
		return
	}

	dtos := make([]HabitDTO, 0, len(habits))
	for _, hb := range habits {
		dtos = append(dtos, toHabitDTO(h.Factory, hb))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHabit returns a single habit.
func (h *Handler) GetHabit(w http.ResponseWriter, r *http.Request) {
	hb, err := h.Tracker.GetHabit(r.Context(), habitID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get habit", err)
		return
	}
	writeJSON(w, http.StatusOK, toHabitDTO(h.Factory, *hb))
}

// CreateHabit creates a habit and materializes its rolling window.
func (h *Handler) CreateHabit(w http.ResponseWriter, r *http.Request) {
	var req CreateHabitRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID != "" {
		req.Spec.ItemID = req.ID
	}

	spec, err := h.Factory.FromJSON(req.Spec)
	if err != nil {
		h.writeDomainError(w, "Invalid spec", err)
		return
	}

	hb, err := h.Tracker.CreateHabit(r.Context(), req.Title, spec)
	if err != nil {
		h.writeDomainError(w, "Failed to create habit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHabitDTO(h.Factory, *hb))
}

// DeleteHabit removes a habit with its cache and history.
func (h *Handler) DeleteHabit(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.DeleteHabit(r.Context(), habitID(r)); err != nil {
		h.writeDomainError(w, "Failed to delete habit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSpec replaces the spec of a habit and reconciles its cache.
func (h *Handler) UpdateSpec(w http.ResponseWriter, r *http.Request) {
	id := habitID(r)

	var req factory.SpecJSON
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ItemID = string(id)

	spec, err := h.Factory.FromJSON(req)
	if err != nil {
		h.writeDomainError(w, "Invalid spec", err)
		return
	}

	res, err := h.Tracker.UpdateSpec(r.Context(), id, spec)
	if err != nil {
		h.writeDomainError(w, "Failed to update spec", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileDTO(res))
}

// SetActive archives or restores a habit.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Tracker.SetActive(r.Context(), habitID(r), *req.Active); err != nil {
		h.writeDomainError(w, "Failed to update habit", err)
		return
	}
	h.GetHabit(w, r)
}

// ImportICS creates one habit per importable VEVENT of the request body.
// Events whose UID is already a habit are reported as skipped.
func (h *Handler) ImportICS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		tz = h.DefaultTimezone
	}

	res, err := h.Factory.ParseICS(http.MaxBytesReader(w, r.Body, maxBodyBytes), tz)
	if err != nil {
		h.writeDomainError(w, "Invalid calendar", err)
		return
	}

	resp := ImportResponse{Created: []HabitDTO{}, Skipped: []SkippedEventDTO{}}
	for _, s := range res.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedEventDTO{UID: s.UID, Reason: s.Reason})
	}
	for _, imp := range res.Specs {
		title := imp.Summary
		if strings.TrimSpace(title) == "" {
			title = imp.UID
		}
		hb, err := h.Tracker.CreateHabit(ctx, title, imp.Spec)
		if errors.Is(err, habit.ErrHabitExists) || recurrence.IsClientError(err) {
			resp.Skipped = append(resp.Skipped, SkippedEventDTO{UID: imp.UID, Reason: err.Error()})
			continue
		}
		if err != nil {
			h.writeDomainError(w, "Failed to import calendar", err)
			return
		}
		resp.Created = append(resp.Created, toHabitDTO(h.Factory, *hb))
	}

	status := http.StatusOK
	if len(resp.Created) > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// INSTANCE HANDLERS
// =============================================================================

// Materialize refreshes an explicit window of one habit.
func (h *Handler) Materialize(w http.ResponseWriter, r *http.Request) {
	var req MaterializeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Tracker.Materialize(r.Context(), habitID(r), req.From, req.To)
	if err != nil {
		h.writeDomainError(w, "Failed to materialize", err)
		return
	}
	writeJSON(w, http.StatusOK, MaterializeDTO{
		ItemID:   string(res.ItemID),
		From:     formatUTC(res.Window.Start),
		To:       formatUTC(res.Window.End),
		Deleted:  res.Deleted,
		Inserted: res.Inserted,
	})
}

// ListInstances returns the cached instances of a habit.
// GET /api/habits/{id}/instances?from=RFC3339&to=RFC3339
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, _, ok := h.instances(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toInstanceDTOs(instances))
}

// ExportInstances renders the cached instances of a habit as iCalendar.
func (h *Handler) ExportInstances(w http.ResponseWriter, r *http.Request) {
	instances, hb, ok := h.instances(w, r)
	if !ok {
		return
	}
	body := factory.ExportICS(instances, map[recurrence.ItemID]string{hb.ID: hb.Title}, h.Tracker.Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(hb.ID)+".ics"))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

func (h *Handler) instances(w http.ResponseWriter, r *http.Request) ([]recurrence.Instance, *habit.Habit, bool) {
	ctx := r.Context()
	id := habitID(r)

	hb, err := h.Tracker.GetHabit(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to get habit", err)
		return nil, nil, false
	}

	now := h.Tracker.Now()
	from, err := instantParam(r, "from", now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from (use RFC 3339)", err)
		return nil, nil, false
	}
	to, err := instantParam(r, "to", from.Add(defaultListWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to (use RFC 3339)", err)
		return nil, nil, false
	}

	instances, err := h.Tracker.Instances(ctx, id, from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to load instances", err)
		return nil, nil, false
	}
	return instances, hb, true
}

// Expand previews a spec without touching the store.
func (h *Handler) Expand(w http.ResponseWriter, r *http.Request) {
	var req ExpandRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	spec, err := h.Factory.FromJSON(req.Spec)
	if err != nil {
		h.writeDomainError(w, "Invalid spec", err)
		return
	}
	if !spec.Usable() {
		writeJSON(w, http.StatusOK, map[string]any{"occurrences": []string{}})
		return
	}

	occurrences, err := h.Tracker.Expander.Expand(spec, req.From, req.To)
	if err != nil {
		h.writeDomainError(w, "Failed to expand", err)
		return
	}
	out := make([]string, 0, len(occurrences))
	for _, t := range occurrences {
		out = append(out, formatUTC(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrences": out})
}

// =============================================================================
// COMPLETION HANDLERS
// =============================================================================

// History returns every completion of a habit.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.Tracker.History(r.Context(), habitID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to load history", err)
		return
	}
	dtos := make([]CompletionDTO, 0, len(history))
	for _, c := range history {
		dtos = append(dtos, toCompletionDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Check records a completion for an occurrence key.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeOptionalRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	quantity := recurrence.DefaultQuantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	c, err := h.Tracker.Check(r.Context(), habitID(r), occurrenceKey(r), quantity, req.Note)
	if err != nil {
		h.writeDomainError(w, "Failed to check", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionDTO(c))
}

// CheckAt records a completion by local wall clock time.
func (h *Handler) CheckAt(w http.ResponseWriter, r *http.Request) {
	var req CheckAtRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	quantity := recurrence.DefaultQuantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	c, err := h.Tracker.CheckAt(r.Context(), habitID(r), req.Local, quantity, req.Note)
	if err != nil {
		h.writeDomainError(w, "Failed to check", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionDTO(c))
}

// SetQuantity adjusts a completion. A quantity of zero or less removes it
// and answers 204.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.Tracker.SetQuantity(r.Context(), habitID(r), occurrenceKey(r), req.Quantity)
	if err != nil {
		h.writeDomainError(w, "Failed to set quantity", err)
		return
	}
	if c == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionDTO(*c))
}

// Uncheck removes a completion. Removing an absent completion succeeds.
func (h *Handler) Uncheck(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.Uncheck(r.Context(), habitID(r), occurrenceKey(r)); err != nil {
		h.writeDomainError(w, "Failed to uncheck", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

// Stats returns streaks and adherence.
// GET /api/habits/{id}/stats?days=30
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid days (positive integer)", err)
			return
		}
		days = n
	}

	s, err := h.Tracker.Stats(r.Context(), habitID(r), days)
	if err != nil {
		h.writeDomainError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(s))
}

// Day returns the pending / done split of one local day.
// GET /api/agenda/{day}?tz=Europe/Paris
func (h *Handler) Day(w http.ResponseWriter, r *http.Request) {
	tz := h.timezone(r)
	a, err := h.Tracker.Day(r.Context(), chi.URLParam(r, "day"), tz)
	if err != nil {
		h.writeDomainError(w, "Failed to build agenda", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgendaDTO(tz, a))
}

// Range returns the pending / done split of a local range.
// GET /api/agenda?from=2024-01-01T00:00:00&to=2024-01-07T23:59:59&tz=UTC
func (h *Handler) Range(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tz := h.timezone(r)
	a, err := h.Tracker.Agenda.Range(r.Context(), q.Get("from"), q.Get("to"), tz)
	if err != nil {
		h.writeDomainError(w, "Failed to build agenda", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgendaDTO(tz, a))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Refresh rolls the horizon of every active habit forward.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var (
		n   int
		err error
		dto RefreshDTO
	)
	if h.Scheduler != nil {
		n, err = h.Scheduler.RunNow(r.Context())
		if next := h.Scheduler.NextRun(); !next.IsZero() {
			dto.NextRun = formatUTC(next)
		}
	} else {
		n, err = h.Tracker.RefreshAll(r.Context())
	}

	dto.Refreshed = n
	status := http.StatusOK
	switch {
	case errors.Is(err, ErrRefreshRunning):
		writeError(w, http.StatusConflict, "Refresh already running", err)
		return
	case recurrence.IsStorageFailure(err):
		status = http.StatusInternalServerError
	case err != nil:
		// Some items failed; the others were refreshed.
		status = http.StatusMultiStatus
	}
	if err != nil {
		dto.Error = err.Error()
	}
	writeJSON(w, status, dto)
}

// RefreshStatus returns the outcome of the latest scheduled or manual
// refresh.
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Scheduler not configured", nil)
		return
	}

	var dto RefreshDTO
	if next := h.Scheduler.NextRun(); !next.IsZero() {
		dto.NextRun = formatUTC(next)
	}
	if last := h.Scheduler.LastRun(); last != nil {
		dto.Refreshed = last.Refreshed
		dto.LastRun = formatUTC(last.StartedAt)
		if last.Err != nil {
			dto.Error = last.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func habitID(r *http.Request) recurrence.ItemID {
	return recurrence.ItemID(chi.URLParam(r, "id"))
}

func occurrenceKey(r *http.Request) recurrence.OccurrenceKey {
	return recurrence.OccurrenceKey(chi.URLParam(r, "key"))
}

func (h *Handler) timezone(r *http.Request) string {
	if tz := r.URL.Query().Get("tz"); tz != "" {
		return tz
	}
	return h.DefaultTimezone
}

func instantParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, v)
}

// decodeRequest reads a JSON body into dst and runs its validator tags.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := newDecoder(w, r).Decode(dst); err != nil {
		return err
	}
	return factory.CheckStruct(dst)
}

// decodeOptionalRequest is decodeRequest for endpoints where the body may
// be empty.
func decodeOptionalRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := newDecoder(w, r).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return factory.CheckStruct(dst)
}

func newDecoder(w http.ResponseWriter, r *http.Request) *json.Decoder {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, habit.ErrHabitExists):
		status = http.StatusConflict
	case recurrence.IsNotFound(err):
		status = http.StatusNotFound
	case recurrence.IsClientError(err):
		status = http.StatusBadRequest
	}
	if status != http.StatusInternalServerError {
		writeError(w, status, message, err)
		return
	}
	id := uuid.NewString()
	h.logger().Error(message, "err", err, "error_id", id)
	writeJSON(w, status, ErrorResponse{Error: message, Details: err.Error(), ErrorID: id})
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
