/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TIMES:
  Instants are RFC 3339 in UTC. Local wall clock values use
  2006-01-02T15:04:05 and always travel with a timezone.

VALIDATION:
  Request types carry validator tags, checked by decodeRequest before the
  handler runs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/spec.go: SpecJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/habit-engine/factory"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/recurrence"
)

// =============================================================================
// HABITS
// =============================================================================

// HabitDTO represents a habit in API responses.
type HabitDTO struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Active    bool             `json:"active"`
	Spec      factory.SpecJSON `json:"spec"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
}

// CreateHabitRequest is the request body for creating a habit.
type CreateHabitRequest struct {
	ID    string           `json:"id,omitempty" validate:"omitempty,max=128"`
	Title string           `json:"title" validate:"required,max=200"`
	Spec  factory.SpecJSON `json:"spec"`
}

// SetActiveRequest archives or restores a habit.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// ReconcileDTO reports the outcome of a spec update.
type ReconcileDTO struct {
	ItemID      string `json:"item_id"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Deleted     int    `json:"deleted"`
	Inserted    int    `json:"inserted"`
	Regenerated bool   `json:"regenerated"`
	Skipped     bool   `json:"skipped"`
}

// =============================================================================
// INSTANCES
// =============================================================================

// MaterializeRequest asks for an explicit window refresh.
type MaterializeRequest struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required"`
}

// MaterializeDTO reports one window refresh.
type MaterializeDTO struct {
	ItemID   string `json:"item_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Deleted  int    `json:"deleted"`
	Inserted int    `json:"inserted"`
}

// InstanceDTO represents a cached occurrence.
type InstanceDTO struct {
	ItemID      string  `json:"item_id"`
	Key         string  `json:"key"`
	StartUTC    string  `json:"start_utc"`
	EndUTC      *string `json:"end_utc,omitempty"`
	IsException bool    `json:"is_exception"`
	GeneratedAt string  `json:"generated_at"`
}

// ExpandRequest previews the occurrences of a spec without storing anything.
type ExpandRequest struct {
	Spec factory.SpecJSON `json:"spec"`
	From time.Time        `json:"from" validate:"required"`
	To   time.Time        `json:"to" validate:"required"`
}

// =============================================================================
// COMPLETIONS
// =============================================================================

// CheckRequest records a completion. Quantity defaults to 1.
type CheckRequest struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Note     string           `json:"note,omitempty" validate:"max=2000"`
}

// CheckAtRequest records a completion by local occurrence time.
type CheckAtRequest struct {
	Local    string           `json:"local" validate:"required"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Note     string           `json:"note,omitempty" validate:"max=2000"`
}

// SetQuantityRequest adjusts the quantity of a completion. Zero or less
// removes it.
type SetQuantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// CompletionDTO represents a completion log row.
type CompletionDTO struct {
	ItemID    string          `json:"item_id"`
	Key       string          `json:"key"`
	Quantity  decimal.Decimal `json:"quantity"`
	Note      string          `json:"note,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// =============================================================================
// QUERIES
// =============================================================================

// StatsDTO is the streak and adherence summary of a habit.
type StatsDTO struct {
	ItemID        string  `json:"item_id"`
	CurrentStreak int     `json:"current_streak"`
	LongestStreak int     `json:"longest_streak"`
	Adherence     float64 `json:"adherence"`
	WindowDays    int     `json:"window_days"`
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
}

// DoneInstanceDTO is an instance joined with its completion.
type DoneInstanceDTO struct {
	InstanceDTO
	Quantity  decimal.Decimal `json:"quantity"`
	Note      string          `json:"note,omitempty"`
	UpdatedAt string          `json:"updated_at"`
}

// AgendaDTO is the pending / done split of a local window.
type AgendaDTO struct {
	Timezone string            `json:"timezone"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Pending  []InstanceDTO     `json:"pending"`
	Done     []DoneInstanceDTO `json:"done"`
}

// ImportResponse reports an ICS import.
type ImportResponse struct {
	Created []HabitDTO        `json:"created"`
	Skipped []SkippedEventDTO `json:"skipped"`
}

// SkippedEventDTO is a VEVENT that was not imported.
type SkippedEventDTO struct {
	UID    string `json:"uid"`
	Reason string `json:"reason"`
}

// RefreshDTO reports a horizon refresh.
type RefreshDTO struct {
	Refreshed int    `json:"refreshed"`
	Error     string `json:"error,omitempty"`
	LastRun   string `json:"last_run,omitempty"`
	NextRun   string `json:"next_run,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	ErrorID string `json:"error_id,omitempty"` // set on 500s, matches the server log
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toHabitDTO(f *factory.SpecFactory, h habit.Habit) HabitDTO {
	return HabitDTO{
		ID:        string(h.ID),
		Title:     h.Title,
		Active:    h.Active,
		Spec:      f.ToJSON(h.Spec),
		CreatedAt: formatUTC(h.CreatedAt),
		UpdatedAt: formatUTC(h.UpdatedAt),
	}
}

func toInstanceDTO(inst recurrence.Instance) InstanceDTO {
	dto := InstanceDTO{
		ItemID:      string(inst.ItemID),
		Key:         string(inst.Key),
		StartUTC:    formatUTC(inst.StartUTC),
		IsException: inst.IsException,
		GeneratedAt: formatUTC(inst.GeneratedAt),
	}
	if end, ok := inst.EndUTC.Get(); ok {
		s := formatUTC(end)
		dto.EndUTC = &s
	}
	return dto
}

func toInstanceDTOs(instances []recurrence.Instance) []InstanceDTO {
	dtos := make([]InstanceDTO, 0, len(instances))
	for _, inst := range instances {
		dtos = append(dtos, toInstanceDTO(inst))
	}
	return dtos
}

func toCompletionDTO(c recurrence.Completion) CompletionDTO {
	return CompletionDTO{
		ItemID:    string(c.ItemID),
		Key:       string(c.Key),
		Quantity:  c.Quantity,
		Note:      c.Note,
		CreatedAt: formatUTC(c.CreatedAt),
		UpdatedAt: formatUTC(c.UpdatedAt),
	}
}

func toStatsDTO(s recurrence.Summary) StatsDTO {
	return StatsDTO{
		ItemID:        string(s.ItemID),
		CurrentStreak: s.CurrentStreak,
		LongestStreak: s.LongestStreak,
		Adherence:     s.Adherence,
		WindowDays:    s.WindowDays,
		Total:         s.Total,
		Completed:     s.Completed,
	}
}

func toAgendaDTO(tz string, a recurrence.DayAgenda) AgendaDTO {
	dto := AgendaDTO{
		Timezone: tz,
		From:     formatUTC(a.Window.Start),
		To:       formatUTC(a.Window.End),
		Pending:  toInstanceDTOs(a.Pending),
		Done:     make([]DoneInstanceDTO, 0, len(a.Done)),
	}
	for _, d := range a.Done {
		dto.Done = append(dto.Done, DoneInstanceDTO{
			InstanceDTO: toInstanceDTO(d.Instance),
			Quantity:    d.Quantity,
			Note:        d.Note,
			UpdatedAt:   formatUTC(d.UpdatedAt),
		})
	}
	return dto
}

func toReconcileDTO(r recurrence.ReconcileResult) ReconcileDTO {
	return ReconcileDTO{
		ItemID:      string(r.ItemID),
		WindowStart: formatUTC(r.Rolling.Start),
		WindowEnd:   formatUTC(r.Rolling.End),
		Deleted:     r.Deleted,
		Inserted:    r.Inserted,
		Regenerated: r.Regenerated,
		Skipped:     r.Skipped,
	}
}
