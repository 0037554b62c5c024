/*
Package recurrence provides the recurrence instance cache and habit analytics engine.

PURPOSE:
  Materializes concrete occurrences of recurring items (RFC 5545 RRULE plus
  RDATE/EXDATE) into a windowed, idempotently refreshable cache, and layers
  completion tracking, streaks and adherence on top of that cache.

KEY CONCEPTS IN THIS FILE (types.go):
  - Spec: the recurrence definition owned by one item
  - Instance: one materialized occurrence (a cache row)
  - Completion: one completion log row for an occurrence
  - ItemID / OccurrenceKey: type-safe identifiers

DESIGN PRINCIPLES:
  1. The cache is derived: it can always be rebuilt from Spec + window
  2. The completion log is NOT derived: it outlives cache regeneration
  3. Every write to the cache happens inside one store transaction
  4. Storage is injected (TxStore), never global

SEE ALSO:
  - expand.go: Spec -> instants
  - cache.go: instants -> persisted Instances
  - completion.go: Completion log operations
  - stats.go: Streak and adherence
*/
package recurrence

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ItemID is the opaque identifier of the entity that owns a recurrence.
type ItemID string

// OccurrenceKey identifies one occurrence of an item. See key.go.
type OccurrenceKey string

// =============================================================================
// SPEC - Recurrence definition
// =============================================================================

// Spec describes how an item recurs. All local date-times are interpreted in
// Timezone.
type Spec struct {
	ItemID          ItemID
	AnchorLocal     string   // first occurrence, local wall clock, no offset
	Timezone        string   // IANA identifier, e.g. "Europe/Paris"
	Rule            string   // RRULE grammar, e.g. "FREQ=DAILY;INTERVAL=1"
	Additions       []string // RDATE, local wall clock
	Exclusions      []string // EXDATE, local wall clock
	DurationMinutes int      // 0 = zero-duration (check-type) occurrence
}

// Usable reports whether the spec carries everything expansion needs.
// A spec that is not usable is not an error: it simply has no occurrences.
func (s Spec) Usable() bool {
	return strings.TrimSpace(s.AnchorLocal) != "" &&
		strings.TrimSpace(s.Timezone) != "" &&
		strings.TrimSpace(s.Rule) != ""
}

// Equal reports whether two specs would expand identically.
func (s Spec) Equal(other Spec) bool {
	return s.ItemID == other.ItemID &&
		s.AnchorLocal == other.AnchorLocal &&
		s.Timezone == other.Timezone &&
		normalizeRule(s.Rule) == normalizeRule(other.Rule) &&
		slices.Equal(s.Additions, other.Additions) &&
		slices.Equal(s.Exclusions, other.Exclusions) &&
		s.DurationMinutes == other.DurationMinutes
}

// Duration returns the occurrence length.
func (s Spec) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// =============================================================================
// INSTANCE - One cached occurrence
// =============================================================================

// Instance is a materialized occurrence. Identity is (ItemID, Key).
type Instance struct {
	ItemID      ItemID
	Key         OccurrenceKey
	StartUTC    time.Time
	EndUTC      mo.Option[time.Time] // None iff the spec has zero duration
	IsException bool                 // reserved for manually adjusted occurrences
	GeneratedAt time.Time
}

// =============================================================================
// COMPLETION - Completion log entry
// =============================================================================

// DefaultQuantity is the quantity recorded by a plain boolean check.
var DefaultQuantity = decimal.NewFromInt(1)

// Completion records that an occurrence was completed. Identity is (ItemID, Key).
// Existence means "done"; absence means "pending".
type Completion struct {
	ItemID    ItemID
	Key       OccurrenceKey
	Quantity  decimal.Decimal
	Note      string
	CreatedAt time.Time // set once, preserved across re-checks
	UpdatedAt time.Time // refreshed on every write
}

// DoneInstance is an Instance joined with its completion.
type DoneInstance struct {
	Instance
	Quantity  decimal.Decimal
	Note      string
	UpdatedAt time.Time
}

// Window is an inclusive UTC time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func normalizeRule(rule string) string {
	r := strings.TrimSpace(rule)
	if len(r) >= 6 && strings.EqualFold(r[:6], "RRULE:") {
		r = r[6:]
	}
	return strings.ToUpper(strings.TrimSpace(r))
}
