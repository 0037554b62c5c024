/*
Package factory provides JSON and iCalendar to Go spec conversion.

PURPOSE:
  Converts recurrence documents into recurrence.Spec values. Clients can
  define a habit schedule in JSON, or import the VEVENTs of an existing
  calendar, and the factory creates the proper Go structs.

JSON SCHEMA:
  {
    "item_id": "reading",
    "anchor_local": "2024-01-01T21:00:00",
    "timezone": "Europe/Paris",
    "rule": "FREQ=WEEKLY;BYDAY=MO,WE,FR",
    "additions": ["2024-01-06T10:00:00"],
    "exclusions": ["2024-01-10T21:00:00"],
    "duration_minutes": 30
  }

KEY FEATURES:
  - Structural checks with validator tags
  - Semantic checks (rule grammar, zone, timestamps) through the Expander
  - ToJSON for the reverse direction

USAGE:
  f := NewSpecFactory(nil)
  spec, err := f.ParseSpec(jsonString)

SEE ALSO:
  - ics.go: VEVENT import and instance export
  - recurrence/types.go: Spec type definition
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/habit-engine/recurrence"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SpecJSON is the JSON representation of a recurrence spec.
type SpecJSON struct {
	ItemID          string   `json:"item_id,omitempty" validate:"omitempty,max=128"`
	AnchorLocal     string   `json:"anchor_local,omitempty" validate:"required_with=Rule"`
	Timezone        string   `json:"timezone,omitempty" validate:"required_with=Rule"`
	Rule            string   `json:"rule,omitempty" validate:"omitempty,max=1024"`
	Additions       []string `json:"additions,omitempty" validate:"max=1000,dive,required"`
	Exclusions      []string `json:"exclusions,omitempty" validate:"max=1000,dive,required"`
	DurationMinutes int      `json:"duration_minutes,omitempty" validate:"gte=0,lte=10080"`
}

// specValidate is shared by every factory. validator.Validate caches struct
// metadata and is safe for concurrent use.
var specValidate = validator.New()

// =============================================================================
// SPEC FACTORY
// =============================================================================

// SpecFactory converts spec documents to recurrence.Spec values.
type SpecFactory struct {
	Expander *recurrence.Expander
	Logger   *slog.Logger
}

// NewSpecFactory creates a factory. A nil expander uses default settings.
func NewSpecFactory(expander *recurrence.Expander) *SpecFactory {
	if expander == nil {
		expander = recurrence.NewExpander(recurrence.ExpandConfig{})
	}
	return &SpecFactory{Expander: expander, Logger: slog.Default()}
}

func (f *SpecFactory) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// ParseSpec parses a JSON string into a Spec.
func (f *SpecFactory) ParseSpec(jsonStr string) (recurrence.Spec, error) {
	var sj SpecJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sj); err != nil {
		return recurrence.Spec{}, fmt.Errorf("%w: failed to parse spec JSON: %v", recurrence.ErrInvalidSpec, err)
	}
	return f.FromJSON(sj)
}

// FromJSON validates sj and converts it to a Spec.
func (f *SpecFactory) FromJSON(sj SpecJSON) (recurrence.Spec, error) {
	if err := CheckStruct(sj); err != nil {
		return recurrence.Spec{}, err
	}

	spec := recurrence.Spec{
		ItemID:          recurrence.ItemID(strings.TrimSpace(sj.ItemID)),
		AnchorLocal:     strings.TrimSpace(sj.AnchorLocal),
		Timezone:        strings.TrimSpace(sj.Timezone),
		Rule:            strings.TrimSpace(sj.Rule),
		Additions:       trimAll(sj.Additions),
		Exclusions:      trimAll(sj.Exclusions),
		DurationMinutes: sj.DurationMinutes,
	}
	if err := f.Expander.ValidateSpec(spec); err != nil {
		return recurrence.Spec{}, err
	}
	return spec, nil
}

// ToJSON converts a Spec to SpecJSON.
func (f *SpecFactory) ToJSON(spec recurrence.Spec) SpecJSON {
	return SpecJSON{
		ItemID:          string(spec.ItemID),
		AnchorLocal:     spec.AnchorLocal,
		Timezone:        spec.Timezone,
		Rule:            spec.Rule,
		Additions:       spec.Additions,
		Exclusions:      spec.Exclusions,
		DurationMinutes: spec.DurationMinutes,
	}
}

// CheckStruct runs the validator tags of v and maps failures to
// recurrence.ErrInvalidSpec with one line per failing field.
func CheckStruct(v any) error {
	err := specValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", recurrence.ErrInvalidSpec, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", recurrence.ErrInvalidSpec, strings.Join(msgs, "; "))
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
