/*
expand.go - Recurrence expansion engine

PURPOSE:
  Turns a Spec into the ordered, deduplicated set of UTC instants that fall
  inside a window. This is the only place that understands RRULE grammar;
  everything downstream works with plain instants.

ALGORITHM:
  1. Read AnchorLocal as a floating wall-clock time
  2. Run the rule over floating time (a daily 09:00 stays at 09:00 local
     across DST transitions), starting near the window when the frequency
     has a fixed period
  3. Resolve every generated wall time in the item's zone with the same
     DST policy as RDATE and EXDATE, keep those in [start, end]
  4. Add RDATEs that land inside the window (others silently dropped)
  5. Remove anything within ExclusionTolerance of an EXDATE
  6. Deduplicate by second, sort ascending, return UTC

UNTIL:
  An UNTIL ending in Z is a UTC instant and is converted to the item's wall
  clock. A floating UNTIL is already a wall-clock reading in the item's zone.

FAILURE:
  Any parse failure is fatal to the call. There is no partial expansion.

SEE ALSO:
  - timezone.go: local <-> UTC conversion, DST policy
  - cache.go: persists the result
*/
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	defaultExclusionTolerance = time.Second
	defaultMaxOccurrences     = 5000

	// wallSlack covers the largest UTC offset when comparing floating wall
	// times against window instants.
	wallSlack = 26 * time.Hour

	// iterationsPerOccurrence bounds rule iterations per call to this many
	// times MaxOccurrences.
	iterationsPerOccurrence = 200
)

// ExpandConfig controls expansion.
type ExpandConfig struct {
	// ExclusionTolerance is how close an instant must be to an EXDATE to be
	// removed. Zero means the default of one second.
	ExclusionTolerance time.Duration

	// MaxOccurrences caps the number of instants in one window. Exceeding it
	// fails the call with ErrTooManyOccurrences. Zero means 5000.
	MaxOccurrences int
}

// Expander expands specs. It is stateless apart from its configuration and
// safe for concurrent use.
type Expander struct {
	cfg ExpandConfig
}

// NewExpander creates an Expander, filling in configuration defaults.
func NewExpander(cfg ExpandConfig) *Expander {
	if cfg.ExclusionTolerance <= 0 {
		cfg.ExclusionTolerance = defaultExclusionTolerance
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}
	return &Expander{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Expander) Config() ExpandConfig { return e.cfg }

// Expand returns the occurrences of spec inside [windowStart, windowEnd].
func (e *Expander) Expand(spec Spec, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if windowEnd.Before(windowStart) {
		return nil, ErrInvalidWindow
	}
	if spec.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: negative duration %d", ErrInvalidSpec, spec.DurationMinutes)
	}

	loc, err := LoadZone(spec.Timezone)
	if err != nil {
		return nil, err
	}
	anchor, err := anchorWall(spec.AnchorLocal)
	if err != nil {
		return nil, err
	}
	opt, err := ruleOption(spec.Rule, anchor, loc)
	if err != nil {
		return nil, err
	}

	window := Window{Start: windowStart, End: windowEnd}
	lo := windowStart.UTC().Add(-wallSlack)
	hi := windowEnd.UTC().Add(wallSlack)
	seedNear(opt, lo)
	rule, err := newRule(spec.Rule, *opt)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]time.Time)
	budget := e.cfg.MaxOccurrences * iterationsPerOccurrence
	next := rule.Iterator()
	for n := 0; ; n++ {
		if n > budget {
			return nil, fmt.Errorf("%w: more than %d rule iterations", ErrTooManyOccurrences, budget)
		}
		w, ok := next()
		if !ok || w.After(hi) {
			break
		}
		if w.Before(lo) {
			continue
		}
		t := resolveWall(w, loc).UTC().Truncate(time.Second)
		if !window.Contains(t) {
			continue
		}
		seen[t.Unix()] = t
		if len(seen) > e.cfg.MaxOccurrences {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyOccurrences, e.cfg.MaxOccurrences)
		}
	}

	for _, add := range spec.Additions {
		t, err := parseField("additions", add, loc)
		if err != nil {
			return nil, err
		}
		if window.Contains(t) {
			t = t.UTC().Truncate(time.Second)
			seen[t.Unix()] = t
		}
	}
	if len(seen) > e.cfg.MaxOccurrences {
		return nil, fmt.Errorf("%w: more than %d", ErrTooManyOccurrences, e.cfg.MaxOccurrences)
	}

	exclusions := make([]time.Time, 0, len(spec.Exclusions))
	for _, ex := range spec.Exclusions {
		t, err := parseField("exclusions", ex, loc)
		if err != nil {
			return nil, err
		}
		exclusions = append(exclusions, t)
	}

	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		if e.excluded(t, exclusions) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// ValidateSpec checks that spec would expand without error, without
// producing any occurrences. An unusable spec is valid.
func (e *Expander) ValidateSpec(spec Spec) error {
	if spec.DurationMinutes < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidSpec, spec.DurationMinutes)
	}
	if !spec.Usable() {
		return nil
	}
	loc, err := LoadZone(spec.Timezone)
	if err != nil {
		return err
	}
	anchor, err := anchorWall(spec.AnchorLocal)
	if err != nil {
		return err
	}
	opt, err := ruleOption(spec.Rule, anchor, loc)
	if err != nil {
		return err
	}
	if _, err := newRule(spec.Rule, *opt); err != nil {
		return err
	}
	for _, add := range spec.Additions {
		if _, err := parseField("additions", add, loc); err != nil {
			return err
		}
	}
	for _, ex := range spec.Exclusions {
		if _, err := parseField("exclusions", ex, loc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Expander) excluded(t time.Time, exclusions []time.Time) bool {
	for _, ex := range exclusions {
		d := t.Sub(ex)
		if d < 0 {
			d = -d
		}
		if d <= e.cfg.ExclusionTolerance {
			return true
		}
	}
	return false
}

// ruleOption parses raw into options running over floating wall-clock time
// from anchor.
func ruleOption(raw string, anchor time.Time, loc *time.Location) (*rrule.ROption, error) {
	ruleStr := strings.Trim(normalizeRule(raw), ";")
	if ruleStr == "" || !strings.Contains(ruleStr, "FREQ=") {
		return nil, &RuleError{Rule: raw, Err: errors.New("FREQ is required")}
	}
	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return nil, &RuleError{Rule: raw, Err: err}
	}
	opt.Dtstart = anchor.Truncate(time.Second)
	if !opt.Until.IsZero() && untilIsUTC(ruleStr) {
		opt.Until = wallClock(opt.Until, loc)
	}
	return opt, nil
}

func newRule(raw string, opt rrule.ROption) (*rrule.RRule, error) {
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, &RuleError{Rule: raw, Err: err}
	}
	return r, nil
}

func untilIsUTC(ruleStr string) bool {
	for _, part := range strings.Split(ruleStr, ";") {
		if v, ok := strings.CutPrefix(part, "UNTIL="); ok {
			return strings.HasSuffix(v, "Z")
		}
	}
	return false
}

// seedNear moves DTSTART forward by whole periods so iteration starts at or
// before lo instead of at the anchor. Only fixed-period frequencies without
// COUNT are moved; in floating time a period has no DST, so the shifted rule
// generates the same set from the new DTSTART on.
func seedNear(opt *rrule.ROption, lo time.Time) {
	if opt.Count > 0 {
		return
	}
	var unit time.Duration
	switch opt.Freq {
	case rrule.WEEKLY:
		unit = 7 * 24 * time.Hour
	case rrule.DAILY:
		unit = 24 * time.Hour
	case rrule.HOURLY:
		unit = time.Hour
	case rrule.MINUTELY:
		unit = time.Minute
	case rrule.SECONDLY:
		unit = time.Second
	default:
		return
	}
	interval := opt.Interval
	if interval < 1 {
		interval = 1
	}
	step := unit * time.Duration(interval)
	gap := lo.Sub(opt.Dtstart)
	if gap < step {
		return
	}
	opt.Dtstart = opt.Dtstart.Add(step * (gap / step))
}

func anchorWall(value string) (time.Time, error) {
	w, err := parseWall(value)
	if err != nil {
		return time.Time{}, &TimestampError{Field: "anchor", Value: value}
	}
	return w, nil
}

func parseField(field, value string, loc *time.Location) (time.Time, error) {
	t, err := ParseLocal(value, loc)
	if err != nil {
		return time.Time{}, &TimestampError{Field: field, Value: value}
	}
	return t, nil
}
