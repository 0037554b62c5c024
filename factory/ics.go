/*
ics.go - iCalendar import and export

PURPOSE:
  Imports the recurrence of each VEVENT of an .ics payload as a Spec, and
  renders cached instances back out as a VCALENDAR for calendar clients.

IMPORT MAPPING:
  UID                  -> Spec.ItemID (so re-importing is detected)
  SUMMARY              -> ImportedSpec.Summary
  DTSTART;TZID=...     -> AnchorLocal + Timezone
  RRULE                -> Rule
  RDATE / EXDATE       -> Additions / Exclusions, in the DTSTART zone
  DTEND or DURATION    -> DurationMinutes

  Times ending in Z are converted into the spec's zone. Floating times and
  UTC DTSTARTs take the caller's default zone (UTC if none). Events carrying
  RECURRENCE-ID are overrides of another event and are skipped.

SEE ALSO:
  - spec.go: JSON documents
  - recurrence/timezone.go: wall clock conversion
*/
package factory

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/warp/habit-engine/recurrence"
)

const (
	icsDateTime    = "20060102T150405"
	icsDateTimeUTC = "20060102T150405Z"
	icsDate        = "20060102"
)

// ImportedSpec is one VEVENT converted to a spec.
type ImportedSpec struct {
	UID     string
	Summary string
	Spec    recurrence.Spec
}

// SkippedEvent records a VEVENT that could not be imported.
type SkippedEvent struct {
	UID    string
	Reason string
}

// ImportResult is the outcome of ParseICS.
type ImportResult struct {
	Specs   []ImportedSpec
	Skipped []SkippedEvent
}

// =============================================================================
// IMPORT
// =============================================================================

// ParseICS reads a calendar and converts each VEVENT. Events that cannot be
// converted are reported in Skipped; only an unreadable calendar is an error.
func (f *SpecFactory) ParseICS(r io.Reader, defaultTZ string) (ImportResult, error) {
	var result ImportResult

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return result, fmt.Errorf("%w: failed to parse calendar: %v", recurrence.ErrInvalidSpec, err)
	}
	if strings.TrimSpace(defaultTZ) == "" {
		defaultTZ = "UTC"
	}

	for _, ve := range cal.Events() {
		imported, err := f.parseVEvent(ve, defaultTZ)
		if err != nil {
			uid := propValue(ve, ical.ComponentPropertyUniqueId)
			f.logger().Warn("ics vevent skipped", "uid", uid, "error", err)
			result.Skipped = append(result.Skipped, SkippedEvent{UID: uid, Reason: err.Error()})
			continue
		}
		result.Specs = append(result.Specs, imported)
	}

	f.logger().Info("ics import parsed", "events", len(result.Specs), "skipped", len(result.Skipped))
	return result, nil
}

func (f *SpecFactory) parseVEvent(ve *ical.VEvent, defaultTZ string) (ImportedSpec, error) {
	var out ImportedSpec

	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.UID == "" {
		return out, fmt.Errorf("missing UID")
	}
	if ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")) != nil {
		return out, fmt.Errorf("RECURRENCE-ID overrides are not imported")
	}
	out.Summary = propValue(ve, ical.ComponentPropertySummary)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, fmt.Errorf("missing DTSTART")
	}

	tz := param(dtStart, "TZID")
	if tz == "" {
		tz = defaultTZ
	}
	anchor, err := wallClock(dtStart.Value, param(dtStart, "TZID"), tz)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}

	spec := recurrence.Spec{
		ItemID:      recurrence.ItemID(out.UID),
		AnchorLocal: anchor,
		Timezone:    tz,
		Rule:        propValue(ve, ical.ComponentPropertyRrule),
	}

	if spec.Additions, err = dateList(ve.GetProperties(ical.ComponentProperty("RDATE")), tz); err != nil {
		return out, fmt.Errorf("RDATE: %w", err)
	}
	if spec.Exclusions, err = dateList(ve.GetProperties(ical.ComponentPropertyExdate), tz); err != nil {
		return out, fmt.Errorf("EXDATE: %w", err)
	}
	if spec.DurationMinutes, err = eventMinutes(ve, anchor, tz); err != nil {
		return out, err
	}

	if err := f.Expander.ValidateSpec(spec); err != nil {
		return out, err
	}
	out.Spec = spec
	return out, nil
}

// eventMinutes derives the occurrence length from DTEND or DURATION. Events
// with neither are zero-duration.
func eventMinutes(ve *ical.VEvent, anchor, tz string) (int, error) {
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil && strings.TrimSpace(p.Value) != "" {
		endLocal, err := wallClock(p.Value, param(p, "TZID"), tz)
		if err != nil {
			return 0, fmt.Errorf("DTEND: %w", err)
		}
		start, err := recurrence.ToUTC(anchor, tz)
		if err != nil {
			return 0, err
		}
		end, err := recurrence.ToUTC(endLocal, tz)
		if err != nil {
			return 0, err
		}
		if end.Before(start) {
			return 0, fmt.Errorf("DTEND before DTSTART")
		}
		return int(end.Sub(start) / time.Minute), nil
	}
	if v := propValue(ve, ical.ComponentProperty("DURATION")); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("DURATION: %w", err)
		}
		return int(d / time.Minute), nil
	}
	return 0, nil
}

// dateList flattens repeated, comma separated RDATE / EXDATE properties into
// wall clock strings of tz.
func dateList(props []*ical.IANAProperty, tz string) ([]string, error) {
	var out []string
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			// VALUE=PERIOD: keep the period start
			if i := strings.IndexByte(part, '/'); i >= 0 {
				part = part[:i]
			}
			wall, err := wallClock(part, param(p, "TZID"), tz)
			if err != nil {
				return nil, err
			}
			out = append(out, wall)
		}
	}
	return out, nil
}

// wallClock converts an iCalendar date or date-time, written in srcTZ (or
// UTC when it ends in Z), to a wall clock string of dstTZ.
func wallClock(value, srcTZ, dstTZ string) (string, error) {
	v := strings.TrimSpace(value)

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(icsDateTimeUTC, v)
		if err != nil {
			return "", fmt.Errorf("invalid date-time %q", value)
		}
		return recurrence.ToLocal(t, dstTZ)
	}

	layout := icsDateTime
	if !strings.Contains(v, "T") {
		layout = icsDate
	}
	wall, err := time.Parse(layout, v)
	if err != nil {
		return "", fmt.Errorf("invalid date-time %q", value)
	}
	local := wall.Format(recurrence.LocalLayout)

	if srcTZ == "" || srcTZ == dstTZ {
		return local, nil
	}
	instant, err := recurrence.ToUTC(local, srcTZ)
	if err != nil {
		return "", err
	}
	return recurrence.ToLocal(instant, dstTZ)
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration parses an RFC 5545 DURATION value such as PT30M or P1DT2H.
// Negative durations are rejected.
func ParseDuration(value string) (time.Duration, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	m := durationPattern.FindStringSubmatch(v)
	if m == nil || v == "P" || strings.HasSuffix(v, "T") {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if m[1] == "-" {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		d += time.Duration(n) * unit
	}
	return d, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func param(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportICS renders instances as a VCALENDAR. titles supplies the SUMMARY
// of each item; instances of unknown items fall back to the item ID.
func ExportICS(instances []recurrence.Instance, titles map[recurrence.ItemID]string, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//habit-engine//recurrence instances//EN")

	for _, inst := range instances {
		ev := cal.AddEvent(string(inst.Key) + "@" + string(inst.ItemID))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(inst.StartUTC)
		if end, ok := inst.EndUTC.Get(); ok {
			ev.SetEndAt(end)
		}
		summary := titles[inst.ItemID]
		if summary == "" {
			summary = string(inst.ItemID)
		}
		ev.SetSummary(summary)
	}
	return cal.Serialize()
}
