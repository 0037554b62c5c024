package recurrence

import (
	"strings"
	"time"
)

// LocalLayout is the canonical wall-clock layout produced by ToLocal.
const LocalLayout = "2006-01-02T15:04:05"

// localLayouts are tried in order by ParseLocal. Fractional seconds are
// accepted after the seconds field even though no layout names them.
var localLayouts = []string{
	LocalLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102T150405",
	"2006-01-02",
}

// zoneProbe is how far around a wall-clock time we look for the offsets in
// effect on either side of a transition.
const zoneProbe = 26 * time.Hour

// LoadZone resolves an IANA timezone identifier. The empty string and
// "Local" are rejected: item zones must be explicit.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, &zoneError{name: name}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &zoneError{name: name, err: err}
	}
	return loc, nil
}

type zoneError struct {
	name string
	err  error
}

func (e *zoneError) Error() string {
	if e.err != nil {
		return "unknown timezone " + `"` + e.name + `": ` + e.err.Error()
	}
	return "unknown timezone " + `"` + e.name + `"`
}

func (e *zoneError) Unwrap() error { return ErrUnknownTimezone }

// ParseLocal interprets a wall-clock string in loc.
//
// Daylight-saving edge cases follow RFC 5545 section 3.3.5:
//   - an ambiguous time (repeated hour) is the FIRST occurrence
//   - a nonexistent time (skipped hour) uses the offset in effect before the gap
func ParseLocal(value string, loc *time.Location) (time.Time, error) {
	wall, err := parseWall(value)
	if err != nil {
		return time.Time{}, err
	}
	return resolveWall(wall, loc), nil
}

// parseWall reads a local timestamp as a floating wall-clock reading, carried
// in a UTC time.Time.
func parseWall(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, &TimestampError{Field: "local", Value: value}
	}
	for _, layout := range localLayouts {
		if wall, err := time.Parse(layout, v); err == nil {
			return wall, nil
		}
	}
	return time.Time{}, &TimestampError{Field: "local", Value: value}
}

// wallClock is the inverse of resolveWall: the reading of instant on a clock
// in loc, carried in a UTC time.Time.
func wallClock(instant time.Time, loc *time.Location) time.Time {
	l := instant.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
}

// resolveWall maps a wall-clock reading (carried in a UTC time.Time) to an
// instant in loc.
func resolveWall(wall time.Time, loc *time.Location) time.Time {
	before := offsetAt(wall.Add(-zoneProbe), loc)
	after := offsetAt(wall.Add(zoneProbe), loc)

	var valid []time.Time
	for _, off := range []int{before, after} {
		candidate := wall.Add(-time.Duration(off) * time.Second)
		if offsetAt(candidate, loc) == off {
			valid = append(valid, candidate)
		}
	}

	switch len(valid) {
	case 0:
		// Gap: use the offset before the transition.
		return wall.Add(-time.Duration(before) * time.Second).In(loc)
	case 1:
		return valid[0].In(loc)
	default:
		if valid[1].Before(valid[0]) {
			return valid[1].In(loc)
		}
		return valid[0].In(loc)
	}
}

func offsetAt(instant time.Time, loc *time.Location) int {
	_, off := instant.In(loc).Zone()
	return off
}

// ToUTC converts a local wall-clock string in the named zone to a UTC instant.
func ToUTC(local, tz string) (time.Time, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseLocal(local, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ToLocal renders a UTC instant as wall-clock time in the named zone.
func ToLocal(t time.Time, tz string) (string, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format(LocalLayout), nil
}
