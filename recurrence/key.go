package recurrence

import (
	"time"
)

// keyLayout is fixed width with a trailing UTC marker, so lexicographic order
// of keys matches chronological order of instants (years 0000-9999).
const keyLayout = "20060102T150405Z"

// EncodeKey derives the occurrence key of an instant at second precision.
// Two instants within the same UTC second always share a key.
func EncodeKey(t time.Time) OccurrenceKey {
	return OccurrenceKey(t.UTC().Truncate(time.Second).Format(keyLayout))
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(k OccurrenceKey) (time.Time, error) {
	t, err := time.Parse(keyLayout, string(k))
	if err != nil || len(k) != len(keyLayout) {
		return time.Time{}, ErrInvalidOccurrenceKey
	}
	return t.UTC(), nil
}

// ValidKey reports whether k is in codec format.
func ValidKey(k OccurrenceKey) bool {
	_, err := DecodeKey(k)
	return err == nil
}
