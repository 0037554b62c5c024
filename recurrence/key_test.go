package recurrence_test

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/habit-engine/recurrence"
)

func TestEncodeKey_Format(t *testing.T) {
	assert.Equal(t, recurrence.OccurrenceKey("20240101T090000Z"), recurrence.EncodeKey(utc(2024, time.January, 1, 9, 0)))
}

func TestEncodeKey_SameInstantAnyZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	inUTC := utc(2024, time.January, 1, 14, 0)
	inNY := time.Date(2024, time.January, 1, 9, 0, 0, 0, ny)
	assert.Equal(t, recurrence.EncodeKey(inUTC), recurrence.EncodeKey(inNY))
}

func TestEncodeKey_SecondPrecision(t *testing.T) {
	base := utc(2024, time.January, 1, 9, 0)
	assert.Equal(t, recurrence.EncodeKey(base), recurrence.EncodeKey(base.Add(999*time.Millisecond)))
	assert.NotEqual(t, recurrence.EncodeKey(base), recurrence.EncodeKey(base.Add(time.Second)))
}

func TestEncodeKey_OrderMatchesChronology(t *testing.T) {
	instants := []time.Time{
		utc(2025, time.March, 1, 0, 0),
		utc(2024, time.December, 31, 23, 59),
		utc(2024, time.January, 1, 9, 0).Add(time.Second),
		utc(2024, time.January, 1, 9, 0),
		utc(1999, time.July, 4, 12, 0),
	}
	ks := make([]string, len(instants))
	for i, at := range instants {
		ks[i] = string(recurrence.EncodeKey(at))
	}
	sort.Strings(ks)
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	for i := range instants {
		assert.Equal(t, string(recurrence.EncodeKey(instants[i])), ks[i])
	}
}

func TestDecodeKey(t *testing.T) {
	got, err := recurrence.DecodeKey("20240101T090000Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(utc(2024, time.January, 1, 9, 0)))

	for _, bad := range []recurrence.OccurrenceKey{"", "2024-01-01T09:00:00Z", "20240101T090000", "20240101T090000.5Z"} {
		_, err := recurrence.DecodeKey(bad)
		assert.ErrorIs(t, err, recurrence.ErrInvalidOccurrenceKey, string(bad))
	}
}
