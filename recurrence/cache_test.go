package recurrence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/habit-engine/recurrence"
)

func TestMaterialize_Idempotent(t *testing.T) {
	// GIVEN: A daily habit
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	ctx := context.Background()
	spec := dailySpec("h", "2024-01-01T09:00:00")
	from, to := utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 10, 23, 0)

	// WHEN: Materializing the same window twice
	first, err := f.cache.Materialize(ctx, "h", spec, from, to)
	require.NoError(t, err)
	afterFirst := keys(loadAll(t, f, "h"))

	second, err := f.cache.Materialize(ctx, "h", spec, from, to)
	require.NoError(t, err)
	afterSecond := keys(loadAll(t, f, "h"))

	// THEN: The row set is identical
	assert.Equal(t, 0, first.Deleted)
	assert.Equal(t, 10, first.Inserted)
	assert.Equal(t, 10, second.Deleted)
	assert.Equal(t, 10, second.Inserted)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Len(t, afterSecond, 10)
}

func TestMaterialize_WindowIsolation(t *testing.T) {
	// GIVEN: Ten days materialized
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	ctx := context.Background()
	spec := dailySpec("h", "2024-01-01T09:00:00")
	_, err := f.cache.Materialize(ctx, "h", spec, utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 10, 23, 0))
	require.NoError(t, err)

	// WHEN: Re-materializing Jan 3-5 with an exclusion on Jan 4
	f.clock.Advance(time.Hour)
	changed := spec
	changed.Exclusions = []string{"2024-01-04T09:00:00"}
	res, err := f.cache.Materialize(ctx, "h", changed, utc(2024, time.January, 3, 0, 0), utc(2024, time.January, 5, 23, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 2, res.Inserted)

	// THEN: Only the window changed; rows outside keep their original GeneratedAt
	rows := loadAll(t, f, "h")
	require.Len(t, rows, 9)
	assert.NotContains(t, keys(rows), recurrence.OccurrenceKey("20240104T090000Z"))
	for _, r := range rows {
		inWindow := !r.StartUTC.Before(utc(2024, time.January, 3, 0, 0)) && !r.StartUTC.After(utc(2024, time.January, 5, 23, 0))
		if inWindow {
			assert.True(t, r.GeneratedAt.Equal(utc(2024, time.January, 1, 1, 0)), r.Key)
		} else {
			assert.True(t, r.GeneratedAt.Equal(utc(2024, time.January, 1, 0, 0)), r.Key)
		}
	}
}

func TestMaterialize_RowShape(t *testing.T) {
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	ctx := context.Background()

	timed := dailySpec("timed", "2024-01-01T09:00:00")
	timed.DurationMinutes = 30
	_, err := f.cache.Materialize(ctx, "timed", timed, utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 1, 23, 0))
	require.NoError(t, err)

	check := dailySpec("check", "2024-01-01T09:00:00")
	_, err = f.cache.Materialize(ctx, "check", check, utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 1, 23, 0))
	require.NoError(t, err)

	rows := loadAll(t, f, "timed")
	require.Len(t, rows, 1)
	end, ok := rows[0].EndUTC.Get()
	require.True(t, ok)
	assert.True(t, end.Equal(utc(2024, time.January, 1, 9, 30)))
	assert.Equal(t, recurrence.OccurrenceKey("20240101T090000Z"), rows[0].Key)
	assert.False(t, rows[0].IsException)
	assert.Equal(t, recurrence.ItemID("timed"), rows[0].ItemID)

	rows = loadAll(t, f, "check")
	require.Len(t, rows, 1)
	assert.True(t, rows[0].EndUTC.IsAbsent(), "zero duration has no end")
}

func TestMaterialize_EmptyExpansionClearsWindow(t *testing.T) {
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	ctx := context.Background()
	spec := dailySpec("h", "2024-01-01T09:00:00")
	_, err := f.cache.Materialize(ctx, "h", spec, utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 3, 23, 0))
	require.NoError(t, err)

	spec.Rule = "FREQ=DAILY;COUNT=1"
	res, err := f.cache.Materialize(ctx, "h", spec, utc(2024, time.January, 2, 0, 0), utc(2024, time.January, 3, 23, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 0, res.Inserted)
	assert.Len(t, loadAll(t, f, "h"), 1)
}

// =============================================================================
// ROLLBACK
// =============================================================================

func TestMaterialize_InvalidRuleLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	ctx := context.Background()
	spec := dailySpec("h", "2024-01-01T09:00:00")
	from, to := utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 5, 23, 0)
	_, err := f.cache.Materialize(ctx, "h", spec, from, to)
	require.NoError(t, err)
	before := keys(loadAll(t, f, "h"))

	spec.Rule = "FREQ=FORTNIGHTLY"
	_, err = f.cache.Materialize(ctx, "h", spec, from, to)
	assert.ErrorIs(t, err, recurrence.ErrInvalidRecurrenceRule)
	assert.False(t, recurrence.IsStorageFailure(err))
	assert.Equal(t, before, keys(loadAll(t, f, "h")))
}

func TestMaterialize_StorageFailureRollsBackDelete(t *testing.T) {
	// GIVEN: Five cached days
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	ctx := context.Background()
	spec := dailySpec("h", "2024-01-01T09:00:00")
	from, to := utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 5, 23, 0)
	_, err := f.cache.Materialize(ctx, "h", spec, from, to)
	require.NoError(t, err)

	// WHEN: The upsert fails after the delete already ran
	diskFull := errors.New("disk full")
	f.mem.FailOn = func(op string) error {
		if op == "upsert_instances" {
			return diskFull
		}
		return nil
	}
	spec.DurationMinutes = 15
	_, err = f.cache.Materialize(ctx, "h", spec, from, to)

	// THEN: The error is a storage failure and the old rows are back
	require.Error(t, err)
	assert.True(t, recurrence.IsStorageFailure(err))
	assert.ErrorIs(t, err, diskFull)

	var storageErr *recurrence.StorageError
	assert.ErrorAs(t, err, &storageErr)

	rows := loadAll(t, f, "h")
	assert.Len(t, rows, 5)
	for _, r := range rows {
		assert.True(t, r.EndUTC.IsAbsent(), "rows are from before the failed refresh")
	}
}

func TestMaterialize_NeverTouchesCompletions(t *testing.T) {
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	ctx := context.Background()
	spec := dailySpec("h", "2024-01-01T09:00:00")
	from, to := utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 5, 23, 0)
	_, err := f.cache.Materialize(ctx, "h", spec, from, to)
	require.NoError(t, err)

	_, err = f.log.Check(ctx, "h", "20240102T090000Z", qty(1), "")
	require.NoError(t, err)

	// The occurrence disappears from the rule
	spec.Exclusions = []string{"2024-01-02T09:00:00"}
	_, err = f.cache.Materialize(ctx, "h", spec, from, to)
	require.NoError(t, err)

	assert.NotContains(t, keys(loadAll(t, f, "h")), recurrence.OccurrenceKey("20240102T090000Z"))
	c, err := f.log.Get(ctx, "h", "20240102T090000Z")
	require.NoError(t, err)
	require.NotNil(t, c, "completion outlives its instance")
}

func TestMaterialize_NegativeDuration(t *testing.T) {
	f := newFixture(t, utc(2024, time.January, 1, 0, 0))
	spec := dailySpec("h", "2024-01-01T09:00:00")
	spec.DurationMinutes = -5
	_, err := f.cache.Materialize(context.Background(), "h", spec, utc(2024, time.January, 1, 0, 0), utc(2024, time.January, 2, 0, 0))
	assert.ErrorIs(t, err, recurrence.ErrInvalidSpec)
	assert.True(t, recurrence.IsClientError(err))
}
