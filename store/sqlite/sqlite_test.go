package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/recurrence"
	"github.com/warp/habit-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T, items ...string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, id := range items {
		require.NoError(t, store.SaveItem(context.Background(), habit.Item{ID: recurrence.ItemID(id), Title: id, Active: true}))
	}
	return store
}

func at(day, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

func instance(item string, start time.Time) recurrence.Instance {
	return recurrence.Instance{
		ItemID:      recurrence.ItemID(item),
		Key:         recurrence.EncodeKey(start),
		StartUTC:    start,
		EndUTC:      mo.None[time.Time](),
		GeneratedAt: at(1, 0),
	}
}

func dailySpec(item string) recurrence.Spec {
	return recurrence.Spec{
		ItemID:      recurrence.ItemID(item),
		AnchorLocal: "2024-01-01T09:00:00",
		Timezone:    "UTC",
		Rule:        "FREQ=DAILY",
	}
}

// =============================================================================
// INSTANCES
// =============================================================================

func TestInstances_UpsertAndLoad(t *testing.T) {
	store := newTestStore(t, "a")
	ctx := context.Background()

	timed := instance("a", at(2, 9))
	timed.EndUTC = mo.Some(at(2, 10))
	require.NoError(t, store.UpsertInstances(ctx, []recurrence.Instance{instance("a", at(3, 9)), timed}))

	rows, err := store.LoadInstances(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.True(t, rows[0].StartUTC.Equal(at(2, 9)), "ordered by start")
	end, ok := rows[0].EndUTC.Get()
	require.True(t, ok)
	assert.True(t, end.Equal(at(2, 10)))
	assert.True(t, rows[1].EndUTC.IsAbsent())
	assert.Equal(t, recurrence.OccurrenceKey("20240103T090000Z"), rows[1].Key)
	assert.True(t, rows[1].GeneratedAt.Equal(at(1, 0)))

	// Upsert by key overwrites
	changed := instance("a", at(3, 9))
	changed.EndUTC = mo.Some(at(3, 9).Add(15 * time.Minute))
	require.NoError(t, store.UpsertInstances(ctx, []recurrence.Instance{changed}))
	rows, err = store.LoadInstances(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[1].EndUTC.IsPresent())
}

func TestInstances_RangeBoundsInclusive(t *testing.T) {
	store := newTestStore(t, "a")
	ctx := context.Background()
	require.NoError(t, store.UpsertInstances(ctx, []recurrence.Instance{
		instance("a", at(1, 9)), instance("a", at(2, 9)), instance("a", at(3, 9)),
	}))

	rows, err := store.LoadInstancesInRange(ctx, "a", at(1, 9), at(2, 9))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// A sub-second lower bound after 09:00:00 excludes 09:00:00
	rows, err = store.LoadInstancesInRange(ctx, "a", at(1, 9).Add(500*time.Millisecond), at(3, 9))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	n, err := store.DeleteInstancesInRange(ctx, "a", at(2, 0), at(2, 23))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.DeleteInstancesFrom(ctx, "a", at(3, 9))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err = store.LoadInstances(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInstances_LoadAllOrderedByStartThenItem(t *testing.T) {
	store := newTestStore(t, "a", "b")
	ctx := context.Background()
	require.NoError(t, store.UpsertInstances(ctx, []recurrence.Instance{
		instance("b", at(1, 9)), instance("a", at(1, 9)), instance("a", at(1, 8)),
	}))

	rows, err := store.LoadAllInstancesInRange(ctx, at(1, 0), at(1, 23))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, recurrence.ItemID("a"), rows[0].ItemID)
	assert.Equal(t, recurrence.ItemID("a"), rows[1].ItemID)
	assert.Equal(t, recurrence.ItemID("b"), rows[2].ItemID)
	assert.True(t, rows[0].StartUTC.Before(rows[1].StartUTC))
}

// =============================================================================
// COMPLETIONS
// =============================================================================

func TestCompletions_DecimalRoundTrip(t *testing.T) {
	store := newTestStore(t, "a")
	ctx := context.Background()

	created := time.Date(2024, time.January, 2, 10, 0, 0, 123456789, time.UTC)
	c := recurrence.Completion{
		ItemID:    "a",
		Key:       "20240102T090000Z",
		Quantity:  decimal.RequireFromString("2.5"),
		Note:      "half marathon",
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, store.PutCompletion(ctx, c))

	got, err := store.GetCompletion(ctx, "a", "20240102T090000Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Quantity.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "half marathon", got.Note)
	assert.True(t, got.CreatedAt.Equal(created))

	missing, err := store.GetCompletion(ctx, "a", "20240103T090000Z")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.DeleteCompletion(ctx, "a", "20240102T090000Z"))
	require.NoError(t, store.DeleteCompletion(ctx, "a", "20240102T090000Z"))
	all, err := store.LoadCompletions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCompletionLog_OverSQLite(t *testing.T) {
	store := newTestStore(t, "a")
	ctx := context.Background()
	now := at(2, 10)
	log := recurrence.NewCompletionLog(store)
	log.Now = func() time.Time { return now }

	first, err := log.Check(ctx, "a", "20240102T090000Z", decimal.NewFromInt(2), "")
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = log.Check(ctx, "a", "20240102T090000Z", decimal.NewFromInt(5), "")
	require.NoError(t, err)

	history, err := log.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Quantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, history[0].CreatedAt.Equal(first.CreatedAt))
	assert.True(t, history[0].UpdatedAt.Equal(at(2, 11)))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnStorageError(t *testing.T) {
	// GIVEN: Cached rows for "a"
	store := newTestStore(t, "a")
	ctx := context.Background()
	require.NoError(t, store.UpsertInstances(ctx, []recurrence.Instance{instance("a", at(1, 9)), instance("a", at(2, 9))}))

	// WHEN: A transaction deletes them, then fails on a foreign key
	err := store.WithTx(ctx, func(tx recurrence.Store) error {
		n, err := tx.DeleteInstancesInRange(ctx, "a", at(1, 0), at(3, 0))
		require.NoError(t, err)
		require.Equal(t, 2, n)
		return tx.UpsertInstances(ctx, []recurrence.Instance{instance("ghost", at(1, 9))})
	})

	// THEN: The error is a storage failure and the delete is undone
	require.Error(t, err)
	assert.True(t, recurrence.IsStorageFailure(err))
	rows, err := store.LoadInstances(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMaterialize_OverSQLite(t *testing.T) {
	store := newTestStore(t, "a")
	ctx := context.Background()
	cache := recurrence.NewCacheManager(store, nil)

	res, err := cache.Materialize(ctx, "a", dailySpec("a"), at(1, 0), at(10, 23))
	require.NoError(t, err)
	assert.Equal(t, 10, res.Inserted)

	res, err = cache.Materialize(ctx, "a", dailySpec("a"), at(1, 0), at(10, 23))
	require.NoError(t, err)
	assert.Equal(t, 10, res.Deleted)
	assert.Equal(t, 10, res.Inserted)

	bad := dailySpec("a")
	bad.Rule = "FREQ=NEVER"
	_, err = cache.Materialize(ctx, "a", bad, at(1, 0), at(10, 23))
	assert.ErrorIs(t, err, recurrence.ErrInvalidRecurrenceRule)

	rows, err := store.LoadInstances(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestReconcile_OverSQLite(t *testing.T) {
	store := newTestStore(t, "a")
	ctx := context.Background()
	now := at(10, 12)
	cache := recurrence.NewCacheManager(store, nil)
	rec := recurrence.NewReconciler(cache)
	rec.Now = func() time.Time { return now }

	_, err := rec.Initialize(ctx, "a", dailySpec("a"))
	require.NoError(t, err)
	require.NoError(t, store.PutCompletion(ctx, recurrence.Completion{ItemID: "a", Key: "20240105T090000Z", Quantity: decimal.NewFromInt(1), CreatedAt: now, UpdatedAt: now}))

	next := dailySpec("a")
	next.Rule = ""
	res, err := rec.OnRuleUpdated(ctx, "a", dailySpec("a"), next)
	require.NoError(t, err)
	assert.Equal(t, 42, res.Deleted)

	rows, err := store.LoadInstances(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, rows, 10)
	c, err := store.GetCompletion(ctx, "a", "20240105T090000Z")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

// =============================================================================
// HOST TABLES
// =============================================================================

func TestSpecs_RoundTrip(t *testing.T) {
	store := newTestStore(t, "a", "b")
	ctx := context.Background()

	missing, err := store.GetSpec(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, missing)

	spec := dailySpec("a")
	spec.Additions = []string{"2024-01-15T18:00:00"}
	spec.DurationMinutes = 45
	require.NoError(t, store.SaveSpec(ctx, spec))
	require.NoError(t, store.SaveSpec(ctx, dailySpec("b")))

	got, err := store.GetSpec(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, spec.Equal(*got))
	assert.Empty(t, got.Exclusions)

	all, err := store.ListSpecs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, recurrence.ItemID("a"), all[0].ItemID)

	err = store.SaveSpec(ctx, dailySpec("ghost"))
	assert.ErrorIs(t, err, recurrence.ErrItemNotFound)
}

func TestItems_ActiveFilterAndCascade(t *testing.T) {
	store := newTestStore(t, "a")
	ctx := context.Background()

	active, err := store.IsActive(ctx, "a")
	require.NoError(t, err)
	assert.True(t, active)

	item, err := store.GetItem(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, item)
	item.Active = false
	require.NoError(t, store.SaveItem(ctx, *item))

	active, err = store.IsActive(ctx, "a")
	require.NoError(t, err)
	assert.False(t, active)

	unknown, err := store.IsActive(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, unknown)

	// Cascade
	require.NoError(t, store.SaveSpec(ctx, dailySpec("a")))
	require.NoError(t, store.UpsertInstances(ctx, []recurrence.Instance{instance("a", at(1, 9))}))
	require.NoError(t, store.PutCompletion(ctx, recurrence.Completion{ItemID: "a", Key: "20240101T090000Z", Quantity: decimal.NewFromInt(1), CreatedAt: at(1, 9), UpdatedAt: at(1, 9)}))

	require.NoError(t, store.DeleteItem(ctx, "a"))

	rows, err := store.LoadInstances(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, rows)
	cs, err := store.LoadCompletions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, cs)
	spec, err := store.GetSpec(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, spec)
	gone, err := store.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTracker_OverSQLite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tr := habit.NewTracker(store, habit.Config{Now: func() time.Time { return at(10, 12) }})

	h, err := tr.CreateHabit(ctx, "Stretch", dailySpec(""))
	require.NoError(t, err)

	for _, local := range []string{"2024-01-09T09:00", "2024-01-10T09:00"} {
		_, err = tr.CheckAt(ctx, h.ID, local, decimal.NewFromInt(1), "")
		require.NoError(t, err)
	}

	s, err := tr.Stats(ctx, h.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, s.CurrentStreak)
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 2, s.Completed)

	items, err := tr.ListHabits(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "FREQ=DAILY", items[0].Spec.Rule)
}
