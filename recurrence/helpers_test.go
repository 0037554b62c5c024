package recurrence_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/habit-engine/recurrence"
	"github.com/warp/habit-engine/recurrence/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// clock is a settable time source shared by every component of a fixture.
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time           { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	mem        *store.Memory
	clock      *clock
	cache      *recurrence.CacheManager
	log        *recurrence.CompletionLog
	calc       *recurrence.Calculator
	reconciler *recurrence.Reconciler
	agenda     *recurrence.Agenda
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clk := &clock{now: now}

	cache := recurrence.NewCacheManager(mem, recurrence.NewExpander(recurrence.ExpandConfig{}))
	cache.Now = clk.Now

	log := recurrence.NewCompletionLog(mem)
	log.Now = clk.Now

	calc := recurrence.NewCalculator(mem)
	calc.Now = clk.Now

	rec := recurrence.NewReconciler(cache)
	rec.Now = clk.Now

	return &fixture{
		mem:        mem,
		clock:      clk,
		cache:      cache,
		log:        log,
		calc:       calc,
		reconciler: rec,
		agenda:     recurrence.NewAgenda(mem, mem),
	}
}

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func dailySpec(item string, anchor string) recurrence.Spec {
	return recurrence.Spec{
		ItemID:      recurrence.ItemID(item),
		AnchorLocal: anchor,
		Timezone:    "UTC",
		Rule:        "FREQ=DAILY;INTERVAL=1",
	}
}

func keys(instances []recurrence.Instance) []recurrence.OccurrenceKey {
	out := make([]recurrence.OccurrenceKey, len(instances))
	for i, inst := range instances {
		out[i] = inst.Key
	}
	return out
}

func qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func loadAll(t *testing.T, f *fixture, item string) []recurrence.Instance {
	t.Helper()
	instances, err := f.mem.LoadInstances(context.Background(), recurrence.ItemID(item))
	require.NoError(t, err)
	return instances
}
