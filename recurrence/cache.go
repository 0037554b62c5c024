/*
cache.go - Instance cache manager

PURPOSE:
  Owns the materialized view of occurrences. Materialize is the ONLY
  writer of Instance rows.

TRANSACTION:
  One window refresh is one store transaction:
    1. Expand the spec over the window
    2. Delete the item's rows with StartUTC in the window
    3. Build rows (key, end, generated-at)
    4. Upsert by (ItemID, Key)
  Any failure rolls back the delete and the insert together, leaving the
  prior cache state for that window untouched.

IDEMPOTENCY:
  Re-running with the same arguments yields the same final row set.
  Rows outside the window are never touched.

COMPLETION LOG:
  Never touched here, even when an occurrence disappears from the rule.
  Completion history outlives recurrence-shape changes.
*/
package recurrence

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/mo"
)

// MaterializeResult describes one window refresh.
type MaterializeResult struct {
	ItemID   ItemID
	Window   Window
	Deleted  int
	Inserted int
}

// CacheManager materializes occurrences into a TxStore.
type CacheManager struct {
	Store    TxStore
	Expander *Expander
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewCacheManager creates a CacheManager with default expansion settings.
func NewCacheManager(store TxStore, expander *Expander) *CacheManager {
	if expander == nil {
		expander = NewExpander(ExpandConfig{})
	}
	return &CacheManager{
		Store:    store,
		Expander: expander,
		Now:      time.Now,
		Logger:   slog.Default(),
	}
}

// Materialize refreshes the cached instances of itemID in [windowStart, windowEnd].
func (m *CacheManager) Materialize(ctx context.Context, itemID ItemID, spec Spec, windowStart, windowEnd time.Time) (MaterializeResult, error) {
	var result MaterializeResult
	err := m.Store.WithTx(ctx, func(tx Store) error {
		r, err := m.materializeTx(ctx, tx, itemID, spec, windowStart, windowEnd)
		result = r
		return err
	})
	if err != nil {
		return MaterializeResult{}, storageErr("materialize", err)
	}
	m.logger().Debug("materialized window",
		"item", itemID,
		"from", windowStart.UTC(),
		"to", windowEnd.UTC(),
		"deleted", result.Deleted,
		"inserted", result.Inserted,
	)
	return result, nil
}

// materializeTx runs the refresh inside an existing transaction, so the
// reconciler can combine it with its own delete.
func (m *CacheManager) materializeTx(ctx context.Context, tx Store, itemID ItemID, spec Spec, windowStart, windowEnd time.Time) (MaterializeResult, error) {
	started := time.Now()
	defer func() { materializeDuration.Observe(time.Since(started).Seconds()) }()

	instants, err := m.Expander.Expand(spec, windowStart, windowEnd)
	if err != nil {
		expansionFailures.Inc()
		return MaterializeResult{}, err
	}

	deleted, err := tx.DeleteInstancesInRange(ctx, itemID, windowStart, windowEnd)
	if err != nil {
		return MaterializeResult{}, storageErr("delete instances", err)
	}

	generatedAt := m.now().UTC()
	rows := make([]Instance, 0, len(instants))
	for _, start := range instants {
		rows = append(rows, buildInstance(itemID, spec, start, generatedAt))
	}
	if len(rows) > 0 {
		if err := tx.UpsertInstances(ctx, rows); err != nil {
			return MaterializeResult{}, storageErr("upsert instances", err)
		}
	}
	instancesWritten.Add(float64(len(rows)))

	return MaterializeResult{
		ItemID:   itemID,
		Window:   Window{Start: windowStart, End: windowEnd},
		Deleted:  deleted,
		Inserted: len(rows),
	}, nil
}

func buildInstance(itemID ItemID, spec Spec, start, generatedAt time.Time) Instance {
	end := mo.None[time.Time]()
	if spec.DurationMinutes > 0 {
		end = mo.Some(start.Add(spec.Duration()))
	}
	return Instance{
		ItemID:      itemID,
		Key:         EncodeKey(start),
		StartUTC:    start,
		EndUTC:      end,
		IsException: false,
		GeneratedAt: generatedAt,
	}
}

func (m *CacheManager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *CacheManager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
