/*
reconcile.go - Rule-change reconciler

PURPOSE:
  Keeps the cache consistent with an item's Spec when its anchor, timezone,
  rule or RDATE/EXDATE sets change.

ALGORITHM (single transaction):
  1. Rolling window [now - Horizon, now + Horizon]
  2. Delete the item's instances with StartUTC >= now. Past instances are
     never deleted here: completion history references them.
  3. If the new spec is usable, materialize [now, now + Horizon]. The delete
     and the re-materialize share the lower bound "now", so there is neither
     a gap nor an overlap.

INCOMPLETE SPECS:
  A spec without anchor, timezone or rule still commits the delete, leaving
  no future occurrences until the next update. That is not an error.

SEE ALSO:
  - cache.go: materializeTx
*/
package recurrence

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHorizon is the half-width of the rolling reconciliation window.
const DefaultHorizon = 6 * 7 * 24 * time.Hour

// ReconcileResult describes one reconciliation.
type ReconcileResult struct {
	ItemID      ItemID
	Rolling     Window // [now - Horizon, now + Horizon]
	Deleted     int    // future instances removed
	Regenerated bool
	Inserted    int
	Skipped     bool // previous and next specs were identical
}

// Reconciler re-materializes items after spec changes.
type Reconciler struct {
	Store   TxStore
	Cache   *CacheManager
	Horizon time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// NewReconciler creates a Reconciler sharing the cache manager's store.
func NewReconciler(cache *CacheManager) *Reconciler {
	return &Reconciler{
		Store:   cache.Store,
		Cache:   cache,
		Horizon: DefaultHorizon,
		Now:     time.Now,
		Logger:  slog.Default(),
	}
}

// OnRuleUpdated reconciles the cache of itemID after its spec changed from
// previous to next.
func (r *Reconciler) OnRuleUpdated(ctx context.Context, itemID ItemID, previous, next Spec) (ReconcileResult, error) {
	now := r.now().UTC()
	horizon := r.horizon()
	result := ReconcileResult{
		ItemID:  itemID,
		Rolling: Window{Start: now.Add(-horizon), End: now.Add(horizon)},
	}

	if previous.Equal(next) {
		result.Skipped = true
		reconcileTotal.WithLabelValues("skipped").Inc()
		return result, nil
	}

	err := r.Store.WithTx(ctx, func(tx Store) error {
		deleted, err := tx.DeleteInstancesFrom(ctx, itemID, now)
		if err != nil {
			return storageErr("delete future instances", err)
		}
		result.Deleted = deleted

		if !next.Usable() {
			return nil
		}
		m, err := r.Cache.materializeTx(ctx, tx, itemID, next, now, now.Add(horizon))
		if err != nil {
			return err
		}
		result.Regenerated = true
		result.Inserted = m.Inserted
		return nil
	})
	if err != nil {
		reconcileTotal.WithLabelValues("failed").Inc()
		r.logger().Error("reconcile failed", "item", itemID, "err", err)
		return ReconcileResult{}, storageErr("reconcile", err)
	}

	outcome := "regenerated"
	if !result.Regenerated {
		outcome = "cleared"
	}
	reconcileTotal.WithLabelValues(outcome).Inc()
	r.logger().Info("reconciled item",
		"item", itemID,
		"outcome", outcome,
		"deleted", result.Deleted,
		"inserted", result.Inserted,
	)
	return result, nil
}

// Initialize is the creation path: it materializes the full rolling window
// so that recent history is available to streaks immediately.
func (r *Reconciler) Initialize(ctx context.Context, itemID ItemID, spec Spec) (MaterializeResult, error) {
	if !spec.Usable() {
		return MaterializeResult{ItemID: itemID}, nil
	}
	w := r.RollingWindow()
	return r.Cache.Materialize(ctx, itemID, spec, w.Start, w.End)
}

// RollingWindow is [now - Horizon, now + Horizon], the window Initialize
// materializes.
func (r *Reconciler) RollingWindow() Window {
	now := r.now().UTC()
	return Window{Start: now.Add(-r.horizon()), End: now.Add(r.horizon())}
}

// Refresh rolls the future horizon forward to [now, now + Horizon].
func (r *Reconciler) Refresh(ctx context.Context, itemID ItemID, spec Spec) (MaterializeResult, error) {
	if !spec.Usable() {
		return MaterializeResult{ItemID: itemID}, nil
	}
	now := r.now().UTC()
	return r.Cache.Materialize(ctx, itemID, spec, now, now.Add(r.horizon()))
}

func (r *Reconciler) horizon() time.Duration {
	if r.Horizon <= 0 {
		return DefaultHorizon
	}
	return r.Horizon
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
