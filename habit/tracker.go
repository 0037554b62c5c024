/*
tracker.go - Habit tracker facade

PURPOSE:
  The single entry point used by the HTTP API, the CLI and the scheduler.
  Wires the engine components over one Store and enforces item lifecycle:

    CreateHabit  -> save item + spec, Reconciler.Initialize
    UpdateSpec   -> validate, Reconciler.OnRuleUpdated, save spec
    RefreshAll   -> Reconciler.Refresh for every active item
    DeleteHabit  -> cascade (spec, cache, history)

  Completion and query operations check that the item exists and otherwise
  delegate to the engine unchanged.

SEE ALSO:
  - recurrence/reconcile.go
  - api/handlers.go: HTTP surface
  - cmd/recurctl: CLI surface
*/
package habit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/habit-engine/recurrence"
)

// DefaultAdherenceDays is the adherence window used when none is given.
const DefaultAdherenceDays = 30

// ErrHabitExists is returned when creating a habit with a taken ID.
var ErrHabitExists = errors.New("habit already exists")

// Config tunes a Tracker. Zero values select defaults.
type Config struct {
	Expand        recurrence.ExpandConfig
	Horizon       time.Duration
	AdherenceDays int
	Now           func() time.Time
	Logger        *slog.Logger
}

// Tracker wires the engine components over one Store.
type Tracker struct {
	Store         Store
	Expander      *recurrence.Expander
	Cache         *recurrence.CacheManager
	Reconciler    *recurrence.Reconciler
	Log           *recurrence.CompletionLog
	Calc          *recurrence.Calculator
	Agenda        *recurrence.Agenda
	AdherenceDays int
	Now           func() time.Time
	Logger        *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store Store, cfg Config) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	days := cfg.AdherenceDays
	if days <= 0 {
		days = DefaultAdherenceDays
	}

	expander := recurrence.NewExpander(cfg.Expand)

	cache := recurrence.NewCacheManager(store, expander)
	cache.Now = now
	cache.Logger = logger

	reconciler := recurrence.NewReconciler(cache)
	reconciler.Now = now
	reconciler.Logger = logger
	if cfg.Horizon > 0 {
		reconciler.Horizon = cfg.Horizon
	}

	log := recurrence.NewCompletionLog(store)
	log.Now = now
	log.Logger = logger

	calc := recurrence.NewCalculator(store)
	calc.Now = now

	return &Tracker{
		Store:         store,
		Expander:      expander,
		Cache:         cache,
		Reconciler:    reconciler,
		Log:           log,
		Calc:          calc,
		Agenda:        recurrence.NewAgenda(store, store),
		AdherenceDays: days,
		Now:           now,
		Logger:        logger,
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// CreateHabit stores a new item with its spec and materializes the rolling
// window. An empty spec.ItemID gets a fresh UUID.
func (t *Tracker) CreateHabit(ctx context.Context, title string, spec recurrence.Spec) (*Habit, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", recurrence.ErrInvalidSpec)
	}
	if spec.ItemID == "" {
		spec.ItemID = recurrence.ItemID(uuid.NewString())
	}
	if err := t.Expander.ValidateSpec(spec); err != nil {
		return nil, err
	}
	if spec.Usable() {
		w := t.Reconciler.RollingWindow()
		if _, err := t.Expander.Expand(spec, w.Start, w.End); err != nil {
			return nil, err
		}
	}

	existing, err := t.Store.GetItem(ctx, spec.ItemID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrHabitExists, spec.ItemID)
	}

	item := Item{ID: spec.ItemID, Title: title, Active: true}
	if err := t.Store.SaveItem(ctx, item); err != nil {
		return nil, err
	}
	if err := t.Store.SaveSpec(ctx, spec); err != nil {
		t.discard(ctx, spec.ItemID)
		return nil, err
	}
	res, err := t.Reconciler.Initialize(ctx, spec.ItemID, spec)
	if err != nil {
		t.discard(ctx, spec.ItemID)
		return nil, err
	}

	t.Logger.Info("habit created", "item", spec.ItemID, "title", title, "instances", res.Inserted)
	return t.GetHabit(ctx, spec.ItemID)
}

// discard removes a habit whose creation failed part way.
func (t *Tracker) discard(ctx context.Context, id recurrence.ItemID) {
	if err := t.Store.DeleteItem(ctx, id); err != nil {
		t.Logger.Error("failed to discard partly created habit", "item", id, "err", err)
	}
}

// GetHabit returns the item and its spec.
func (t *Tracker) GetHabit(ctx context.Context, id recurrence.ItemID) (*Habit, error) {
	item, err := t.item(ctx, id)
	if err != nil {
		return nil, err
	}
	spec, err := t.Store.GetSpec(ctx, id)
	if err != nil {
		return nil, err
	}
	h := &Habit{Item: *item, Spec: recurrence.Spec{ItemID: id}}
	if spec != nil {
		h.Spec = *spec
	}
	return h, nil
}

// ListHabits returns every habit, active or not.
func (t *Tracker) ListHabits(ctx context.Context) ([]Habit, error) {
	items, err := t.Store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	habits := make([]Habit, 0, len(items))
	for _, item := range items {
		spec, err := t.Store.GetSpec(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		h := Habit{Item: item, Spec: recurrence.Spec{ItemID: item.ID}}
		if spec != nil {
			h.Spec = *spec
		}
		habits = append(habits, h)
	}
	return habits, nil
}

// UpdateSpec replaces the spec of an item and reconciles its cache. The new
// spec is validated first, so an invalid spec changes nothing. If the
// reconcile fails, the previous spec is put back.
func (t *Tracker) UpdateSpec(ctx context.Context, id recurrence.ItemID, next recurrence.Spec) (recurrence.ReconcileResult, error) {
	if _, err := t.item(ctx, id); err != nil {
		return recurrence.ReconcileResult{}, err
	}
	next.ItemID = id
	if err := t.Expander.ValidateSpec(next); err != nil {
		return recurrence.ReconcileResult{}, err
	}

	previous := recurrence.Spec{ItemID: id}
	stored, err := t.Store.GetSpec(ctx, id)
	if err != nil {
		return recurrence.ReconcileResult{}, err
	}
	if stored != nil {
		previous = *stored
	}

	if previous.Equal(next) {
		return t.Reconciler.OnRuleUpdated(ctx, id, previous, next)
	}

	if err := t.Store.SaveSpec(ctx, next); err != nil {
		return recurrence.ReconcileResult{}, err
	}
	res, err := t.Reconciler.OnRuleUpdated(ctx, id, previous, next)
	if err != nil {
		if rerr := t.Store.SaveSpec(ctx, previous); rerr != nil {
			t.Logger.Error("failed to restore spec", "item", id, "err", rerr)
		}
		return recurrence.ReconcileResult{}, err
	}
	return res, nil
}

// SetActive archives or restores an item. Archived items keep their cache
// and history but are hidden from the agenda and skipped by RefreshAll.
func (t *Tracker) SetActive(ctx context.Context, id recurrence.ItemID, active bool) error {
	item, err := t.item(ctx, id)
	if err != nil {
		return err
	}
	item.Active = active
	return t.Store.SaveItem(ctx, *item)
}

// DeleteHabit removes an item together with its spec, cache and history.
func (t *Tracker) DeleteHabit(ctx context.Context, id recurrence.ItemID) error {
	if _, err := t.item(ctx, id); err != nil {
		return err
	}
	if err := t.Store.DeleteItem(ctx, id); err != nil {
		return err
	}
	t.Logger.Info("habit deleted", "item", id)
	return nil
}

// Reset removes every habit. Used by demo scenarios.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.Store.Reset(ctx); err != nil {
		return err
	}
	t.Logger.Warn("all habits removed")
	return nil
}

// RefreshAll rolls the horizon forward for every active item. Failures are
// collected and returned together; one bad item does not stop the others.
func (t *Tracker) RefreshAll(ctx context.Context) (int, error) {
	specs, err := t.Store.ListSpecs(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	refreshed := 0
	for _, spec := range specs {
		active, err := t.Store.IsActive(ctx, spec.ItemID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !active || !spec.Usable() {
			continue
		}
		if _, err := t.Reconciler.Refresh(ctx, spec.ItemID, spec); err != nil {
			t.Logger.Warn("refresh failed", "item", spec.ItemID, "err", err)
			errs = append(errs, fmt.Errorf("item %s: %w", spec.ItemID, err))
			continue
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}

// Materialize refreshes an explicit window of one item.
func (t *Tracker) Materialize(ctx context.Context, id recurrence.ItemID, from, to time.Time) (recurrence.MaterializeResult, error) {
	h, err := t.GetHabit(ctx, id)
	if err != nil {
		return recurrence.MaterializeResult{}, err
	}
	if !h.Spec.Usable() {
		return recurrence.MaterializeResult{ItemID: id, Window: recurrence.Window{Start: from, End: to}}, nil
	}
	return t.Cache.Materialize(ctx, id, h.Spec, from, to)
}

// Instances returns the cached instances of an item in [from, to].
func (t *Tracker) Instances(ctx context.Context, id recurrence.ItemID, from, to time.Time) ([]recurrence.Instance, error) {
	if _, err := t.item(ctx, id); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, recurrence.ErrInvalidWindow
	}
	return t.Store.LoadInstancesInRange(ctx, id, from, to)
}

// =============================================================================
// COMPLETIONS
// =============================================================================

// Check records a completion for an occurrence key.
func (t *Tracker) Check(ctx context.Context, id recurrence.ItemID, key recurrence.OccurrenceKey, quantity decimal.Decimal, note string) (recurrence.Completion, error) {
	if _, err := t.item(ctx, id); err != nil {
		return recurrence.Completion{}, err
	}
	return t.Log.Check(ctx, id, key, quantity, note)
}

// CheckAt records a completion for the occurrence at a local wall-clock
// time, read in the item's own timezone.
func (t *Tracker) CheckAt(ctx context.Context, id recurrence.ItemID, local string, quantity decimal.Decimal, note string) (recurrence.Completion, error) {
	key, err := t.KeyAt(ctx, id, local)
	if err != nil {
		return recurrence.Completion{}, err
	}
	return t.Log.Check(ctx, id, key, quantity, note)
}

// KeyAt derives the occurrence key of a local wall-clock time of an item.
func (t *Tracker) KeyAt(ctx context.Context, id recurrence.ItemID, local string) (recurrence.OccurrenceKey, error) {
	h, err := t.GetHabit(ctx, id)
	if err != nil {
		return "", err
	}
	at, err := recurrence.ToUTC(local, h.Spec.Timezone)
	if err != nil {
		return "", err
	}
	return recurrence.EncodeKey(at), nil
}

// Uncheck removes a completion. Absent completions are not an error.
func (t *Tracker) Uncheck(ctx context.Context, id recurrence.ItemID, key recurrence.OccurrenceKey) error {
	if _, err := t.item(ctx, id); err != nil {
		return err
	}
	return t.Log.Uncheck(ctx, id, key)
}

// SetQuantity checks with quantity, or unchecks when quantity <= 0.
func (t *Tracker) SetQuantity(ctx context.Context, id recurrence.ItemID, key recurrence.OccurrenceKey, quantity decimal.Decimal) (*recurrence.Completion, error) {
	if _, err := t.item(ctx, id); err != nil {
		return nil, err
	}
	return t.Log.SetQuantity(ctx, id, key, quantity)
}

// History returns every completion of an item.
func (t *Tracker) History(ctx context.Context, id recurrence.ItemID) ([]recurrence.Completion, error) {
	if _, err := t.item(ctx, id); err != nil {
		return nil, err
	}
	return t.Log.History(ctx, id)
}

// =============================================================================
// QUERIES
// =============================================================================

// Stats returns streaks and adherence. days <= 0 selects the default window.
func (t *Tracker) Stats(ctx context.Context, id recurrence.ItemID, days int) (recurrence.Summary, error) {
	if _, err := t.item(ctx, id); err != nil {
		return recurrence.Summary{}, err
	}
	if days <= 0 {
		days = t.AdherenceDays
	}
	return t.Calc.Summary(ctx, id, days)
}

// Day returns the pending / done split of one local calendar day.
func (t *Tracker) Day(ctx context.Context, day, tz string) (recurrence.DayAgenda, error) {
	return t.Agenda.Day(ctx, day, tz)
}

func (t *Tracker) item(ctx context.Context, id recurrence.ItemID) (*Item, error) {
	item, err := t.Store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", recurrence.ErrItemNotFound, id)
	}
	return item, nil
}
