/*
habit.go - Habit host types

PURPOSE:
  A habit is the owning entity of one recurrence: an Item (title, active
  flag) plus its Spec. The engine in package recurrence only sees ItemIDs;
  this package supplies the minimal owner model and the tracker that ties
  item lifecycle to cache reconciliation.

STORAGE:
  Store bundles everything the tracker needs. Both store/sqlite and
  recurrence/store implement it.

SEE ALSO:
  - tracker.go: Operations
  - recurrence/reconcile.go: What runs on create / update
*/
package habit

import (
	"context"
	"time"

	"github.com/warp/habit-engine/recurrence"
)

// Item is the owning entity of a recurrence.
type Item struct {
	ID        recurrence.ItemID
	Title     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Habit is an item joined with its current spec.
type Habit struct {
	Item
	Spec recurrence.Spec
}

// ItemStore persists owning entities.
type ItemStore interface {
	SaveItem(ctx context.Context, item Item) error

	// GetItem returns nil, nil when the item does not exist.
	GetItem(ctx context.Context, id recurrence.ItemID) (*Item, error)

	ListItems(ctx context.Context) ([]Item, error)

	// DeleteItem removes the item and everything it owns.
	DeleteItem(ctx context.Context, id recurrence.ItemID) error

	// Reset removes every item and everything they own.
	Reset(ctx context.Context) error
}

// Store is the full persistence surface of the tracker.
type Store interface {
	recurrence.TxStore
	recurrence.SpecStore
	recurrence.ItemFilter
	ItemStore
}
