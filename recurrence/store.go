/*
store.go - Persistence interfaces for the instance cache and completion log

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  InstanceStore:   The materialized occurrence cache (windowed delete + upsert)
  CompletionStore: The completion log (upsert / delete by key)
  TxStore:         Transactional operations (atomic multi-table writes)
  ItemFilter:      Owning-entity activity check, used by the agenda
  SpecStore:       Host-side persistence of Specs

WINDOW SEMANTICS:
  All window bounds are inclusive UTC instants. Instances are only ever
  deleted by window (or by cascade when the owner goes away).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - recurrence/store/memory.go: In-memory for testing

SEE ALSO:
  - cache.go: the only writer of Instance rows
  - completion.go: the only writer of Completion rows
*/
package recurrence

import (
	"context"
	"time"
)

// =============================================================================
// INSTANCE STORE
// =============================================================================

// InstanceStore persists materialized occurrences.
type InstanceStore interface {
	// DeleteInstancesInRange removes rows of itemID with StartUTC in [from, to].
	DeleteInstancesInRange(ctx context.Context, itemID ItemID, from, to time.Time) (int, error)

	// DeleteInstancesFrom removes rows of itemID with StartUTC >= from.
	DeleteInstancesFrom(ctx context.Context, itemID ItemID, from time.Time) (int, error)

	// UpsertInstances inserts or overwrites rows by (ItemID, Key).
	UpsertInstances(ctx context.Context, instances []Instance) error

	// LoadInstances returns all rows of itemID ordered by StartUTC ascending.
	LoadInstances(ctx context.Context, itemID ItemID) ([]Instance, error)

	// LoadInstancesInRange returns rows of itemID with StartUTC in [from, to], ascending.
	LoadInstancesInRange(ctx context.Context, itemID ItemID, from, to time.Time) ([]Instance, error)

	// LoadAllInstancesInRange returns rows of every item with StartUTC in
	// [from, to], ordered by StartUTC then ItemID.
	LoadAllInstancesInRange(ctx context.Context, from, to time.Time) ([]Instance, error)
}

// =============================================================================
// COMPLETION STORE
// =============================================================================

// CompletionStore persists the completion log.
type CompletionStore interface {
	// GetCompletion returns nil, nil when no row exists.
	GetCompletion(ctx context.Context, itemID ItemID, key OccurrenceKey) (*Completion, error)

	// PutCompletion inserts or overwrites the row for (ItemID, Key).
	PutCompletion(ctx context.Context, c Completion) error

	// DeleteCompletion removes the row if present. Absent rows are not an error.
	DeleteCompletion(ctx context.Context, itemID ItemID, key OccurrenceKey) error

	// LoadCompletions returns every row of itemID ordered by Key.
	LoadCompletions(ctx context.Context, itemID ItemID) ([]Completion, error)
}

// Store is the combined persistence surface of the engine.
type Store interface {
	InstanceStore
	CompletionStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// HOST-SIDE INTERFACES
// =============================================================================

// ItemFilter reports whether an owning entity is active (not soft-deleted,
// not archived). The engine never assumes anything else about owners.
type ItemFilter interface {
	IsActive(ctx context.Context, itemID ItemID) (bool, error)
}

// SpecStore persists the current Spec of each item.
type SpecStore interface {
	// GetSpec returns nil, nil when the item has no spec.
	GetSpec(ctx context.Context, itemID ItemID) (*Spec, error)
	SaveSpec(ctx context.Context, spec Spec) error
	ListSpecs(ctx context.Context) ([]Spec, error)
}
