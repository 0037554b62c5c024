package recurrence

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// CompletionLog records quantity-bearing completions per occurrence.
//
// All operations are idempotent: repeating one with identical arguments
// leaves the row identical apart from UpdatedAt. No existence check against
// the instance cache is made, so a key with no backing Instance is a valid
// historical record.
type CompletionLog struct {
	Store  TxStore
	Now    func() time.Time
	Logger *slog.Logger
}

// NewCompletionLog creates a CompletionLog over store.
func NewCompletionLog(store TxStore) *CompletionLog {
	return &CompletionLog{Store: store, Now: time.Now, Logger: slog.Default()}
}

// Check upserts the completion for (itemID, key). CreatedAt is carried over
// from an existing row; Quantity, Note and UpdatedAt are overwritten.
func (l *CompletionLog) Check(ctx context.Context, itemID ItemID, key OccurrenceKey, quantity decimal.Decimal, note string) (Completion, error) {
	if !quantity.IsPositive() {
		return Completion{}, ErrInvalidQuantity
	}
	if !ValidKey(key) {
		return Completion{}, ErrInvalidOccurrenceKey
	}

	var written Completion
	err := l.Store.WithTx(ctx, func(tx Store) error {
		now := l.now().UTC()
		c := Completion{
			ItemID:    itemID,
			Key:       key,
			Quantity:  quantity,
			Note:      note,
			CreatedAt: now,
			UpdatedAt: now,
		}
		existing, err := tx.GetCompletion(ctx, itemID, key)
		if err != nil {
			return storageErr("get completion", err)
		}
		if existing != nil {
			c.CreatedAt = existing.CreatedAt
		}
		if err := tx.PutCompletion(ctx, c); err != nil {
			return storageErr("put completion", err)
		}
		written = c
		return nil
	})
	if err != nil {
		return Completion{}, storageErr("check", err)
	}
	completionWrites.WithLabelValues("check").Inc()
	l.logger().Debug("occurrence checked", "item", itemID, "key", key, "quantity", quantity.String())
	return written, nil
}

// Uncheck removes the completion for (itemID, key). Absent rows are a no-op.
func (l *CompletionLog) Uncheck(ctx context.Context, itemID ItemID, key OccurrenceKey) error {
	if !ValidKey(key) {
		return ErrInvalidOccurrenceKey
	}
	if err := l.Store.DeleteCompletion(ctx, itemID, key); err != nil {
		return storageErr("uncheck", err)
	}
	completionWrites.WithLabelValues("uncheck").Inc()
	l.logger().Debug("occurrence unchecked", "item", itemID, "key", key)
	return nil
}

// SetQuantity makes quantity-based and boolean completion the same
// primitive: a non-positive quantity unchecks, anything else checks with
// that quantity and no note. The returned completion is nil after an uncheck.
func (l *CompletionLog) SetQuantity(ctx context.Context, itemID ItemID, key OccurrenceKey, quantity decimal.Decimal) (*Completion, error) {
	if !quantity.IsPositive() {
		return nil, l.Uncheck(ctx, itemID, key)
	}
	c, err := l.Check(ctx, itemID, key, quantity, "")
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns the completion for (itemID, key), or nil when pending.
func (l *CompletionLog) Get(ctx context.Context, itemID ItemID, key OccurrenceKey) (*Completion, error) {
	c, err := l.Store.GetCompletion(ctx, itemID, key)
	if err != nil {
		return nil, storageErr("get completion", err)
	}
	return c, nil
}

// History returns every completion of itemID, oldest occurrence first,
// including those whose instance is no longer cached.
func (l *CompletionLog) History(ctx context.Context, itemID ItemID) ([]Completion, error) {
	cs, err := l.Store.LoadCompletions(ctx, itemID)
	if err != nil {
		return nil, storageErr("load completions", err)
	}
	return cs, nil
}

func (l *CompletionLog) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *CompletionLog) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
