/*
errors.go - Centralized error types for the recurrence engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the engine never swallows
  an expansion or storage error and never performs partial writes.

ERROR CATEGORIES:
  1. Input errors - bad rule, timestamp, timezone, window, quantity
  2. Store errors - persistence failures (transaction rolled back)

SEE ALSO:
  - store/sqlite/sqlite.go: wraps driver errors in StorageError
  - api/handlers.go: maps categories to HTTP status codes
*/
package recurrence

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRecurrenceRule is returned when a rule does not parse or
	// cannot be anchored.
	ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")

	// ErrInvalidTimestamp is returned for a malformed local date-time.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrUnknownTimezone is returned for an unrecognized IANA identifier.
	ErrUnknownTimezone = errors.New("unknown timezone")

	// ErrStorageFailure is returned when the underlying store fails.
	// The surrounding transaction has been rolled back.
	ErrStorageFailure = errors.New("storage failure")

	// ErrInvalidWindow is returned when a window ends before it starts.
	ErrInvalidWindow = errors.New("invalid window: end before start")

	// ErrInvalidQuantity is returned when checking with a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidOccurrenceKey is returned when a key is not in codec format.
	ErrInvalidOccurrenceKey = errors.New("invalid occurrence key")

	// ErrInvalidSpec is returned for structurally invalid specs (negative duration).
	ErrInvalidSpec = errors.New("invalid recurrence spec")

	// ErrTooManyOccurrences is returned when an expansion exceeds the safety cap.
	ErrTooManyOccurrences = errors.New("too many occurrences in window")

	// ErrItemNotFound is returned by host stores when an item does not exist.
	ErrItemNotFound = errors.New("item not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleError describes a rule that failed to parse or anchor.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid recurrence rule %q", e.Rule)
	}
	return fmt.Sprintf("invalid recurrence rule %q: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRecurrenceRule }

// TimestampError describes a local date-time that could not be parsed.
// Field names the spec field or query boundary it came from.
type TimestampError struct {
	Field string
	Value string
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp in %s: %q", e.Field, e.Value)
}

func (e *TimestampError) Unwrap() error { return ErrInvalidTimestamp }

// StorageError wraps a persistence failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the driver error.
func (e *StorageError) Unwrap() []error { return []error{ErrStorageFailure, e.Err} }

// storageErr wraps err unless it already carries a typed failure.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageFailure) || IsClientError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRecurrenceRule) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrUnknownTimezone) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidOccurrenceKey) ||
		errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, ErrTooManyOccurrences)
}

// IsStorageFailure returns true if the error came from the store.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}

// IsNotFound returns true if the error indicates a missing item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}
