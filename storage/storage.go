// Package storage defines the durable backend contract a strata stack is
// built over, together with the store-side error taxonomy.
//
// A Store is the single shared resource in a stack: every context resolves
// reads through it and every committed transaction lands a change set in
// it. Implementations live in internal/sqlstore (durable, SQLite) and
// internal/memstore (ephemeral, tests).
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/strata/query"
	"github.com/roach88/strata/record"
)

// Store is a durable record backend.
//
// Save applies a whole change set atomically: either every change lands or
// none does. Implementations must enforce version-based conflict detection
// (ConflictError) and any configured schema constraints (ValidationError).
//
// Implementations must be safe for concurrent use; strata serializes
// writers either through the serialization gate or through the store's own
// conflict detection, but readers run concurrently with writers.
type Store interface {
	// Save atomically applies cs. On failure nothing is applied and the
	// error is a *ValidationError, *ConflictError or *StoreError.
	Save(ctx context.Context, cs record.ChangeSet) error

	// Load returns the committed state of one record.
	// Returns ErrNoRecord when the ID is not persisted.
	Load(ctx context.Context, id record.ID) (record.Data, error)

	// Resolve returns the committed records matching spec's entity and
	// filter. Implementations may ignore spec's sort and paging; callers
	// re-apply them after overlay merging.
	Resolve(ctx context.Context, spec query.Spec) ([]record.Data, error)

	Close() error
}

// ErrNoRecord reports a Load of an ID with no committed state.
var ErrNoRecord = errors.New("storage: no such record")

// ValidationError reports a constraint violation detected at save time.
// The caller's pending changes remain intact; nothing was applied.
type ValidationError struct {
	Entity     string
	ID         record.ID
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.ID, strings.Join(e.Violations, "; "))
}

// ConflictError reports a concurrent modification: the change's base
// version no longer matches the stored version.
type ConflictError struct {
	ID       record.ID
	Expected int64 // base version the change was derived from
	Found    int64 // version currently stored; -1 when the record is gone
}

func (e *ConflictError) Error() string {
	if e.Found < 0 {
		return fmt.Sprintf("conflict on %s: base version %d, record deleted", e.ID, e.Expected)
	}
	return fmt.Sprintf("conflict on %s: base version %d, stored version %d", e.ID, e.Expected, e.Found)
}

// StoreError wraps a backend I/O or durability failure.
type StoreError struct {
	Op  string // "save", "load", "resolve"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
