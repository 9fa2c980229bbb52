package strata

import (
	"errors"
	"fmt"

	"github.com/roach88/strata/record"
)

// Sentinel errors for errors.Is checks. The store-side taxonomy
// (ValidationError, ConflictError, StoreError) lives in the storage
// package; these cover failures detected by the context/transaction core.
var (
	// ErrNotFound reports a single-result fetch that matched zero or
	// more than one record.
	ErrNotFound = errors.New("strata: not found")

	// ErrTransactionClosed reports an operation on a transaction that
	// already resolved to Committed or Discarded.
	ErrTransactionClosed = errors.New("strata: transaction closed")

	// ErrAlreadyCommitted reports a second Commit after a successful
	// one with no new changes in between.
	ErrAlreadyCommitted = errors.New("strata: already committed")

	// ErrReentrantWait reports a blocking wait issued from inside the
	// lane it targets, which would deadlock.
	ErrReentrantWait = errors.New("strata: reentrant wait")

	// ErrStackClosed reports use of a stack after Close.
	ErrStackClosed = errors.New("strata: stack closed")
)

// NotFoundError reports a failed single-result fetch, carrying how many
// records actually matched. Matches == 0 distinguishes "nothing there"
// from an ambiguous multi-match.
type NotFoundError struct {
	Entity  string
	Matches int
}

func (e *NotFoundError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no %s record matches", e.Entity)
	}
	return fmt.Sprintf("fetch of one %s record matched %d", e.Entity, e.Matches)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CrossContextError reports a record hand-off that could not be resolved:
// the origin context is gone, or the ID no longer resolves in the
// receiving context's view.
type CrossContextError struct {
	ID     record.ID
	Reason string
}

func (e *CrossContextError) Error() string {
	return fmt.Sprintf("cannot use %s here: %s", e.ID, e.Reason)
}

// ReentrancyError reports a PerformAndWait issued from a work item
// already running on the same context's lane.
type ReentrancyError struct {
	Context string // role of the targeted context
}

func (e *ReentrancyError) Error() string {
	return fmt.Sprintf("blocking wait on %s context from its own work item", e.Context)
}

func (e *ReentrancyError) Is(target error) bool { return target == ErrReentrantWait }
