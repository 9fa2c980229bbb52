package strata

import (
	"context"
	"errors"
	"sync"
)

// Outcome is a transaction's terminal state.
type Outcome int

const (
	// OutcomeOpen means the transaction has not resolved yet.
	OutcomeOpen Outcome = iota
	// OutcomeCommitted means at least one Commit succeeded before Close.
	OutcomeCommitted
	// OutcomeDiscarded means Close dropped the pending changes.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomeCommitted:
		return "committed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Transaction is a unit-of-work: a private update context plus the
// scheduling surface that runs work against it on a serial lane.
//
// A transaction that is closed without a successful commit discards all
// of its uncommitted changes; discard is the default path, not an
// error. Close is idempotent.
type Transaction struct {
	stack *Stack
	uc    *Context

	mu        sync.Mutex
	outcome   Outcome
	committed bool
	children  []*Transaction
	workErr   error
}

// BeginTransaction opens a transaction scoped to this context. On the
// main context this starts a top-level transaction whose commit reaches
// the store; inside an update context it starts a nested transaction
// whose commit merges into the enclosing one.
func (c *Context) BeginTransaction() (*Transaction, error) {
	if c.role == RoleRoot {
		return nil, errors.New("strata: transactions begin on the main context, not root")
	}
	if c.isClosed() {
		return nil, ErrTransactionClosed
	}
	t := &Transaction{stack: c.stack}
	t.uc = c.stack.newContext(RoleUpdate, c)
	t.uc.tx = t
	c.stack.bcast.register(t.uc)
	if c.tx != nil {
		c.tx.addChild(t)
	}
	return t, nil
}

func (t *Transaction) addChild(child *Transaction) {
	t.mu.Lock()
	t.children = append(t.children, child)
	t.mu.Unlock()
}

// Context returns the transaction's private update context. Records
// fetched or created through it are invisible outside the transaction
// until commit.
func (t *Transaction) Context() *Context { return t.uc }

// Outcome reports whether the transaction is still open, committed, or
// discarded.
func (t *Transaction) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Err returns the first error returned by a unit of work scheduled with
// Perform, if any.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workErr
}

// Perform schedules work on the transaction's lane and returns without
// waiting for it. Work items run one at a time in submission order; a
// work error is retained and readable through Err.
func (t *Transaction) Perform(work func(tx *Transaction) error) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.uc.lane.perform(func() {
		if err := t.checkOpen(); err != nil {
			return
		}
		if err := work(t); err != nil {
			t.recordWorkErr(err)
		}
	})
}

// PerformAndWait schedules work on the transaction's lane, blocks until
// it has run, and returns the work's error. Calling it from inside one
// of this transaction's own work items fails with a ReentrancyError
// instead of deadlocking.
func (t *Transaction) PerformAndWait(work func(tx *Transaction) error) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	var workErr error
	if err := t.uc.lane.performAndWait(func() {
		if err := t.checkOpen(); err != nil {
			workErr = err
			return
		}
		workErr = work(t)
	}); err != nil {
		return err
	}
	if workErr != nil {
		t.recordWorkErr(workErr)
	}
	return workErr
}

// Commit saves the transaction's pending changes one level down: to the
// store for a top-level transaction, into the enclosing update context
// for a nested one. A failed commit leaves the pending changes intact
// for correction and retry; the transaction stays open either way, so a
// transaction may commit multiple times before Close.
//
// Committing with nothing pending succeeds as a no-op, except that a
// second no-op commit after a successful one fails with
// ErrAlreadyCommitted.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.uc.lane.onWorker() {
		return t.commitNow(ctx)
	}
	var cerr error
	if err := t.uc.lane.performAndWait(func() {
		cerr = t.commitNow(ctx)
	}); err != nil {
		return err
	}
	return cerr
}

func (t *Transaction) commitNow(ctx context.Context) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	cs := t.uc.buildChangeSet()
	if len(cs) == 0 {
		t.mu.Lock()
		already := t.committed
		t.mu.Unlock()
		if already {
			return ErrAlreadyCommitted
		}
	}
	if err := t.uc.Save(ctx); err != nil {
		t.stack.logger.Warn("commit failed",
			"context", t.uc.role.String(), "changes", len(cs), "error", err)
		return err
	}
	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	t.stack.logger.Debug("commit applied", "changes", len(cs))
	return nil
}

// Close resolves the transaction: committed if a Commit succeeded,
// discarded otherwise. Uncommitted pending changes are dropped, open
// nested transactions are force-closed first, the lane drains and
// stops. Idempotent.
func (t *Transaction) Close() error {
	t.mu.Lock()
	if t.outcome != OutcomeOpen {
		t.mu.Unlock()
		return nil
	}
	children := t.children
	t.children = nil
	if t.committed {
		t.outcome = OutcomeCommitted
	} else {
		t.outcome = OutcomeDiscarded
	}
	outcome := t.outcome
	t.mu.Unlock()

	for _, child := range children {
		child.Close()
	}
	t.uc.close()
	t.stack.logger.Debug("transaction resolved", "outcome", outcome.String())
	return nil
}

func (t *Transaction) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome != OutcomeOpen {
		return ErrTransactionClosed
	}
	return nil
}

// recordWorkErr keeps the first work error for Err.
func (t *Transaction) recordWorkErr(err error) {
	t.mu.Lock()
	if t.workErr == nil {
		t.workErr = err
	}
	t.mu.Unlock()
}

// BeginUpdate is the one-shot asynchronous form: it opens a
// transaction, schedules work on its lane, and closes the transaction
// after the work has run. The work commits explicitly via tx.Commit;
// returning without committing discards.
func (c *Context) BeginUpdate(work func(tx *Transaction) error) error {
	tx, err := c.BeginTransaction()
	if err != nil {
		return err
	}
	return tx.uc.lane.perform(func() {
		if err := work(tx); err != nil {
			tx.recordWorkErr(err)
		}
		tx.Close()
	})
}

// BeginUpdateAndWait is the one-shot synchronous form of BeginUpdate:
// it blocks until the work has run and returns the work's error. The
// transaction is closed before it returns.
func (c *Context) BeginUpdateAndWait(work func(tx *Transaction) error) error {
	tx, err := c.BeginTransaction()
	if err != nil {
		return err
	}
	defer tx.Close()
	return tx.PerformAndWait(work)
}
