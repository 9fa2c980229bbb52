package strata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/strata/query"
	"github.com/roach88/strata/record"
	"github.com/roach88/strata/storage"
)

// Role distinguishes the three context kinds in a stack.
type Role int

const (
	// RoleRoot is the direct child of the store: long-lived, not
	// user-facing, the read-through cache every other context resolves
	// through.
	RoleRoot Role = iota + 1
	// RoleMain is the application's read path: long-lived child of root.
	RoleMain
	// RoleUpdate is a transaction's private write scope: short-lived
	// child of main or of another update context.
	RoleUpdate
)

func (r Role) String() string {
	switch r {
	case RoleRoot:
		return "root"
	case RoleMain:
		return "main"
	case RoleUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Context is an isolated, mutable overlay view of the record graph.
//
// Query resolution is layered: pending local changes first, then the
// parent's view, recursively down to the store. Every context therefore
// observes a consistent overlay of its ancestors, and no local change is
// visible anywhere else until saved.
//
// INVARIANTS:
//   - the pending set is empty immediately after a successful save or a
//     discard
//   - a Record instance never leaves its owning context; Use translates
//     by ID instead
type Context struct {
	role   Role
	stack  *Stack
	parent *Context // nil for root
	tx     *Transaction

	// lane serializes this context's work items; nil for root, whose
	// saves are already serialized by the gate or the store.
	lane *lane

	mu      sync.Mutex
	cache   map[record.ID]*Record
	pending record.ChangeSet
	stale   map[record.ID]struct{}
	closed  bool
}

func (s *Stack) newContext(role Role, parent *Context) *Context {
	c := &Context{
		role:    role,
		stack:   s,
		parent:  parent,
		cache:   make(map[record.ID]*Record),
		pending: make(record.ChangeSet),
		stale:   make(map[record.ID]struct{}),
	}
	if role != RoleRoot {
		c.lane = newLane(role.String(), s.logger)
	}
	return c
}

// Role returns the context's role in the stack.
func (c *Context) Role() Role { return c.role }

// Perform schedules fn on this context's serial lane and returns
// without waiting. Work items run one at a time in submission order,
// interleaved with merge deliveries.
func (c *Context) Perform(fn func()) error {
	if c.lane == nil {
		return errors.New("strata: root context does not schedule work")
	}
	return c.lane.perform(fn)
}

// PerformAndWait schedules fn on this context's serial lane and blocks
// until it has run. Calling it from inside one of this context's own
// work items fails with a ReentrancyError instead of deadlocking.
func (c *Context) PerformAndWait(fn func()) error {
	if c.lane == nil {
		return errors.New("strata: root context does not schedule work")
	}
	return c.lane.performAndWait(fn)
}

// Create allocates a new record with a provisional ID, visible only in
// this context until saved.
func (c *Context) Create(entity string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrTransactionClosed
	}
	id := c.stack.gen.NewID(entity)
	rec := &Record{owner: c, data: record.NewData(id)}
	c.cache[id] = rec
	c.pending.Add(record.Change{Op: record.OpInsert, ID: id})
	return rec, nil
}

// FetchAll resolves spec against local pending changes layered over the
// parent's view and returns the matching records bound to this context.
func (c *Context) FetchAll(ctx context.Context, spec query.Spec) ([]*Record, error) {
	if spec.IsAggregate() {
		return nil, fmt.Errorf("strata: aggregate spec passed to FetchAll; use Query")
	}
	rows, err := c.resolveData(ctx, spec)
	if err != nil {
		return nil, err
	}
	rows, err = query.Apply(spec, rows)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	out := make([]*Record, len(rows))
	for i, d := range rows {
		out[i] = c.materializeLocked(d)
	}
	c.mu.Unlock()

	if len(spec.Prefetch) > 0 {
		c.prefetch(ctx, out, spec.Prefetch)
	}
	return out, nil
}

// Get resolves one record by ID in this context's layered view.
// A missing or locally deleted ID fails with a NotFoundError.
func (c *Context) Get(ctx context.Context, id record.ID) (*Record, error) {
	rec, err := c.lookupRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Entity: id.Entity}
	}
	return rec, nil
}

// Fetch resolves spec expecting exactly one match. Zero matches or an
// ambiguous multi-match fail with a NotFoundError (errors.Is ErrNotFound)
// carrying the match count.
func (c *Context) Fetch(ctx context.Context, spec query.Spec) (*Record, error) {
	recs, err := c.FetchAll(ctx, spec.Unbounded())
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		return nil, &NotFoundError{Entity: spec.Entity, Matches: len(recs)}
	}
	return recs[0], nil
}

// FetchOrCreate fetches a single match; on zero matches it creates a new
// record seeded with the spec's equality terms. An ambiguous multi-match
// is re-raised unchanged.
//
// Calling it twice in sequence in the same context returns the same
// record the second time: the first call's pending insert satisfies the
// second call's fetch.
func (c *Context) FetchOrCreate(ctx context.Context, spec query.Spec) (*Record, error) {
	rec, err := c.Fetch(ctx, spec)
	if err == nil {
		return rec, nil
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Matches > 0 {
		return nil, err
	}

	rec, err = c.Create(spec.Entity)
	if err != nil {
		return nil, err
	}
	for field, value := range query.EqualityTerms(spec.Filter) {
		rec.Set(field, value)
	}
	return rec, nil
}

// Query resolves an aggregate spec (Select/GroupBy/Having) over this
// context's layered view and returns value rows.
func (c *Context) Query(ctx context.Context, spec query.Spec) ([]query.Row, error) {
	rows, err := c.resolveData(ctx, spec)
	if err != nil {
		return nil, err
	}
	return query.Evaluate(spec, rows)
}

// QueryValue resolves an aggregate spec and returns the value of its
// first select target, or nil when no row qualifies.
func (c *Context) QueryValue(ctx context.Context, spec query.Spec) (any, error) {
	rows, err := c.resolveData(ctx, spec)
	if err != nil {
		return nil, err
	}
	return query.Value(spec, rows)
}

// Use translates a record materialized in a different context into the
// equivalent record bound to this context, located by ID. This is the
// only sanctioned way to move object references across contexts.
//
// Fails with a CrossContextError when the origin context has been torn
// down or the ID does not resolve in this context's view.
func (c *Context) Use(ctx context.Context, foreign *Record) (*Record, error) {
	if foreign == nil {
		return nil, &CrossContextError{Reason: "nil record"}
	}
	if foreign.owner == c {
		return foreign, nil
	}
	if foreign.owner.isClosed() {
		return nil, &CrossContextError{ID: foreign.ID(), Reason: "origin context has been torn down"}
	}
	rec, err := c.lookupRecord(ctx, foreign.ID())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &CrossContextError{ID: foreign.ID(), Reason: "id does not resolve in this context"}
	}
	return rec, nil
}

// Save validates and pushes this context's pending changes one level
// down: a context nested in another update context merges into its
// parent's pending set; any other context's save reaches the store
// through root. A failed save leaves the pending set intact so the
// caller can correct and retry.
func (c *Context) Save(ctx context.Context) error {
	cs := c.buildChangeSet()
	if len(cs) == 0 {
		return nil
	}
	if c.parent != nil && c.parent.role == RoleUpdate {
		c.parent.adoptChanges(cs)
		c.clearPending(cs)
		return nil
	}
	return c.stack.saveToStore(ctx, c, cs)
}

// Reload refreshes (or evicts) this context's cached copies of all IDs
// marked stale by a manual-reload merge policy.
func (c *Context) Reload(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]record.ID, 0, len(c.stale))
	for id := range c.stale {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		d, err := c.parentLookup(ctx, id)
		c.mu.Lock()
		switch {
		case err == nil:
			if rec, ok := c.cache[id]; ok {
				if _, dirty := c.pending[id]; !dirty {
					rec.data = d.Clone()
				}
			}
		case errors.Is(err, storage.ErrNoRecord):
			if rec, ok := c.cache[id]; ok {
				rec.deleted = true
			}
			delete(c.cache, id)
		default:
			c.mu.Unlock()
			return err
		}
		delete(c.stale, id)
		c.mu.Unlock()
	}
	return nil
}

// StaleIDs returns the IDs whose cached copies are outdated under the
// manual-reload merge policy, in stable order.
func (c *Context) StaleIDs() []record.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]record.ID, 0, len(c.stale))
	for id := range c.stale {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b record.ID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

// resolveData returns the data rows matching spec's entity and filter in
// this context's layered view: parent rows with local deletions removed,
// local modifications substituted and local inserts appended. Sort and
// paging are applied by the caller at the top of the chain.
func (c *Context) resolveData(ctx context.Context, spec query.Spec) ([]record.Data, error) {
	var base []record.Data
	var err error
	if c.parent == nil {
		base, err = c.stack.store.Resolve(ctx, spec.Unbounded())
	} else {
		base, err = c.parent.resolveData(ctx, spec.Unbounded())
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := base[:0]
	for _, d := range base {
		if _, overridden := c.pending[d.ID]; overridden {
			continue
		}
		if rec, ok := c.cache[d.ID]; ok && rec.deleted {
			continue
		}
		out = append(out, d)
	}
	for id, ch := range c.pending {
		if ch.Op == record.OpDelete {
			continue
		}
		rec, ok := c.cache[id]
		if !ok || rec.deleted {
			continue
		}
		if spec.Entity != "" && id.Entity != spec.Entity {
			continue
		}
		match, err := query.Match(spec.Filter, rec.data)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, rec.data.Clone())
		}
	}
	return out, nil
}

// lookupRecord resolves one ID in this context's layered view and
// materializes it locally. Returns (nil, nil) when the ID does not
// resolve.
func (c *Context) lookupRecord(ctx context.Context, id record.ID) (*Record, error) {
	c.mu.Lock()
	if rec, ok := c.cache[id]; ok {
		defer c.mu.Unlock()
		if rec.deleted {
			return nil, nil
		}
		return rec, nil
	}
	if ch, ok := c.pending[id]; ok && ch.Op == record.OpDelete {
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()

	d, err := c.parentLookup(ctx, id)
	if errors.Is(err, storage.ErrNoRecord) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.materializeLocked(d), nil
}

// parentLookup resolves one ID strictly in the parent's view (or the
// store, for root), returning a detached clone.
func (c *Context) parentLookup(ctx context.Context, id record.ID) (record.Data, error) {
	if c.parent == nil {
		return c.stack.store.Load(ctx, id)
	}
	rec, err := c.parent.lookupRecord(ctx, id)
	if err != nil {
		return record.Data{}, err
	}
	if rec == nil {
		return record.Data{}, storage.ErrNoRecord
	}
	return rec.Snapshot(), nil
}

// materializeLocked binds one data row to this context, reusing the
// cached instance when present. Clean cached instances are refreshed
// with the newer row unless the ID is marked stale (manual-reload keeps
// old copies until Reload).
func (c *Context) materializeLocked(d record.Data) *Record {
	if rec, ok := c.cache[d.ID]; ok {
		_, dirty := c.pending[d.ID]
		_, isStale := c.stale[d.ID]
		if !dirty && !isStale && !rec.deleted {
			rec.data = d.Clone()
		}
		return rec
	}
	rec := &Record{owner: c, data: d.Clone()}
	c.cache[d.ID] = rec
	return rec
}

func (c *Context) prefetch(ctx context.Context, recs []*Record, relations []string) {
	for _, rec := range recs {
		for _, rel := range relations {
			c.mu.Lock()
			target, ok := rec.data.ToOne[rel]
			c.mu.Unlock()
			if !ok {
				continue
			}
			// A dangling relation is not a fetch failure; the miss
			// simply leaves the relation unmaterialized.
			if _, err := c.lookupRecord(ctx, target); err != nil {
				c.stack.logger.Debug("prefetch failed",
					"record", rec.ID(), "relation", rel, "error", err)
			}
		}
	}
}

// Related resolves a record's to-one relationship within this context.
// Returns nil when the relation is unset or dangling.
func (c *Context) Related(ctx context.Context, rec *Record, relation string) (*Record, error) {
	if rec.owner != c {
		return nil, &CrossContextError{ID: rec.ID(), Reason: "record belongs to a different context"}
	}
	c.mu.Lock()
	target, ok := rec.data.ToOne[relation]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return c.lookupRecord(ctx, target)
}

// RelatedAll resolves a record's to-many relationship within this
// context, skipping dangling members.
func (c *Context) RelatedAll(ctx context.Context, rec *Record, relation string) ([]*Record, error) {
	if rec.owner != c {
		return nil, &CrossContextError{ID: rec.ID(), Reason: "record belongs to a different context"}
	}
	c.mu.Lock()
	targets := slices.Clone(rec.data.ToMany[relation])
	c.mu.Unlock()

	out := make([]*Record, 0, len(targets))
	for _, id := range targets {
		r, err := c.lookupRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// markDirtyLocked records a mutation of rec in the pending set.
// Caller holds c.mu.
func (c *Context) markDirtyLocked(rec *Record) {
	if rec.deleted {
		return
	}
	op := record.OpUpdate
	if rec.data.Version == 0 {
		op = record.OpInsert
	}
	c.pending.Add(record.Change{Op: op, ID: rec.data.ID, BaseVersion: rec.data.Version})
}

// markDeletedLocked records a deletion of rec. Caller holds c.mu.
func (c *Context) markDeletedLocked(rec *Record) {
	c.pending.Add(record.Change{Op: record.OpDelete, ID: rec.data.ID, BaseVersion: rec.data.Version})
}

// buildChangeSet assembles the pending set for a save, filling each
// insert/update with the current post-image from the cache.
func (c *Context) buildChangeSet() record.ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := make(record.ChangeSet, len(c.pending))
	for id, ch := range c.pending {
		if ch.Op != record.OpDelete {
			rec, ok := c.cache[id]
			if !ok || rec.deleted {
				continue
			}
			ch.Data = rec.data.Clone()
		}
		cs[id] = ch
	}
	return cs
}

// adoptChanges merges a child context's saved change set into this
// context's cache and pending set. This is how a nested transaction's
// commit becomes durable pending state of its enclosing update context.
func (c *Context) adoptChanges(cs record.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range cs.IDs() {
		ch := cs[id]
		if ch.Op == record.OpDelete {
			if rec, ok := c.cache[id]; ok {
				rec.deleted = true
			}
			c.pending.Add(record.Change{Op: record.OpDelete, ID: id, BaseVersion: ch.BaseVersion})
			continue
		}
		if rec, ok := c.cache[id]; ok {
			rec.data = ch.Data.Clone()
			rec.deleted = false
		} else {
			c.cache[id] = &Record{owner: c, data: ch.Data.Clone()}
		}
		c.pending.Add(record.Change{Op: ch.Op, ID: id, BaseVersion: ch.BaseVersion})
	}
}

// absorbCommitted applies a successfully stored change set back to the
// committing context: versions bump, deletions evict, pending clears.
func (c *Context) absorbCommitted(applied record.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range applied {
		rec, ok := c.cache[id]
		if ch.Op == record.OpDelete {
			delete(c.cache, id)
		} else if ok {
			rec.data.Version = ch.Data.Version
		}
		delete(c.pending, id)
	}
}

// absorb refreshes this context's cache from a committed change set
// without touching its pending state. Root uses it to stay a faithful
// cache of the store.
func (c *Context) absorb(applied record.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range applied {
		if ch.Op == record.OpDelete {
			if rec, ok := c.cache[id]; ok {
				rec.deleted = true
			}
			delete(c.cache, id)
			continue
		}
		if rec, ok := c.cache[id]; ok {
			rec.data = ch.Data.Clone()
		} else if c.role == RoleRoot {
			c.cache[id] = &Record{owner: c, data: ch.Data.Clone()}
		}
	}
}

// applyMerge refreshes cached copies after another context's commit.
// IDs with local pending changes are skipped: isolation means local
// changes win until this context itself saves or discards.
func (c *Context) applyMerge(applied record.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	for id, ch := range applied {
		if _, dirty := c.pending[id]; dirty {
			continue
		}
		rec, ok := c.cache[id]
		if !ok {
			continue
		}
		if ch.Op == record.OpDelete {
			rec.deleted = true
			delete(c.cache, id)
			continue
		}
		rec.data = ch.Data.Clone()
	}
}

// markStale flags the change set's IDs for a later explicit Reload.
func (c *Context) markStale(applied record.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for id, ch := range applied {
		if _, dirty := c.pending[id]; dirty {
			continue
		}
		if _, cached := c.cache[id]; !cached && ch.Op == record.OpDelete {
			continue
		}
		c.stale[id] = struct{}{}
	}
}

func (c *Context) clearPending(cs record.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range cs {
		delete(c.pending, id)
	}
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close tears the context down: pending changes are dropped, the lane
// drains and stops, and merge broadcasts no longer reach it.
func (c *Context) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(record.ChangeSet)
	c.mu.Unlock()

	c.stack.bcast.unregister(c)
	if c.lane != nil {
		c.lane.close()
	}
}
