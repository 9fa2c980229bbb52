package strata

import (
	"slices"

	"github.com/roach88/strata/record"
)

// Record is the context-local materialization of one logical record.
//
// A Record is bound to the context that materialized it: the same ID
// yields a distinct Record instance per context, and mutating one never
// affects another context's instance until the change commits and merges.
// Passing a Record to a different context directly is a contract
// violation; Context.Use is the sanctioned hand-off.
//
// Mutators must run inside work items on the owning context's lane (for
// update contexts, inside Perform blocks). Records of the main context
// are read-only by convention; mutate through a transaction.
type Record struct {
	owner *Context
	// data is guarded by owner.mu, same as the owner's cache.
	data    record.Data
	deleted bool
}

// ID returns the record's stable identifier.
func (r *Record) ID() record.ID { return r.data.ID }

// Entity returns the record's entity name.
func (r *Record) Entity() string { return r.data.ID.Entity }

// Context returns the owning context.
func (r *Record) Context() *Context { return r.owner }

// Version returns the store version this record was materialized from;
// 0 for records never persisted.
func (r *Record) Version() int64 {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	return r.data.Version
}

// Get returns the named property value, or nil when absent.
func (r *Record) Get(name string) any {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	return r.data.Get(name)
}

// Set assigns a property and marks the record pending in its context.
func (r *Record) Set(name string, value any) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.data.Properties[name] = value
	r.owner.markDirtyLocked(r)
}

// Unset removes a property.
func (r *Record) Unset(name string) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	delete(r.data.Properties, name)
	r.owner.markDirtyLocked(r)
}

// Snapshot returns a detached copy of the record's current data.
func (r *Record) Snapshot() record.Data {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	return r.data.Clone()
}

// Relate points the named to-one relationship at other. Both records
// must belong to the same context; route foreign records through Use
// first.
func (r *Record) Relate(name string, other *Record) error {
	if other.owner != r.owner {
		return &CrossContextError{ID: other.ID(), Reason: "record belongs to a different context"}
	}
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.data.ToOne[name] = other.ID()
	r.owner.markDirtyLocked(r)
	return nil
}

// Unrelate clears the named to-one relationship.
func (r *Record) Unrelate(name string) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	delete(r.data.ToOne, name)
	r.owner.markDirtyLocked(r)
}

// AddRelated appends other to the named to-many relationship, once.
func (r *Record) AddRelated(name string, other *Record) error {
	if other.owner != r.owner {
		return &CrossContextError{ID: other.ID(), Reason: "record belongs to a different context"}
	}
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	if slices.Contains(r.data.ToMany[name], other.ID()) {
		return nil
	}
	r.data.ToMany[name] = append(r.data.ToMany[name], other.ID())
	r.owner.markDirtyLocked(r)
	return nil
}

// RemoveRelated removes other from the named to-many relationship.
func (r *Record) RemoveRelated(name string, other *Record) error {
	if other.owner != r.owner {
		return &CrossContextError{ID: other.ID(), Reason: "record belongs to a different context"}
	}
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.data.ToMany[name] = slices.DeleteFunc(r.data.ToMany[name], func(id record.ID) bool {
		return id == other.ID()
	})
	r.owner.markDirtyLocked(r)
	return nil
}

// Delete marks the record deleted in its context. The deletion reaches
// the parent on the next save; until then the record is invisible to
// fetches in this context only.
func (r *Record) Delete() {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.deleted = true
	r.owner.markDeletedLocked(r)
}

// Deleted reports whether the record is marked deleted in its context.
func (r *Record) Deleted() bool {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	return r.deleted
}
