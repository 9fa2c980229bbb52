package record

import (
	"slices"
	"strings"
)

// Op classifies one pending change.
type Op int

const (
	// OpInsert records a record created since the last save.
	OpInsert Op = iota + 1
	// OpUpdate records a mutation of an already-persisted record.
	OpUpdate
	// OpDelete records a deletion of an already-persisted record.
	OpDelete
)

// String returns "insert", "update" or "delete".
func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one pending operation on one record.
//
// Data carries the full post-image for inserts and updates and is unset
// for deletes. BaseVersion is the version the change was derived from;
// stores use it for conflict detection.
type Change struct {
	Op          Op
	ID          ID
	BaseVersion int64
	Data        Data
}

// ChangeSet is the unit a context pushes to its parent on save: at most
// one change per ID. Merging a later change for the same ID collapses
// per the usual overlay rules (insert+update = insert with new data,
// insert+delete = nothing, update+delete = delete).
type ChangeSet map[ID]Change

// Add merges ch into the set, collapsing with any prior change for the
// same ID.
func (cs ChangeSet) Add(ch Change) {
	prev, ok := cs[ch.ID]
	if !ok {
		cs[ch.ID] = ch
		return
	}
	switch {
	case prev.Op == OpInsert && ch.Op == OpDelete:
		// Never persisted, deleted before any save: cancels out.
		delete(cs, ch.ID)
	case prev.Op == OpInsert:
		ch.Op = OpInsert
		ch.BaseVersion = prev.BaseVersion
		cs[ch.ID] = ch
	default:
		ch.BaseVersion = prev.BaseVersion
		cs[ch.ID] = ch
	}
}

// Merge folds every change of other into cs, in other's stable ID order.
func (cs ChangeSet) Merge(other ChangeSet) {
	for _, id := range other.IDs() {
		cs.Add(other[id])
	}
}

// IDs returns the changed IDs in stable (string-sorted) order so that
// stores apply and log change sets deterministically.
func (cs ChangeSet) IDs() []ID {
	ids := make([]ID, 0, len(cs))
	for id := range cs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

// Clone deep-copies the set, including each change's Data.
func (cs ChangeSet) Clone() ChangeSet {
	out := make(ChangeSet, len(cs))
	for id, ch := range cs {
		ch.Data = ch.Data.Clone()
		out[id] = ch
	}
	return out
}
