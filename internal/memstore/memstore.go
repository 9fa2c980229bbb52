// Package memstore provides an in-memory implementation of the storage
// contract, used for tests and ephemeral stacks.
//
// It enforces the same rules as the durable store: atomic change sets,
// version-based conflict detection, schema validation and unique property
// sets. Every boundary crossing clones record data, so callers never
// alias store-owned maps.
package memstore

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/query"
	"github.com/roach88/strata/record"
	"github.com/roach88/strata/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is a mutex-guarded in-memory record store.
type Store struct {
	mu      sync.RWMutex
	records map[record.ID]record.Data
	unique  map[string]record.ID // canonical unique key → holder
	schema  schema.Set
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithSchema enables schema validation and unique constraints.
func WithSchema(s schema.Set) Option {
	return func(st *Store) { st.schema = s }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[record.ID]record.Data),
		unique:  make(map[string]record.ID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save atomically applies cs: the whole set is validated first, then
// applied under one lock. On any failure nothing is applied.
func (s *Store) Save(ctx context.Context, cs record.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return &storage.StoreError{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &storage.StoreError{Op: "save", Err: storage.ErrNoRecord}
	}

	ids := cs.IDs()

	// Phase 1: conflicts and validation, nothing mutated yet.
	for _, id := range ids {
		ch := cs[id]
		current, exists := s.records[id]
		switch ch.Op {
		case record.OpInsert:
			if exists {
				return &storage.ConflictError{ID: id, Expected: 0, Found: current.Version}
			}
		case record.OpUpdate, record.OpDelete:
			if !exists {
				return &storage.ConflictError{ID: id, Expected: ch.BaseVersion, Found: -1}
			}
			if current.Version != ch.BaseVersion {
				return &storage.ConflictError{ID: id, Expected: ch.BaseVersion, Found: current.Version}
			}
		}
		if ch.Op != record.OpDelete {
			if violations := s.schema.Validate(ch.Data); len(violations) > 0 {
				return &storage.ValidationError{Entity: id.Entity, ID: id, Violations: violations}
			}
		}
	}

	// Phase 2: unique-key transitions, still without mutating.
	freed, taken, err := s.uniqueTransitions(cs, ids)
	if err != nil {
		return err
	}

	// Phase 3: apply.
	for _, id := range ids {
		ch := cs[id]
		if ch.Op == record.OpDelete {
			delete(s.records, id)
			continue
		}
		d := ch.Data.Clone()
		d.Version = ch.BaseVersion + 1
		s.records[id] = d
	}
	for _, key := range freed {
		delete(s.unique, key)
	}
	for key, id := range taken {
		s.unique[key] = id
	}
	return nil
}

// uniqueTransitions computes the unique-index keys freed and taken by cs
// and reports a ValidationError when a taken key is already held by an
// unrelated record.
func (s *Store) uniqueTransitions(cs record.ChangeSet, ids []record.ID) (freed []string, taken map[string]record.ID, err error) {
	taken = make(map[string]record.ID)
	for _, id := range ids {
		ch := cs[id]
		sets := s.schema.UniqueSets(id.Entity)
		if len(sets) == 0 {
			continue
		}
		if old, exists := s.records[id]; exists {
			for _, fields := range sets {
				key, kerr := record.CanonicalKey(id.Entity, old.Properties, fields)
				if kerr != nil {
					return nil, nil, &storage.ValidationError{Entity: id.Entity, ID: id, Violations: []string{kerr.Error()}}
				}
				freed = append(freed, key)
			}
		}
		if ch.Op == record.OpDelete {
			continue
		}
		for _, fields := range sets {
			key, kerr := record.CanonicalKey(id.Entity, ch.Data.Properties, fields)
			if kerr != nil {
				return nil, nil, &storage.ValidationError{Entity: id.Entity, ID: id, Violations: []string{kerr.Error()}}
			}
			if holder, held := s.unique[key]; held && holder != id {
				if _, alsoFreed := cs[holder]; !alsoFreed {
					return nil, nil, &storage.ValidationError{
						Entity:     id.Entity,
						ID:         id,
						Violations: []string{"unique constraint violated: " + key},
					}
				}
			}
			if other, dup := taken[key]; dup && other != id {
				return nil, nil, &storage.ValidationError{
					Entity:     id.Entity,
					ID:         id,
					Violations: []string{"unique constraint violated within change set: " + key},
				}
			}
			taken[key] = id
		}
	}
	return freed, taken, nil
}

// Load returns the committed state of one record.
func (s *Store) Load(ctx context.Context, id record.ID) (record.Data, error) {
	if err := ctx.Err(); err != nil {
		return record.Data{}, &storage.StoreError{Op: "load", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.records[id]
	if !ok {
		return record.Data{}, storage.ErrNoRecord
	}
	return d.Clone(), nil
}

// Resolve returns the committed records matching spec's entity and filter.
// Sort and paging are left to the caller.
func (s *Store) Resolve(ctx context.Context, spec query.Spec) ([]record.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storage.StoreError{Op: "resolve", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []record.Data
	for _, d := range s.records {
		if spec.Entity != "" && d.ID.Entity != spec.Entity {
			continue
		}
		ok, err := query.Match(spec.Filter, d)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, d.Clone())
		}
	}
	return rows, nil
}

// Close marks the store closed; subsequent saves fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of committed records, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a deep copy of all committed records keyed by ID, for
// test assertions.
func (s *Store) Snapshot() map[record.ID]record.Data {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[record.ID]record.Data, len(s.records))
	for id, d := range s.records {
		out[id] = d.Clone()
	}
	return out
}
