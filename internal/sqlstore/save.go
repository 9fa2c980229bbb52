package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/strata/record"
	"github.com/roach88/strata/storage"
)

// Save atomically applies cs inside one IMMEDIATE transaction.
//
// Apply order is the change set's stable ID order, so two stores given the
// same change set produce identical write sequences. On any failure the
// transaction rolls back and the error is a *ValidationError,
// *ConflictError or *StoreError.
func (s *Store) Save(ctx context.Context, cs record.ChangeSet) error {
	ids := cs.IDs()

	// Schema validation needs no database state; fail before opening a
	// write transaction.
	for _, id := range ids {
		ch := cs[id]
		if ch.Op == record.OpDelete {
			continue
		}
		if violations := s.schema.Validate(ch.Data); len(violations) > 0 {
			return &storage.ValidationError{Entity: id.Entity, ID: id, Violations: violations}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.StoreError{Op: "save", Err: err}
	}
	defer tx.Rollback()

	// Deletes first, so a unique key freed by a delete can be claimed by
	// an insert in the same change set.
	for _, id := range ids {
		if ch := cs[id]; ch.Op == record.OpDelete {
			if err := s.applyChange(ctx, tx, ch); err != nil {
				return err
			}
		}
	}
	for _, id := range ids {
		if ch := cs[id]; ch.Op != record.OpDelete {
			if err := s.applyChange(ctx, tx, ch); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return &storage.StoreError{Op: "save", Err: err}
	}
	return nil
}

func (s *Store) applyChange(ctx context.Context, tx *sql.Tx, ch record.Change) error {
	current, exists, err := currentVersion(ctx, tx, ch.ID)
	if err != nil {
		return err
	}

	switch ch.Op {
	case record.OpInsert:
		if exists {
			return &storage.ConflictError{ID: ch.ID, Expected: 0, Found: current}
		}
	case record.OpUpdate, record.OpDelete:
		if !exists {
			return &storage.ConflictError{ID: ch.ID, Expected: ch.BaseVersion, Found: -1}
		}
		if current != ch.BaseVersion {
			return &storage.ConflictError{ID: ch.ID, Expected: ch.BaseVersion, Found: current}
		}
	default:
		return &storage.StoreError{Op: "save", Err: fmt.Errorf("unknown op %v", ch.Op)}
	}

	if ch.Op == record.OpDelete {
		// unique_keys rows cascade with the record.
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, ch.ID.String()); err != nil {
			return &storage.StoreError{Op: "save", Err: err}
		}
		return nil
	}

	props, toOne, toMany, err := marshalData(ch.Data)
	if err != nil {
		return &storage.StoreError{Op: "save", Err: err}
	}
	if ch.Op == record.OpInsert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (id, entity, version, properties, to_one, to_many)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ch.ID.String(), ch.ID.Entity, ch.BaseVersion+1, props, toOne, toMany)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE records SET version = ?, properties = ?, to_one = ?, to_many = ?
			WHERE id = ?
		`, ch.BaseVersion+1, props, toOne, toMany, ch.ID.String())
	}
	if err != nil {
		return &storage.StoreError{Op: "save", Err: err}
	}

	return s.reindexUniqueKeys(ctx, tx, ch)
}

// reindexUniqueKeys replaces the record's unique-key rows with keys
// derived from its new state. A key held by a different live record is a
// validation failure; the PRIMARY KEY constraint backstops races.
func (s *Store) reindexUniqueKeys(ctx context.Context, tx *sql.Tx, ch record.Change) error {
	sets := s.schema.UniqueSets(ch.ID.Entity)
	if len(sets) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM unique_keys WHERE record_id = ?`, ch.ID.String()); err != nil {
		return &storage.StoreError{Op: "save", Err: err}
	}
	for _, fields := range sets {
		key, err := record.CanonicalKey(ch.ID.Entity, ch.Data.Properties, fields)
		if err != nil {
			return &storage.ValidationError{Entity: ch.ID.Entity, ID: ch.ID, Violations: []string{err.Error()}}
		}

		var holder string
		err = tx.QueryRowContext(ctx, `SELECT record_id FROM unique_keys WHERE key = ?`, key).Scan(&holder)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return &storage.StoreError{Op: "save", Err: err}
		case holder != ch.ID.String():
			return &storage.ValidationError{
				Entity:     ch.ID.Entity,
				ID:         ch.ID,
				Violations: []string{"unique constraint violated: " + key},
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unique_keys (key, record_id) VALUES (?, ?)`,
			key, ch.ID.String(),
		); err != nil {
			return &storage.StoreError{Op: "save", Err: err}
		}
	}
	return nil
}

func currentVersion(ctx context.Context, tx *sql.Tx, id record.ID) (int64, bool, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM records WHERE id = ?`, id.String()).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &storage.StoreError{Op: "save", Err: err}
	}
	return version, true, nil
}
