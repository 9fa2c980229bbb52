// Package sqlstore provides the SQLite-backed durable implementation of
// the storage contract.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: unique_keys rows follow their record
//
// Change sets apply inside one IMMEDIATE transaction, so a save is atomic
// and concurrent savers serialize at the database. Conflict detection is
// optimistic: every update/delete carries the version it was derived
// from, and a mismatch fails the whole change set with ConflictError.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/query"
	"github.com/roach88/strata/record"
	"github.com/roach88/strata/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - initial schema (records, unique_keys, schema_migrations)
const currentSchemaVersion = 1

var _ storage.Store = (*Store)(nil)

// Store is a SQLite-backed record store.
type Store struct {
	db     *sql.DB
	schema schema.Set
}

// Option configures a Store.
type Option func(*Store)

// WithSchema enables schema validation and unique constraints.
func WithSchema(s schema.Set) Option {
	return func(st *Store) { st.schema = s }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &storage.StoreError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &storage.StoreError{Op: "open", Err: err}
	}

	// SQLite supports one writer at a time; a single connection avoids
	// spurious SQLITE_BUSY between this process's own connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &storage.StoreError{Op: "open", Err: fmt.Errorf("%s: %w", p, err)}
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, &storage.StoreError{Op: "open", Err: fmt.Errorf("apply schema: %w", err)}
	}
	if _, err := db.Exec(
		`INSERT INTO schema_migrations (version) VALUES (?) ON CONFLICT(version) DO NOTHING`,
		currentSchemaVersion,
	); err != nil {
		db.Close()
		return nil, &storage.StoreError{Op: "open", Err: fmt.Errorf("record migration: %w", err)}
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load returns the committed state of one record.
func (s *Store) Load(ctx context.Context, id record.ID) (record.Data, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, properties, to_one, to_many FROM records WHERE id = ?`,
		id.String(),
	)

	var version int64
	var props, toOne, toMany string
	if err := row.Scan(&version, &props, &toOne, &toMany); err != nil {
		if err == sql.ErrNoRows {
			return record.Data{}, storage.ErrNoRecord
		}
		return record.Data{}, &storage.StoreError{Op: "load", Err: err}
	}
	return unmarshalData(id, version, props, toOne, toMany)
}

// Resolve returns the committed records matching spec's entity and
// filter. The filter compiles to SQL where possible; rows are always
// re-checked in memory, so non-compilable predicates (expr, to-many
// relations) stay correct. Sort and paging are left to the caller.
func (s *Store) Resolve(ctx context.Context, spec query.Spec) ([]record.Data, error) {
	sqlText, params := compileResolve(spec)

	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, &storage.StoreError{Op: "resolve", Err: err}
	}
	defer rows.Close()

	var out []record.Data
	for rows.Next() {
		var rawID string
		var version int64
		var props, toOne, toMany string
		if err := rows.Scan(&rawID, &version, &props, &toOne, &toMany); err != nil {
			return nil, &storage.StoreError{Op: "resolve", Err: err}
		}
		id, err := record.ParseID(rawID)
		if err != nil {
			return nil, &storage.StoreError{Op: "resolve", Err: err}
		}
		d, err := unmarshalData(id, version, props, toOne, toMany)
		if err != nil {
			return nil, err
		}
		ok, err := query.Match(spec.Filter, d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.StoreError{Op: "resolve", Err: err}
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
