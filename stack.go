package strata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/strata/internal/memstore"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/sqlstore"
	"github.com/roach88/strata/record"
	"github.com/roach88/strata/storage"
)

// Stack owns a store, its root cache context and the application's main
// context, and wires commits to merge broadcasts. One Stack per
// database; all contexts in a stack see the same committed state.
type Stack struct {
	logger *slog.Logger
	gen    record.IDGenerator
	policy MergePolicy
	store  storage.Store
	gate   *SerializationGate
	bcast  *broadcaster

	root *Context
	main *Context

	mu     sync.Mutex
	closed bool
}

type config struct {
	logger       *slog.Logger
	gen          record.IDGenerator
	policy       MergePolicy
	serialized   bool
	schemaDir    string
	schemaSource string
}

// Option adjusts stack construction.
type Option func(*config)

// WithLogger routes the stack's structured logs. Defaults to
// slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithIDGenerator substitutes the generator used for new record IDs.
// Defaults to UUIDv7.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(c *config) { c.gen = g }
}

// WithMergePolicy selects how live contexts react to commits from other
// contexts. Defaults to AutoMerge.
func WithMergePolicy(p MergePolicy) Option {
	return func(c *config) { c.policy = p }
}

// WithSerializedSaves enables the global save gate: at most one
// transaction is inside its store save at a time.
func WithSerializedSaves() Option {
	return func(c *config) { c.serialized = true }
}

// WithSchemaDir loads the entity schema from the CUE files in dir.
// Only honored by Open and OpenMemory; New takes an already-built
// store.
func WithSchemaDir(dir string) Option {
	return func(c *config) { c.schemaDir = dir }
}

// WithSchemaSource compiles the entity schema from inline CUE source.
// Only honored by Open and OpenMemory.
func WithSchemaSource(src string) Option {
	return func(c *config) { c.schemaSource = src }
}

func buildConfig(opts []Option) config {
	cfg := config{
		logger: slog.Default(),
		gen:    record.UUIDv7Generator{},
		policy: AutoMerge,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (cfg config) loadSchema() (schema.Set, error) {
	switch {
	case cfg.schemaDir != "":
		return schema.Load(cfg.schemaDir)
	case cfg.schemaSource != "":
		return schema.CompileString(cfg.schemaSource)
	default:
		return nil, nil
	}
}

// New builds a stack over an existing store.
func New(store storage.Store, opts ...Option) *Stack {
	cfg := buildConfig(opts)
	s := &Stack{
		logger: cfg.logger,
		gen:    cfg.gen,
		policy: cfg.policy,
		store:  store,
	}
	if cfg.serialized {
		s.gate = newSerializationGate(cfg.logger)
	}
	s.bcast = newBroadcaster(cfg.logger, cfg.policy)
	s.root = s.newContext(RoleRoot, nil)
	s.main = s.newContext(RoleMain, s.root)
	s.bcast.register(s.main)
	s.logger.Debug("stack ready",
		"policy", cfg.policy.String(), "serialized_saves", cfg.serialized)
	return s
}

// Open builds a stack over a SQLite database at path, creating it if
// needed.
func Open(path string, opts ...Option) (*Stack, error) {
	cfg := buildConfig(opts)
	set, err := cfg.loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	var storeOpts []sqlstore.Option
	if set != nil {
		storeOpts = append(storeOpts, sqlstore.WithSchema(set))
	}
	st, err := sqlstore.Open(path, storeOpts...)
	if err != nil {
		return nil, err
	}
	return New(st, opts...), nil
}

// OpenMemory builds a stack over an in-memory store. Intended for tests
// and ephemeral workloads; nothing survives Close.
func OpenMemory(opts ...Option) (*Stack, error) {
	cfg := buildConfig(opts)
	set, err := cfg.loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	var storeOpts []memstore.Option
	if set != nil {
		storeOpts = append(storeOpts, memstore.WithSchema(set))
	}
	return New(memstore.New(storeOpts...), opts...), nil
}

// Main returns the application's long-lived read context.
func (s *Stack) Main() *Context { return s.main }

// saveToStore runs the store save for a context whose changes have
// reached the bottom of the overlay chain. On success the committing
// context and the root cache absorb the applied versions and the commit
// is broadcast to the other live contexts.
func (s *Stack) saveToStore(ctx context.Context, source *Context, cs record.ChangeSet) error {
	s.gate.acquire()
	defer s.gate.release()

	if err := s.store.Save(ctx, cs); err != nil {
		return err
	}

	applied := appliedVersions(cs)
	source.absorbCommitted(applied)
	if source != s.root {
		s.root.absorb(applied)
	}
	s.bcast.publish(source, applied)
	s.logger.Debug("changes stored", "source", source.role.String(), "changes", len(applied))
	return nil
}

// appliedVersions clones a saved change set with each surviving
// record's version advanced past its base, mirroring what the store
// persisted.
func appliedVersions(cs record.ChangeSet) record.ChangeSet {
	applied := cs.Clone()
	for id, ch := range applied {
		if ch.Op == record.OpDelete {
			continue
		}
		ch.Data.Version = ch.BaseVersion + 1
		applied[id] = ch
	}
	return applied
}

// Close tears down the main context, resolves any still-open contexts,
// and closes the store. Records bound to the stack's contexts become
// unusable for cross-context translation afterwards.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStackClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.bcast.mu.Lock()
	live := make([]*Context, 0, len(s.bcast.contexts))
	for c := range s.bcast.contexts {
		live = append(live, c)
	}
	s.bcast.mu.Unlock()
	for _, c := range live {
		if c.tx != nil {
			c.tx.Close()
		} else {
			c.close()
		}
	}
	s.main.close()
	s.root.close()
	return s.store.Close()
}
