// Package strata is a concurrency-safe access layer over a persisted
// record graph.
//
// A Stack owns one store (SQLite or in-memory) and a hierarchy of
// contexts layered over it: a private root cache, the application's
// main read context, and short-lived update contexts opened per
// transaction. Each context is an isolated overlay: records fetched
// through it are bound to it, mutations stay invisible to every other
// context until committed, and commits flow down the hierarchy to the
// store.
//
// All work against a context runs on that context's serial lane, so a
// single context never needs external locking. Cross-context record
// handoff goes through Context.Use, which translates by ID.
//
// Writes are optimistic: every record carries a version, and a commit
// whose base versions no longer match the store fails with a
// ConflictError, leaving the transaction's pending changes intact for
// retry.
package strata
