// Package query defines the neutral query specification consumed by
// contexts and stores: an immutable predicate tree plus sort, paging and
// aggregate options, built fluently and evaluated uniformly.
//
// A Spec is a value. Builder methods return modified copies, so a Spec can
// be shared, stored and replayed freely; nothing in this package has side
// effects.
//
// # Predicates
//
// Predicate is a sealed interface - only types in this package implement
// it. The marker method pattern prevents external implementations and
// enables exhaustive type switches in store compilers.
//
// Structural predicates (Compare, And, Or, Not, In, RelatedTo) can be
// compiled to SQL by a store. ExprSource predicates wrap an
// expr-lang/expr program and are evaluated in memory only; stores treat
// them as opaque and fall back to post-filtering.
//
// # Evaluation
//
// Match evaluates one predicate against one record. Apply runs a full
// record-query Spec (filter, sort, offset, limit) over a slice of records.
// Evaluate runs an aggregate Spec (Select/GroupBy/Having) and produces
// rows of named values.
package query
