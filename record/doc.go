// Package record defines the identity and data types shared by every layer
// of a strata stack: stable object identifiers, entity-typed record data,
// and the change sets that flow from contexts to stores on save.
//
// # Identity
//
// An ID names exactly one logical record across the whole stack. Two IDs
// are equal iff they denote the same logical record, no matter which
// context materialized them. IDs are UUIDv7-based and therefore sortable
// by allocation time.
//
// # Context-locality
//
// record.Data is a plain value: the durable state of one record at one
// version. The context-bound, mutable view of a record lives in the root
// strata package; this package deliberately knows nothing about contexts
// so that stores and query compilation can depend on it without cycles.
//
// # Canonical keys
//
// CanonicalKey produces RFC 8785 canonical JSON over a projection of a
// record's properties. Stores use it to index schema-declared unique
// property sets: equal property values always produce byte-identical keys.
package record
