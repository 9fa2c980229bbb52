package query

import (
	"github.com/roach88/strata/record"
)

// Predicate represents a filter condition over one record.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// CompareOp is a comparison operator for Compare predicates.
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Compare matches records whose named property compares against a literal.
// Comparable value types: string, int, int64, float64, bool, time.Time.
type Compare struct {
	Field string
	Op    CompareOp
	Value any
}

func (Compare) predicateNode() {}

// And matches when every child predicate matches. And with no children
// matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when at least one child predicate matches.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not inverts its child predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// In matches records whose named property equals one of Values.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// Contains matches string properties containing Substring.
type Contains struct {
	Field     string
	Substring string
}

func (Contains) predicateNode() {}

// HasPrefix matches string properties starting with Prefix.
type HasPrefix struct {
	Field  string
	Prefix string
}

func (HasPrefix) predicateNode() {}

// RelatedTo matches records related to ID through the named relationship.
// For to-one relationships this is equality; for to-many, membership.
type RelatedTo struct {
	Relation string
	ID       record.ID
}

func (RelatedTo) predicateNode() {}

// Builder helpers. Each returns an immutable predicate value.

// Eq builds field == value.
func Eq(field string, value any) Predicate { return Compare{Field: field, Op: OpEq, Value: value} }

// Ne builds field != value.
func Ne(field string, value any) Predicate { return Compare{Field: field, Op: OpNe, Value: value} }

// Lt builds field < value.
func Lt(field string, value any) Predicate { return Compare{Field: field, Op: OpLt, Value: value} }

// Le builds field <= value.
func Le(field string, value any) Predicate { return Compare{Field: field, Op: OpLe, Value: value} }

// Gt builds field > value.
func Gt(field string, value any) Predicate { return Compare{Field: field, Op: OpGt, Value: value} }

// Ge builds field >= value.
func Ge(field string, value any) Predicate { return Compare{Field: field, Op: OpGe, Value: value} }

// AllOf combines predicates conjunctively.
func AllOf(ps ...Predicate) Predicate { return And{Predicates: ps} }

// AnyOf combines predicates disjunctively.
func AnyOf(ps ...Predicate) Predicate { return Or{Predicates: ps} }

// None inverts a predicate.
func None(p Predicate) Predicate { return Not{Predicate: p} }

// OneOf builds field IN (values...).
func OneOf(field string, values ...any) Predicate { return In{Field: field, Values: values} }

// Related builds a relationship membership predicate.
func Related(relation string, id record.ID) Predicate {
	return RelatedTo{Relation: relation, ID: id}
}

// EqualityTerms extracts the top-level conjunction of equality terms from
// p: the property values every matching record must carry. FetchOrCreate
// seeds newly created records with these terms.
func EqualityTerms(p Predicate) map[string]any {
	terms := make(map[string]any)
	collectEqualityTerms(p, terms)
	return terms
}

func collectEqualityTerms(p Predicate, terms map[string]any) {
	switch pred := p.(type) {
	case Compare:
		if pred.Op == OpEq {
			terms[pred.Field] = pred.Value
		}
	case And:
		for _, child := range pred.Predicates {
			collectEqualityTerms(child, terms)
		}
	}
}
