package query

import "slices"

// SortKey orders results by one property.
type SortKey struct {
	Field string
	Desc  bool
}

// AggFunc names an aggregate function for Select targets.
type AggFunc string

const (
	AggNone  AggFunc = ""      // plain field passthrough (group key)
	AggCount AggFunc = "count" // row count; Field ignored
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Selection is one select target of an aggregate query.
// As names the output column; empty As defaults to Field or the function
// name for Count.
type Selection struct {
	Func  AggFunc
	Field string
	As    string
}

// Column returns the output column name.
func (s Selection) Column() string {
	if s.As != "" {
		return s.As
	}
	if s.Func == AggCount {
		return "count"
	}
	if s.Func != AggNone {
		return string(s.Func) + "_" + s.Field
	}
	return s.Field
}

// Field selects a plain property (group key) in an aggregate query.
func Field(name string) Selection { return Selection{Field: name} }

// Count selects the row count.
func Count() Selection { return Selection{Func: AggCount} }

// Sum selects the sum of a numeric property.
func Sum(field string) Selection { return Selection{Func: AggSum, Field: field} }

// Avg selects the mean of a numeric property.
func Avg(field string) Selection { return Selection{Func: AggAvg, Field: field} }

// Min selects the minimum of a property.
func Min(field string) Selection { return Selection{Func: AggMin, Field: field} }

// Max selects the maximum of a property.
func Max(field string) Selection { return Selection{Func: AggMax, Field: field} }

// Spec is a complete, immutable query specification.
//
// A Spec with an empty Select list is a record query: it resolves to
// records of Entity. A Spec with Select targets is an aggregate query
// resolving to rows of named values.
//
// Builder methods return modified copies; the receiver is never mutated.
type Spec struct {
	Entity   string
	Filter   Predicate
	Sort     []SortKey
	Limit    int // 0 = unlimited
	Offset   int
	Distinct bool
	Prefetch []string // to-one relationships to materialize eagerly

	Select  []Selection
	GroupBy []string
	Having  Predicate
}

// New starts a record query over one entity.
func New(entity string) Spec {
	return Spec{Entity: entity}
}

// Where ANDs p onto the spec's filter.
func (s Spec) Where(p Predicate) Spec {
	if s.Filter == nil {
		s.Filter = p
		return s
	}
	s.Filter = And{Predicates: []Predicate{s.Filter, p}}
	return s
}

// SortBy appends an ascending sort key.
func (s Spec) SortBy(field string) Spec {
	s.Sort = append(slices.Clone(s.Sort), SortKey{Field: field})
	return s
}

// SortByDesc appends a descending sort key.
func (s Spec) SortByDesc(field string) Spec {
	s.Sort = append(slices.Clone(s.Sort), SortKey{Field: field, Desc: true})
	return s
}

// WithLimit caps the number of results.
func (s Spec) WithLimit(n int) Spec {
	s.Limit = n
	return s
}

// WithOffset skips the first n results after sorting.
func (s Spec) WithOffset(n int) Spec {
	s.Offset = n
	return s
}

// WithDistinct deduplicates aggregate rows.
func (s Spec) WithDistinct() Spec {
	s.Distinct = true
	return s
}

// WithPrefetch asks the resolving context to materialize the named to-one
// relationships of every result eagerly.
func (s Spec) WithPrefetch(relations ...string) Spec {
	s.Prefetch = append(slices.Clone(s.Prefetch), relations...)
	return s
}

// SelectValues turns the spec into an aggregate query with the given
// targets.
func (s Spec) SelectValues(targets ...Selection) Spec {
	s.Select = append(slices.Clone(s.Select), targets...)
	return s
}

// GroupedBy groups aggregate rows by the named properties.
func (s Spec) GroupedBy(fields ...string) Spec {
	s.GroupBy = append(slices.Clone(s.GroupBy), fields...)
	return s
}

// WithHaving filters aggregate rows after grouping. The predicate's
// fields refer to output column names.
func (s Spec) WithHaving(p Predicate) Spec {
	if s.Having == nil {
		s.Having = p
		return s
	}
	s.Having = And{Predicates: []Predicate{s.Having, p}}
	return s
}

// IsAggregate reports whether the spec resolves to value rows rather than
// records.
func (s Spec) IsAggregate() bool {
	return len(s.Select) > 0
}

// Unbounded strips sort, offset and limit. Contexts resolve lower layers
// unbounded so overlay merging sees the full candidate set, then apply
// ordering and paging once at the top.
func (s Spec) Unbounded() Spec {
	s.Sort = nil
	s.Limit = 0
	s.Offset = 0
	return s
}
