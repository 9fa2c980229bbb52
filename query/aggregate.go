package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/strata/record"
)

// Row is one result of an aggregate query: output column name → value.
type Row map[string]any

// Evaluate runs an aggregate spec over already filter-matched records.
//
// Rows are grouped by the GroupBy properties (one global group when
// GroupBy is empty), each Selection is computed per group, Having filters
// the resulting rows, and rows are returned in stable group-key order.
func Evaluate(s Spec, rows []record.Data) ([]Row, error) {
	if !s.IsAggregate() {
		return nil, fmt.Errorf("evaluate: spec has no select targets")
	}

	type group struct {
		key  string
		keys map[string]any
		rows []record.Data
	}
	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, d := range rows {
		var sb strings.Builder
		keys := make(map[string]any, len(s.GroupBy))
		for _, f := range s.GroupBy {
			v := d.Get(f)
			keys[f] = v
			fmt.Fprintf(&sb, "%s=%v;", f, v)
		}
		k := sb.String()
		g, ok := groups[k]
		if !ok {
			g = &group{key: k, keys: keys}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, d)
	}
	// No grouping means one global group, even over zero rows, so that
	// Count over an empty set yields 0 rather than no row at all.
	if len(s.GroupBy) == 0 && len(groups) == 0 {
		groups[""] = &group{keys: map[string]any{}}
		order = append(order, "")
	}
	slices.Sort(order)

	out := make([]Row, 0, len(groups))
	for _, k := range order {
		g := groups[k]
		row := make(Row, len(s.Select))
		for _, sel := range s.Select {
			v, err := computeSelection(sel, g.keys, g.rows)
			if err != nil {
				return nil, err
			}
			row[sel.Column()] = v
		}
		ok, err := matchRow(s.Having, row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}

	if s.Distinct {
		out = distinctRows(out, s.Select)
	}
	if s.Offset > 0 {
		if s.Offset >= len(out) {
			return nil, nil
		}
		out = out[s.Offset:]
	}
	if s.Limit > 0 && len(out) > s.Limit {
		out = out[:s.Limit]
	}
	return out, nil
}

// Value runs an aggregate spec and returns the single value of its first
// selection, or nil when no row qualifies.
func Value(s Spec, rows []record.Data) (any, error) {
	out, err := Evaluate(s, rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || len(s.Select) == 0 {
		return nil, nil
	}
	return out[0][s.Select[0].Column()], nil
}

func computeSelection(sel Selection, keys map[string]any, rows []record.Data) (any, error) {
	switch sel.Func {
	case AggNone:
		if v, ok := keys[sel.Field]; ok {
			return v, nil
		}
		if len(rows) > 0 {
			return rows[0].Get(sel.Field), nil
		}
		return nil, nil
	case AggCount:
		return int64(len(rows)), nil
	case AggSum, AggAvg:
		var sum float64
		var n int
		for _, d := range rows {
			v := d.Get(sel.Field)
			if v == nil {
				continue
			}
			f, ok := asFloat(v)
			if !ok {
				return nil, fmt.Errorf("%s(%s): non-numeric value %T", sel.Func, sel.Field, v)
			}
			sum += f
			n++
		}
		if sel.Func == AggAvg {
			if n == 0 {
				return nil, nil
			}
			return sum / float64(n), nil
		}
		return sum, nil
	case AggMin, AggMax:
		var best any
		for _, d := range rows {
			v := d.Get(sel.Field)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c, err := compareValues(v, best)
			if err != nil {
				return nil, fmt.Errorf("%s(%s): %w", sel.Func, sel.Field, err)
			}
			if (sel.Func == AggMin && c < 0) || (sel.Func == AggMax && c > 0) {
				best = v
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("unsupported aggregate %q", sel.Func)
	}
}

// matchRow evaluates a Having predicate against an output row by treating
// the row as a property bag.
func matchRow(p Predicate, row Row) (bool, error) {
	if p == nil {
		return true, nil
	}
	return Match(p, record.Data{Properties: row})
}

func distinctRows(rows []Row, sels []Selection) []Row {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, row := range rows {
		var sb strings.Builder
		for _, sel := range sels {
			fmt.Fprintf(&sb, "%v;", row[sel.Column()])
		}
		k := sb.String()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out
}
