package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/strata/record"
)

// Apply runs a record-query spec over rows: filter, stable sort, offset,
// limit. The input slice is not mutated.
//
// Sorting always falls back to ID order as the final tiebreaker so results
// are deterministic regardless of input order.
func Apply(s Spec, rows []record.Data) ([]record.Data, error) {
	out := make([]record.Data, 0, len(rows))
	for _, d := range rows {
		if s.Entity != "" && d.ID.Entity != s.Entity {
			continue
		}
		ok, err := Match(s.Filter, d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}

	var sortErr error
	slices.SortStableFunc(out, func(a, b record.Data) int {
		for _, key := range s.Sort {
			av, bv := a.Get(key.Field), b.Get(key.Field)
			c, err := compareNullable(av, bv)
			if err != nil && sortErr == nil {
				sortErr = fmt.Errorf("sort %q: %w", key.Field, err)
			}
			if c != 0 {
				if key.Desc {
					return -c
				}
				return c
			}
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if sortErr != nil {
		return nil, sortErr
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

// compareNullable orders values with nil sorting first.
func compareNullable(a, b any) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	default:
		return compareValues(a, b)
	}
}
