package query

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/strata/record"
)

// Match evaluates p against one record. A nil predicate matches
// everything.
func Match(p Predicate, d record.Data) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch pred := p.(type) {
	case Compare:
		return matchCompare(pred, d.Get(pred.Field))
	case And:
		for _, child := range pred.Predicates {
			ok, err := Match(child, d)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, child := range pred.Predicates {
			ok, err := Match(child, d)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Match(pred.Predicate, d)
		return !ok, err
	case In:
		for _, v := range pred.Values {
			eq, err := equalValues(d.Get(pred.Field), v)
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	case Contains:
		s, ok := d.Get(pred.Field).(string)
		return ok && strings.Contains(s, pred.Substring), nil
	case HasPrefix:
		s, ok := d.Get(pred.Field).(string)
		return ok && strings.HasPrefix(s, pred.Prefix), nil
	case RelatedTo:
		if id, ok := d.ToOne[pred.Relation]; ok {
			return id == pred.ID, nil
		}
		return slices.Contains(d.ToMany[pred.Relation], pred.ID), nil
	case ExprSource:
		return pred.run(exprEnv(d))
	default:
		return false, fmt.Errorf("unsupported predicate type %T", p)
	}
}

// exprEnv builds the evaluation environment for ExprSource predicates:
// every property by name plus "id".
func exprEnv(d record.Data) map[string]any {
	env := make(map[string]any, len(d.Properties)+1)
	for k, v := range d.Properties {
		env[k] = v
	}
	env["id"] = d.ID.String()
	return env
}

func matchCompare(pred Compare, got any) (bool, error) {
	switch pred.Op {
	case OpEq:
		return equalValues(got, pred.Value)
	case OpNe:
		eq, err := equalValues(got, pred.Value)
		return !eq, err
	case OpLt, OpLe, OpGt, OpGe:
		if got == nil {
			// Absent properties never satisfy ordered comparisons.
			return false, nil
		}
		c, err := compareValues(got, pred.Value)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", pred.Field, err)
		}
		switch pred.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	default:
		return false, fmt.Errorf("unsupported compare op %q", pred.Op)
	}
}

// equalValues compares for equality with numeric coercion: 1, int64(1)
// and 1.0 are all equal.
func equalValues(a, b any) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb, nil
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv), nil
	case record.ID:
		bv, ok := b.(record.ID)
		return ok && av == bv, nil
	default:
		return a == b, nil
	}
}

// compareValues orders two values of compatible types: -1, 0 or 1.
func compareValues(a, b any) (int, error) {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare string with %T", b)
		}
		return strings.Compare(av, bv), nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare time with %T", b)
		}
		return av.Compare(bv), nil
	default:
		return 0, fmt.Errorf("unorderable type %T", a)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
