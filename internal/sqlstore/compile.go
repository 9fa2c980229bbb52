package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/strata/query"
)

// compileResolve builds the SQL for a Resolve call.
//
// The structural part of the filter compiles to json_extract lookups over
// the properties column; anything non-compilable (expr predicates,
// relationship membership, time comparisons) is simply omitted here and
// enforced by the in-memory re-check in Resolve. The compiled WHERE is a
// row-reduction optimization, never the source of truth.
//
// Every query carries ORDER BY id so scan order is deterministic.
// All values are parameterized, never interpolated.
func compileResolve(spec query.Spec) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT id, version, properties, to_one, to_many FROM records")

	var params []any
	conds := []string{}
	if spec.Entity != "" {
		conds = append(conds, "entity = ?")
		params = append(params, spec.Entity)
	}
	if frag, fragParams, ok := compilePredicate(spec.Filter); ok && frag != "" {
		conds = append(conds, frag)
		params = append(params, fragParams...)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY id COLLATE BINARY ASC")
	return sb.String(), params
}

// compilePredicate returns a WHERE fragment for p, or ok=false when p (or
// a required part of it) cannot be expressed in SQL.
func compilePredicate(p query.Predicate) (string, []any, bool) {
	if p == nil {
		return "", nil, true
	}
	switch pred := p.(type) {
	case query.Compare:
		return compileCompare(pred)
	case query.And:
		// AND may drop non-compilable children: the remaining
		// conjuncts still only narrow the row set.
		frags := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, child := range pred.Predicates {
			frag, childParams, ok := compilePredicate(child)
			if !ok || frag == "" {
				continue
			}
			frags = append(frags, frag)
			params = append(params, childParams...)
		}
		if len(frags) == 0 {
			return "", nil, true
		}
		return "(" + strings.Join(frags, " AND ") + ")", params, true
	case query.Or:
		// OR must compile completely or not at all; dropping a branch
		// would exclude matching rows.
		frags := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, child := range pred.Predicates {
			frag, childParams, ok := compilePredicate(child)
			if !ok || frag == "" {
				return "", nil, false
			}
			frags = append(frags, frag)
			params = append(params, childParams...)
		}
		if len(frags) == 0 {
			return "", nil, false
		}
		return "(" + strings.Join(frags, " OR ") + ")", params, true
	case query.Not:
		frag, params, ok := compilePredicate(pred.Predicate)
		if !ok || frag == "" {
			return "", nil, false
		}
		return "NOT " + frag, params, true
	case query.In:
		if len(pred.Values) == 0 {
			return "0 = 1", nil, true
		}
		var params []any
		for _, v := range pred.Values {
			pv, ok := paramValue(v)
			if !ok {
				return "", nil, false
			}
			params = append(params, pv)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return fmt.Sprintf("%s IN (%s)", propertyExpr(pred.Field), placeholders), params, true
	case query.Contains:
		return propertyExpr(pred.Field) + " LIKE '%' || ? || '%'", []any{pred.Substring}, true
	case query.HasPrefix:
		return propertyExpr(pred.Field) + " LIKE ? || '%'", []any{pred.Prefix}, true
	case query.RelatedTo:
		// To-one compiles; to-many membership is left to the re-check.
		return fmt.Sprintf("json_extract(to_one, '$.%s') = ?", pred.Relation),
			[]any{pred.ID.String()}, true
	default:
		// query.ExprSource and future nodes.
		return "", nil, false
	}
}

func compileCompare(pred query.Compare) (string, []any, bool) {
	pv, ok := paramValue(pred.Value)
	if !ok {
		return "", nil, false
	}
	var op string
	switch pred.Op {
	case query.OpEq:
		if pv == nil {
			return propertyExpr(pred.Field) + " IS NULL", nil, true
		}
		op = "="
	case query.OpNe:
		if pv == nil {
			return propertyExpr(pred.Field) + " IS NOT NULL", nil, true
		}
		op = "!="
	case query.OpLt:
		op = "<"
	case query.OpLe:
		op = "<="
	case query.OpGt:
		op = ">"
	case query.OpGe:
		op = ">="
	default:
		return "", nil, false
	}
	return fmt.Sprintf("%s %s ?", propertyExpr(pred.Field), op), []any{pv}, true
}

// paramValue converts a predicate literal to a SQL parameter.
// Times are stored as JSON objects, so time comparisons do not compile.
func paramValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string, int, int32, int64, float32, float64:
		return val, true
	case bool:
		// json_extract renders JSON booleans as 0/1.
		if val {
			return 1, true
		}
		return 0, true
	case time.Time:
		return nil, false
	default:
		return nil, false
	}
}

func propertyExpr(field string) string {
	// Field names originate in the query builder; single quotes in a
	// name must still not break out of the path literal.
	return fmt.Sprintf("json_extract(properties, '$.%s')", strings.ReplaceAll(field, "'", "''"))
}
