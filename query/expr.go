package query

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprSource is a predicate compiled from an expr-lang/expr expression.
//
// The expression is evaluated against an environment holding the record's
// properties by name plus "id" (the record's ID string). It must produce
// a boolean. Stores cannot compile ExprSource to SQL; they evaluate it in
// memory after structural filtering.
//
// Build with Expr; the zero value matches nothing and fails evaluation.
type ExprSource struct {
	Source  string
	program *exprvm.Program
}

func (ExprSource) predicateNode() {}

// Expr compiles source into a predicate.
//
// Example:
//
//	p, err := query.Expr(`name == "Monk" && age > 40`)
func Expr(source string) (Predicate, error) {
	if source == "" {
		return nil, fmt.Errorf("expr predicate: empty expression")
	}
	program, err := exprlang.Compile(source,
		exprlang.AsBool(),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr predicate %q: %w", source, err)
	}
	return ExprSource{Source: source, program: program}, nil
}

// MustExpr is Expr that panics on compile error, for statically known
// expressions in tests and examples.
func MustExpr(source string) Predicate {
	p, err := Expr(source)
	if err != nil {
		panic(err)
	}
	return p
}

func (e ExprSource) run(env map[string]any) (bool, error) {
	if e.program == nil {
		return false, fmt.Errorf("expr predicate %q: not compiled", e.Source)
	}
	out, err := exprlang.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("expr predicate %q: %w", e.Source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expr predicate %q: result %T, want bool", e.Source, out)
	}
	return b, nil
}
