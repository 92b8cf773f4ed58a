package compiler

import (
	"fmt"

	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// ExpressionCompiler compiles parsed conditions to Rego rule bodies.
type ExpressionCompiler struct{}

// NewExpressionCompiler creates a new expression compiler.
func NewExpressionCompiler() *ExpressionCompiler {
	return &ExpressionCompiler{}
}

// Compile returns one body per OR-group of expr. A group containing a clause
// outside the grammar can never match and is dropped with a warning.
func (ec *ExpressionCompiler) Compile(expr *condition.Expr) ([][]string, []string) {
	if expr.Empty() {
		return nil, nil
	}

	var bodies [][]string
	var warnings []string
	for i, g := range expr.Groups {
		body, err := ec.compileGroup(g)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("group %d dropped: %v", i, err))
			continue
		}
		bodies = append(bodies, body)
	}
	return bodies, warnings
}

func (ec *ExpressionCompiler) compileGroup(g condition.Group) ([]string, error) {
	if len(g.Clauses) == 0 {
		return nil, fmt.Errorf("empty group")
	}
	body := make([]string, 0, 2*len(g.Clauses))
	for _, c := range g.Clauses {
		lines, err := ec.compileClause(c)
		if err != nil {
			return nil, err
		}
		body = append(body, lines...)
	}
	return body, nil
}

// compileClause emits a type guard followed by the comparison. Rego orders
// values across types, so without the guard "x" > 5 would hold.
func (ec *ExpressionCompiler) compileClause(c condition.Clause) ([]string, error) {
	ref := fieldRef(c.Field)
	switch c.Kind {
	case condition.ClauseNumeric:
		return []string{
			fmt.Sprintf("is_number(%s)", ref),
			fmt.Sprintf("%s %s %s", ref, regoOp(c.Op), condition.FormatNumber(c.Number)),
		}, nil
	case condition.ClauseString:
		return []string{
			fmt.Sprintf("is_string(%s)", ref),
			fmt.Sprintf("%s %s %s", ref, regoOp(c.Op), quoteString(c.Str)),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported clause %q", c.Text)
	}
}

// fieldRef converts a condition field to a Rego input reference. Bracket
// notation keeps fields that collide with Rego keywords valid.
func fieldRef(field string) string {
	return "input[" + quoteString(field) + "]"
}

func regoOp(op condition.Op) string {
	switch op {
	case condition.OpEq:
		return "=="
	case condition.OpNe:
		return "!="
	default:
		return string(op)
	}
}
