package condition

import (
	"strconv"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// parseOp maps operator lexemes to operators; "=" is an alias of "==".
func parseOp(s string) (Op, bool) {
	switch s {
	case "==", "=":
		return OpEq, true
	case "!=":
		return OpNe, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLe, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGe, true
	}
	return "", false
}

// ClauseKind classifies a parsed clause.
type ClauseKind int

const (
	// ClauseUnknown never matches.
	ClauseUnknown ClauseKind = iota
	// ClauseNumeric compares the amount field with a number.
	ClauseNumeric
	// ClauseString compares a string field with a literal.
	ClauseString
)

func (k ClauseKind) String() string {
	switch k {
	case ClauseNumeric:
		return "numeric"
	case ClauseString:
		return "string"
	default:
		return "unknown"
	}
}

// Clause is a single comparison.
type Clause struct {
	Kind   ClauseKind
	Field  string
	Op     Op
	Number float64
	Str    string
	// Loose is set when the clause was recovered from surrounding text
	// ("total amount > 50 per day").
	Loose bool
	// Text is the clause source with wrapping parentheses removed.
	Text string
}

// Group is a conjunction of clauses.
type Group struct {
	Clauses []Clause
}

// Expr is a disjunction of groups. The zero value matches nothing.
type Expr struct {
	Source string
	Groups []Group
}

// Empty reports whether the expression has no groups.
func (e *Expr) Empty() bool {
	return e == nil || len(e.Groups) == 0
}

// UnknownClauses returns the source text of every clause outside the grammar.
func (e *Expr) UnknownClauses() []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, g := range e.Groups {
		for _, c := range g.Clauses {
			if c.Kind == ClauseUnknown {
				out = append(out, c.Text)
			}
		}
	}
	return out
}

// String renders the expression in canonical form.
func (e *Expr) String() string {
	if e.Empty() {
		return ""
	}
	groups := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		clauses := make([]string, len(g.Clauses))
		for j, c := range g.Clauses {
			clauses[j] = c.String()
		}
		groups[i] = strings.Join(clauses, " and ")
	}
	return strings.Join(groups, " or ")
}

// String renders the clause in canonical form. Unknown clauses render verbatim.
func (c Clause) String() string {
	switch c.Kind {
	case ClauseNumeric:
		return c.Field + " " + string(c.Op) + " " + FormatNumber(c.Number)
	case ClauseString:
		return c.Field + " " + string(c.Op) + " " + QuoteLiteral(c.Str)
	default:
		return c.Text
	}
}

// FormatNumber renders a float using the shortest representation that
// round-trips ("300", "75.5").
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// QuoteLiteral single-quotes s, falling back to double quotes when s contains
// a single quote only. A value holding both quote kinds, or a backslash, is
// single-quoted with backslash escapes.
func QuoteLiteral(s string) string {
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') && !strings.ContainsRune(s, '\\') {
		return `"` + s + `"`
	}
	return QuoteWith(s, '\'')
}

// QuoteWith quotes s with the given quote character, escaping backslashes and
// that quote character.
func QuoteWith(s string, quote byte) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(quote)
	for i := 0; i < len(s); i++ {
		if s[i] == quote || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte(quote)
	return b.String()
}
