package condition

import (
	"github.com/rs/zerolog/log"
)

// Kind is the dynamic type of a field value.
type Kind int

const (
	KindString Kind = iota + 1
	KindNumber
)

// Value is a field value read from a record.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
}

// String returns a string value.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Number returns a numeric value.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// Record exposes the fields a condition may reference.
type Record interface {
	// Lookup returns the value of a field; names are matched case-insensitively.
	Lookup(field string) (Value, bool)
}

// Match reports whether any group of the expression holds for rec.
func (e *Expr) Match(rec Record) bool {
	if e.Empty() {
		return false
	}
	for _, g := range e.Groups {
		if g.Match(rec) {
			return true
		}
	}
	return false
}

// Match reports whether every clause of the group holds for rec.
func (g Group) Match(rec Record) bool {
	if len(g.Clauses) == 0 {
		return false
	}
	for _, c := range g.Clauses {
		if !c.Match(rec) {
			return false
		}
	}
	return true
}

// Match evaluates a single clause. Unknown clauses, missing fields and type
// mismatches never match.
func (c Clause) Match(rec Record) bool {
	switch c.Kind {
	case ClauseNumeric:
		v, ok := rec.Lookup(c.Field)
		if !ok || v.Kind != KindNumber {
			return false
		}
		return compareNumbers(v.Num, c.Op, c.Number)

	case ClauseString:
		v, ok := rec.Lookup(c.Field)
		if !ok || v.Kind != KindString {
			return false
		}
		switch c.Op {
		case OpEq:
			return v.Str == c.Str
		case OpNe:
			return v.Str != c.Str
		}
	}
	return false
}

func compareNumbers(a float64, op Op, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

// Evaluate parses cond and matches it against rec. It never panics; an
// internal failure is reported as no match.
func Evaluate(cond string, rec Record) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("condition", cond).
				Msg("Condition evaluation failed")
			matched = false
		}
	}()
	return Parse(cond).Match(rec)
}
