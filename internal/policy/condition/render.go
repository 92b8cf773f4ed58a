package condition

import (
	"strings"
)

// constants look like identifiers but are never field references
var constants = map[string]bool{
	"true":  true,
	"false": true,
	"none":  true,
	"null":  true,
	"and":   true,
	"or":    true,
}

// Canonicalize rewrites SQL-flavoured syntax into the condition dialect:
// "<>" becomes "!=", a lone "=" becomes "==", AND/OR are lower-cased and
// whitespace is collapsed. Everything else is kept verbatim.
func Canonicalize(cond string) string {
	return render(cond, func(t Token) string {
		switch t.Kind {
		case TokenOp:
			switch t.Value {
			case "<>":
				return "!="
			case "=":
				return "=="
			}
		case TokenAnd:
			return "and"
		case TokenOr:
			return "or"
		}
		return t.Text
	})
}

// ToSQL renders a condition as a SQL WHERE fragment.
func ToSQL(cond string) string {
	return render(cond, func(t Token) string {
		switch t.Kind {
		case TokenOp:
			switch t.Value {
			case "==":
				return "="
			case "!=":
				return "<>"
			}
		case TokenAnd:
			return "AND"
		case TokenOr:
			return "OR"
		case TokenString:
			return "'" + strings.ReplaceAll(t.Value, "'", "''") + "'"
		case TokenIdent:
			switch t.Value {
			case "True":
				return "1"
			case "False":
				return "0"
			}
		}
		return t.Text
	})
}

// render re-emits tokens separated by single spaces, keeping parentheses
// tight against their contents.
func render(cond string, emit func(Token) string) string {
	tokens := Tokenize(cond)
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 && tokens[i-1].Kind != TokenLParen && t.Kind != TokenRParen {
			b.WriteByte(' ')
		}
		b.WriteString(emit(t))
	}
	return b.String()
}

// Fields returns the distinct field names referenced by a condition, lower-cased,
// in order of first appearance.
func Fields(cond string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(cond) {
		if t.Kind != TokenIdent {
			continue
		}
		name := strings.ToLower(t.Value)
		if constants[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Literals returns the string literals compared against each field.
func Literals(cond string) map[string][]string {
	out := make(map[string][]string)
	tokens := Tokenize(cond)
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i].Kind == TokenIdent && tokens[i+1].Kind == TokenOp && tokens[i+2].Kind == TokenString {
			field := strings.ToLower(tokens[i].Value)
			out[field] = append(out[field], tokens[i+2].Value)
		}
	}
	return out
}
