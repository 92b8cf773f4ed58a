// Package condition implements the machine-checkable rule condition language:
// OR-separated groups of AND-separated comparison clauses over transaction fields.
//
// Conditions are tokenized, parsed into an explicit AST and evaluated against a
// Record. Parsing never fails; clauses outside the grammar are kept as unknown
// clauses that never match.
package condition

import (
	"strings"
)

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	TokenIllegal TokenKind = iota
	TokenIdent
	TokenNumber
	TokenString
	TokenOp
	TokenAnd
	TokenOr
	TokenLParen
	TokenRParen
)

func (k TokenKind) String() string {
	switch k {
	case TokenIdent:
		return "ident"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string"
	case TokenOp:
		return "op"
	case TokenAnd:
		return "and"
	case TokenOr:
		return "or"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	default:
		return "illegal"
	}
}

// Token is a single lexeme with its byte span in the source condition.
type Token struct {
	Kind  TokenKind
	Text  string // raw lexeme, quotes included for strings
	Value string // unquoted string literal or operator
	Start int
	End   int
}

// Tokenize splits a condition into tokens. It never fails: characters outside
// the grammar become TokenIllegal so the enclosing clause fails closed.
func Tokenize(src string) []Token {
	var tokens []Token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case isSpace(c):
			i++

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			text := src[start:i]
			kind := TokenIdent
			// Connectives need whitespace on both sides: "100or" and a
			// trailing "and" stay plain words.
			if start > 0 && isSpace(src[start-1]) && i < len(src) && isSpace(src[i]) {
				switch strings.ToLower(text) {
				case "and":
					kind = TokenAnd
				case "or":
					kind = TokenOr
				}
			}
			tokens = append(tokens, Token{Kind: kind, Text: text, Value: text, Start: start, End: i})

		case isDigit(c) || (c == '-' || c == '.') && i+1 < len(src) && isDigit(src[i+1]):
			start := i
			i++
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Text: src[start:i], Value: src[start:i], Start: start, End: i})

		case c == '\'' || c == '"':
			start := i
			value, end, ok := scanLiteral(src, i)
			if !ok {
				// unterminated literal swallows the rest of the input
				tokens = append(tokens, Token{Kind: TokenIllegal, Text: src[start:], Value: src[start:], Start: start, End: len(src)})
				i = len(src)
				continue
			}
			i = end
			tokens = append(tokens, Token{Kind: TokenString, Text: src[start:i], Value: value, Start: start, End: i})

		case c == '(':
			tokens = append(tokens, Token{Kind: TokenLParen, Text: "(", Value: "(", Start: i, End: i + 1})
			i++

		case c == ')':
			tokens = append(tokens, Token{Kind: TokenRParen, Text: ")", Value: ")", Start: i, End: i + 1})
			i++

		case c == '=' || c == '!' || c == '<' || c == '>':
			start := i
			op := string(c)
			if i+1 < len(src) {
				two := src[i : i+2]
				switch two {
				case "==", "!=", "<=", ">=", "<>":
					op = two
				}
			}
			i += len(op)
			kind := TokenOp
			if op == "!" {
				kind = TokenIllegal
			}
			tokens = append(tokens, Token{Kind: kind, Text: op, Value: op, Start: start, End: i})

		default:
			tokens = append(tokens, Token{Kind: TokenIllegal, Text: src[i : i+1], Value: src[i : i+1], Start: i, End: i + 1})
			i++
		}
	}
	return tokens
}

// scanLiteral reads the quoted literal starting at src[start]. A backslash
// escapes a quote of either kind or another backslash; any other backslash is
// kept as is. It returns the unescaped value and the offset past the closing
// quote.
func scanLiteral(src string, start int) (string, int, bool) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, true
		case c == '\\' && i+1 < len(src) && isEscapable(src[i+1]):
			i++
			b.WriteByte(src[i])
		default:
			b.WriteByte(c)
		}
	}
	return "", len(src), false
}

func isEscapable(c byte) bool {
	return c == '\\' || c == '\'' || c == '"'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
