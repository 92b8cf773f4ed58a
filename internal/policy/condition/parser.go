package condition

import (
	"strconv"
	"strings"
)

// AmountField is the only numeric field conditions may compare against.
const AmountField = "amount"

// Parse builds the AST for a condition:
//
//	expr   := group { "or" group }
//	group  := clause { "and" clause }
//	clause := [ "(" ] amount op number [ ")" ]
//	        | [ "(" ] field ("==" | "=" | "!=") string [ ")" ]
//
// Clauses that fit neither form but contain "amount > <number>" are read as
// that comparison; anything else becomes a ClauseUnknown. Parse never fails.
func Parse(src string) *Expr {
	expr := &Expr{Source: src}
	if strings.TrimSpace(src) == "" {
		return expr
	}
	p := &parser{src: src, tokens: Tokenize(src)}
	expr.Groups = p.parseExpr()
	return expr
}

type parser struct {
	src    string
	tokens []Token
	pos    int
}

func (p *parser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) parseExpr() []Group {
	groups := []Group{p.parseGroup()}
	// parseGroup stops only at "or" or end of input
	for !p.done() {
		p.pos++
		groups = append(groups, p.parseGroup())
	}
	return groups
}

func (p *parser) parseGroup() Group {
	g := Group{Clauses: []Clause{p.parseClause()}}
	for !p.done() && p.tokens[p.pos].Kind == TokenAnd {
		p.pos++
		g.Clauses = append(g.Clauses, p.parseClause())
	}
	return g
}

// parseClause consumes tokens up to the next connective.
func (p *parser) parseClause() Clause {
	start := p.pos
	for p.pos < len(p.tokens) {
		k := p.tokens[p.pos].Kind
		if k == TokenAnd || k == TokenOr {
			break
		}
		p.pos++
	}
	return p.buildClause(p.tokens[start:p.pos])
}

func (p *parser) buildClause(toks []Token) Clause {
	if len(toks) == 0 {
		return Clause{Kind: ClauseUnknown}
	}
	if len(toks) >= 2 && toks[0].Kind == TokenLParen && toks[len(toks)-1].Kind == TokenRParen {
		toks = toks[1 : len(toks)-1]
		if len(toks) == 0 {
			return Clause{Kind: ClauseUnknown, Text: "()"}
		}
	}
	text := p.src[toks[0].Start:toks[len(toks)-1].End]

	if c, ok := exactClause(toks); ok {
		c.Text = text
		return c
	}
	if c, ok := looseAmountClause(toks); ok {
		c.Text = text
		return c
	}
	return Clause{Kind: ClauseUnknown, Text: text}
}

// exactClause recognises the two three-token clause forms.
func exactClause(toks []Token) (Clause, bool) {
	if len(toks) != 3 || toks[0].Kind != TokenIdent || toks[1].Kind != TokenOp {
		return Clause{}, false
	}
	op, ok := parseOp(toks[1].Value)
	if !ok {
		return Clause{}, false
	}
	field := strings.ToLower(toks[0].Value)

	switch toks[2].Kind {
	case TokenNumber:
		if field != AmountField {
			return Clause{}, false
		}
		n, err := strconv.ParseFloat(toks[2].Value, 64)
		if err != nil {
			return Clause{}, false
		}
		return Clause{Kind: ClauseNumeric, Field: field, Op: op, Number: n}, true

	case TokenString:
		if op != OpEq && op != OpNe {
			return Clause{}, false
		}
		return Clause{Kind: ClauseString, Field: field, Op: op, Str: toks[2].Value}, true
	}
	return Clause{}, false
}

// looseAmountClause finds "amount > <number>" anywhere in the clause. A number
// that runs straight into a comma, a word or another number ("1,000", "1e2")
// is only the head of a longer figure and is not read as a threshold.
func looseAmountClause(toks []Token) (Clause, bool) {
	for i := 0; i+2 < len(toks); i++ {
		if toks[i].Kind != TokenIdent || !strings.EqualFold(toks[i].Value, AmountField) {
			continue
		}
		if toks[i+1].Kind != TokenOp || toks[i+1].Value != ">" || toks[i+2].Kind != TokenNumber {
			continue
		}
		if i+3 < len(toks) && truncatesNumber(toks[i+2], toks[i+3]) {
			continue
		}
		n, err := strconv.ParseFloat(toks[i+2].Value, 64)
		if err != nil {
			continue
		}
		return Clause{Kind: ClauseNumeric, Field: AmountField, Op: OpGt, Number: n, Loose: true}, true
	}
	return Clause{}, false
}

func truncatesNumber(num, next Token) bool {
	if next.Start != num.End {
		return false
	}
	switch next.Kind {
	case TokenIdent, TokenNumber, TokenIllegal:
		return true
	}
	return false
}
