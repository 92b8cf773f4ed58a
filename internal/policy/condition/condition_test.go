package condition

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// record is a map-backed Record for tests.
type record map[string]Value

func (r record) Lookup(field string) (Value, bool) {
	v, ok := r[strings.ToLower(field)]
	return v, ok
}

func txn(category string, amount float64) record {
	return record{
		"category": String(category),
		"amount":   Number(amount),
		"merchant": String("Acme Air"),
		"city":     String("Berlin"),
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize(`category == 'Travel' AND amount >= 300.5`)

	var kinds []TokenKind
	var values []string
	for _, tok := range tokens {
		kinds = append(kinds, tok.Kind)
		values = append(values, tok.Value)
	}

	wantKinds := []TokenKind{TokenIdent, TokenOp, TokenString, TokenAnd, TokenIdent, TokenOp, TokenNumber}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	wantValues := []string{"category", "==", "Travel", "AND", "amount", ">=", "300.5"}
	if diff := cmp.Diff(wantValues, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

// TestQuoteLiteralRoundTrip tests that quoted values tokenize back to
// themselves.
func TestQuoteLiteralRoundTrip(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{value: "Meals", want: "'Meals'"},
		{value: "Bob's", want: `"Bob's"`},
		{value: `say "hi"`, want: `'say "hi"'`},
		{value: `Bob's "Bar"`, want: `'Bob\'s "Bar"'`},
		{value: `C:\expenses`, want: `'C:\\expenses'`},
		{value: `trailing\`, want: `'trailing\\'`},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			quoted := QuoteLiteral(tt.value)
			if quoted != tt.want {
				t.Errorf("QuoteLiteral(%q) = %s, want %s", tt.value, quoted, tt.want)
			}
			tokens := Tokenize("category == " + quoted)
			if len(tokens) != 3 || tokens[2].Kind != TokenString || tokens[2].Value != tt.value {
				t.Fatalf("Tokenize() = %+v, want string %q", tokens, tt.value)
			}
			if got := Parse("category == " + quoted).String(); got != "category == "+quoted {
				t.Errorf("String() = %s", got)
			}
		})
	}

	if got := QuoteWith(`a"b`, '"'); got != `"a\"b"` {
		t.Errorf("QuoteWith() = %s", got)
	}
}

// TestTokenizeConnectives tests that only whitespace-delimited and/or join
// clauses.
func TestTokenizeConnectives(t *testing.T) {
	tests := []struct {
		src  string
		want []TokenKind
	}{
		{"amount > 5 and amount < 9", []TokenKind{TokenIdent, TokenOp, TokenNumber, TokenAnd, TokenIdent, TokenOp, TokenNumber}},
		{"amount>100or x", []TokenKind{TokenIdent, TokenOp, TokenNumber, TokenIdent, TokenIdent}},
		{"amount > 5 and", []TokenKind{TokenIdent, TokenOp, TokenNumber, TokenIdent}},
		{"(amount > 5) OR (amount < 1)", []TokenKind{
			TokenLParen, TokenIdent, TokenOp, TokenNumber, TokenRParen, TokenOr,
			TokenLParen, TokenIdent, TokenOp, TokenNumber, TokenRParen,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			var kinds []TokenKind
			for _, tok := range Tokenize(tt.src) {
				kinds = append(kinds, tok.Kind)
			}
			if diff := cmp.Diff(tt.want, kinds); diff != "" {
				t.Errorf("kinds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenizeIllegal(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"tilde operator", "foo ~= bar"},
		{"bang alone", "!amount"},
		{"unterminated string", "category == 'Travel"},
		{"currency sign", "amount > $300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found := false
			for _, tok := range Tokenize(tt.src) {
				if tok.Kind == TokenIllegal {
					found = true
				}
			}
			if !found {
				t.Errorf("Tokenize(%q) produced no illegal token", tt.src)
			}
		})
	}
}

func TestParseStructure(t *testing.T) {
	expr := Parse("amount > 100 or category == 'Alcohol' and city != \"Paris\"")

	if len(expr.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(expr.Groups))
	}
	if len(expr.Groups[0].Clauses) != 1 {
		t.Errorf("group[0] clauses = %d, want 1", len(expr.Groups[0].Clauses))
	}
	if len(expr.Groups[1].Clauses) != 2 {
		t.Fatalf("group[1] clauses = %d, want 2", len(expr.Groups[1].Clauses))
	}

	first := expr.Groups[0].Clauses[0]
	if first.Kind != ClauseNumeric || first.Op != OpGt || first.Number != 100 {
		t.Errorf("group[0] clause = %+v, want amount > 100", first)
	}

	city := expr.Groups[1].Clauses[1]
	if city.Kind != ClauseString || city.Field != "city" || city.Op != OpNe || city.Str != "Paris" {
		t.Errorf("group[1] clause[1] = %+v, want city != Paris", city)
	}
}

func TestParseClauseForms(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		kind   ClauseKind
		field  string
		op     Op
		number float64
		str    string
		loose  bool
	}{
		{name: "amount greater", src: "amount > 50", kind: ClauseNumeric, field: "amount", op: OpGt, number: 50},
		{name: "amount single equals", src: "amount = 50", kind: ClauseNumeric, field: "amount", op: OpEq, number: 50},
		{name: "amount less equal decimal", src: "amount <= 12.75", kind: ClauseNumeric, field: "amount", op: OpLe, number: 12.75},
		{name: "parenthesized", src: "(amount >= 10)", kind: ClauseNumeric, field: "amount", op: OpGe, number: 10},
		{name: "upper case field", src: "Amount < 5", kind: ClauseNumeric, field: "amount", op: OpLt, number: 5},
		{name: "string equals", src: "category == 'Meals'", kind: ClauseString, field: "category", op: OpEq, str: "Meals"},
		{name: "string single equals", src: "merchant = 'Bar'", kind: ClauseString, field: "merchant", op: OpEq, str: "Bar"},
		{name: "double quoted", src: `channel != "online"`, kind: ClauseString, field: "channel", op: OpNe, str: "online"},
		{name: "loose amount", src: "total amount > 75 per day", kind: ClauseNumeric, field: "amount", op: OpGt, number: 75, loose: true},
		{name: "string ordering rejected", src: "category > 'A'", kind: ClauseUnknown},
		{name: "numeric other field", src: "merchant_txn_7d > 5", kind: ClauseUnknown},
		{name: "unknown operator", src: "foo ~= bar", kind: ClauseUnknown},
		{name: "nested parens", src: "((amount > 5))", kind: ClauseNumeric, field: "amount", op: OpGt, number: 5, loose: true},
		{name: "nested parens string", src: "((category == 'A'))", kind: ClauseUnknown},
		{name: "bad number", src: "amount > 1.2.3", kind: ClauseUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr := Parse(tt.src)
			if len(expr.Groups) != 1 || len(expr.Groups[0].Clauses) != 1 {
				t.Fatalf("Parse(%q) = %+v, want one clause", tt.src, expr)
			}
			c := expr.Groups[0].Clauses[0]
			if c.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", c.Kind, tt.kind)
			}
			if tt.kind == ClauseUnknown {
				return
			}
			if c.Field != tt.field || c.Op != tt.op || c.Number != tt.number || c.Str != tt.str || c.Loose != tt.loose {
				t.Errorf("clause = %+v", c)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	for _, src := range []string{"", "   ", "\t\n"} {
		expr := Parse(src)
		if !expr.Empty() {
			t.Errorf("Parse(%q) should be empty", src)
		}
		if expr.Match(txn("Travel", 1000)) {
			t.Errorf("empty expression matched")
		}
	}
}

func TestEvaluateScenarios(t *testing.T) {
	tests := []struct {
		name string
		cond string
		rec  record
		want bool
	}{
		{"strict greater above", "category == 'Travel' and amount > 300", txn("Travel", 301), true},
		{"strict greater at threshold", "category == 'Travel' and amount > 300", txn("Travel", 300), false},
		{"wrong category", "category == 'Travel' and amount > 300", txn("Meals", 301), false},
		{"or second group", "amount > 100 or category == 'Alcohol'", txn("Alcohol", 50), true},
		{"or neither", "amount > 100 or category == 'Alcohol'", txn("Meals", 50), false},
		{"case sensitive string", "category == 'travel'", txn("Travel", 10), false},
		{"upper case connectives", "category == 'Travel' AND amount > 5", txn("Travel", 10), true},
		{"not equal", "category != 'Travel'", txn("Meals", 10), true},
		{"equal amount", "amount == 10", txn("Meals", 10), true},
		{"not equal amount", "amount != 10", txn("Meals", 10), false},
		{"unknown clause fails group", "foo ~= bar", txn("Travel", 1000), false},
		{"unknown clause in and", "amount > 5 and foo ~= bar", txn("Travel", 1000), false},
		{"unknown clause in other group", "foo ~= bar or amount > 5", txn("Travel", 1000), true},
		{"unknown field", "department == 'Sales'", txn("Travel", 1000), false},
		{"unknown field not equal", "department != 'Sales'", txn("Travel", 1000), false},
		{"string compare on amount", "amount == '10'", txn("Travel", 10), false},
		{"loose amount", "meal amount > 75 per person", txn("Meals", 80), true},
		{"trailing and is a word", "amount > 5 and", txn("Meals", 80), true},
		{"connective needs spaces", "amount>100or category=='X'", txn("X", 50), false},
		{"number glued to a word", "amount>100or category=='X'", txn("Travel", 500), false},
		{"loose threshold followed by words", "amount > 100 or more", txn("Travel", 500), true},
		{"comma grouped threshold", "amount > 1,000", txn("Travel", 500), false},
		{"exponent threshold", "amount > 1e2", txn("Travel", 500), false},
		{"threshold before paren", "(amount > 75) per day", txn("Meals", 80), true},
		{"escaped quotes", `category == 'Bob\'s "Bar"' and amount > 10`,
			record{"category": String(`Bob's "Bar"`), "amount": Number(50)}, true},
		{"quoted connective", "merchant == 'Bread and Butter'", record{"merchant": String("Bread and Butter")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.cond, tt.rec); got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

// panicRecord panics on every lookup.
type panicRecord struct{}

func (panicRecord) Lookup(string) (Value, bool) { panic("boom") }

func TestEvaluateNeverPanics(t *testing.T) {
	inputs := []string{
		"", "(", ")", "()", "'", `"`, "==", "amount >", "> 5", "and", "or or or",
		"amount > 5 or", "category == ", "((((", "amount >>= 5", "\x00\xff",
		"amount > 5", "category == 'x'",
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Evaluate(%q) panicked: %v", in, r)
				}
			}()
			Evaluate(in, txn("Travel", 10))
			if Evaluate(in, panicRecord{}) {
				t.Errorf("Evaluate(%q) with failing record matched", in)
			}
			Evaluate(in, nil)
		}()
	}
}

func TestUnknownClauses(t *testing.T) {
	expr := Parse("amount > 5 and foo ~= bar or description mentions alcohol")
	got := expr.UnknownClauses()
	want := []string{"foo ~= bar", "description mentions alcohol"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UnknownClauses mismatch (-want +got):\n%s", diff)
	}
}

func TestExprString(t *testing.T) {
	got := Parse("( amount>300 )  AND category='Travel' OR merchant == \"Bob's\"").String()
	want := `amount > 300 and category == 'Travel' or merchant == "Bob's"`
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"category = 'Meals' AND amount > 75", "category == 'Meals' and amount > 75"},
		{"category <> 'Meals' OR amount>=5", "category != 'Meals' or amount >= 5"},
		{"(amount > 5)", "(amount > 5)"},
		{"amount   >   5", "amount > 5"},
	}
	for _, tt := range tests {
		if got := Canonicalize(tt.in); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := Canonicalize(tt.want); again != tt.want {
			t.Errorf("Canonicalize is not idempotent on %q: %q", tt.want, again)
		}
	}
}

func TestToSQL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"category == 'Meals' and amount > 75", "category = 'Meals' AND amount > 75"},
		{"category != \"Bob's\" or amount <= 5", "category <> 'Bob''s' OR amount <= 5"},
		{"is_fraud == True", "is_fraud = 1"},
	}
	for _, tt := range tests {
		if got := ToSQL(tt.in); got != tt.want {
			t.Errorf("ToSQL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFieldsAndLiterals(t *testing.T) {
	cond := "category == 'Meals' and amount > 75 or Category == 'Bar' and is_fraud == True"

	if diff := cmp.Diff([]string{"category", "amount", "is_fraud"}, Fields(cond)); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}

	want := map[string][]string{"category": {"Meals", "Bar"}}
	if diff := cmp.Diff(want, Literals(cond)); diff != "" {
		t.Errorf("Literals mismatch (-want +got):\n%s", diff)
	}
}
