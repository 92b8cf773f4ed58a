package compiler

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/agentfacts/expense-compliance/internal/compliance"
	"github.com/agentfacts/expense-compliance/internal/policy"
)

func scenarioDocument() *policy.RuleDocument {
	return &policy.RuleDocument{
		Version: policy.DefaultVersion,
		Source:  policy.SourceParser,
		Rules: []policy.Rule{
			{Name: "Travel cap", Description: "Travel over $300", Condition: "category == 'Travel' and amount > 300"},
			{Name: "Meals or casino", Condition: "category == 'Meals' and amount > 75 or merchant == 'Casino'"},
			{Name: "Typed", Condition: "amount != 'x'"},
			{Name: "Garbage", Condition: "foo bar baz"},
			{Name: "Dup", Condition: "city == 'Vegas'"},
			{Name: "Dup", Condition: "channel == 'atm'"},
			{ViolationMessage: "Loose amount", Condition: "((amount > 1000))"},
		},
	}
}

// TestCompileModule verifies the structure of the generated Rego.
func TestCompileModule(t *testing.T) {
	result, err := NewCompiler().Compile(scenarioDocument())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if result.ModuleName != "expense_policy.rego" {
		t.Errorf("ModuleName = %q", result.ModuleName)
	}

	wantLabels := []string{"Travel cap", "Meals or casino", "Typed", "Garbage", "Dup", "Dup", "Loose amount"}
	if diff := cmp.Diff(wantLabels, result.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}

	for _, want := range []string{
		"package expense.policy",
		"import rego.v1",
		`violations contains "rule_0" if {`,
		`input["category"] == "Travel"`,
		`is_number(input["amount"])`,
		`input["amount"] > 300`,
		`input["merchant"] == "Casino"`,
		`is_string(input["amount"])`,
		"# Travel over $300",
	} {
		if !strings.Contains(result.Module, want) {
			t.Errorf("module missing %q:\n%s", want, result.Module)
		}
	}

	// Two OR-groups give two bodies for the same rule.
	if n := strings.Count(result.Module, `violations contains "rule_1" if {`); n != 2 {
		t.Errorf("rule_1 bodies = %d, want 2", n)
	}
	if strings.Contains(result.Module, `violations contains "rule_3" if {`) {
		t.Error("rule with no valid group should not produce a body")
	}
}

// TestCompileWarnings verifies non-fatal findings are reported.
func TestCompileWarnings(t *testing.T) {
	result, err := NewCompiler().Compile(scenarioDocument())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	joined := strings.Join(result.Warnings, "\n")
	for _, want := range []string{
		`rule[3] "Garbage": group 0 dropped`,
		`label "Dup" is shared by 2 rules`,
		`read as amount > 1000`,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}
}

// TestCompileEdgeCases covers nil and empty documents.
func TestCompileEdgeCases(t *testing.T) {
	if _, err := NewCompiler().Compile(nil); err == nil {
		t.Error("Compile(nil) should fail")
	}

	result, err := NewCompiler().Compile(&policy.RuleDocument{Version: "1.0", Source: "edited"})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != "document has no rules" {
		t.Errorf("Warnings = %v", result.Warnings)
	}

	ev, err := NewEvaluator(context.Background(), result)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	got, err := ev.Evaluate(context.Background(), policy.Transaction{Amount: 10})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Evaluate() = %v, want empty", got)
	}
}

// TestEvaluatorMatchesNative verifies OPA verdicts agree with the native engine.
func TestEvaluatorMatchesNative(t *testing.T) {
	doc := scenarioDocument()
	result, err := NewCompiler().Compile(doc)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	ev, err := NewEvaluator(context.Background(), result)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	native := compliance.Prepare(doc, nil)

	tests := []struct {
		name string
		txn  policy.Transaction
		want []string
	}{
		{
			name: "travel over cap",
			txn:  policy.Transaction{TxnID: "t1", Category: "Travel", Amount: 500},
			want: []string{"Travel cap"},
		},
		{
			name: "travel under cap",
			txn:  policy.Transaction{TxnID: "t2", Category: "Travel", Amount: 200},
			want: []string{},
		},
		{
			name: "case sensitive category",
			txn:  policy.Transaction{TxnID: "t3", Category: "travel", Amount: 500},
			want: []string{},
		},
		{
			name: "meals over",
			txn:  policy.Transaction{TxnID: "t4", Category: "Meals", Amount: 80},
			want: []string{"Meals or casino"},
		},
		{
			name: "casino any amount",
			txn:  policy.Transaction{TxnID: "t5", Merchant: "Casino", Amount: 1},
			want: []string{"Meals or casino"},
		},
		{
			name: "shared labels both fire",
			txn:  policy.Transaction{TxnID: "t6", City: "Vegas", Channel: "atm"},
			want: []string{"Dup", "Dup"},
		},
		{
			name: "loose clause",
			txn:  policy.Transaction{TxnID: "t7", Category: "Travel", Amount: 1500},
			want: []string{"Travel cap", "Loose amount"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(context.Background(), tt.txn)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("OPA mismatch (-want +got):\n%s", diff)
			}

			verdict := native.Verdict(tt.txn)
			if diff := cmp.Diff(verdict.ViolatedRules, got); diff != "" {
				t.Errorf("native and OPA disagree (-native +opa):\n%s", diff)
			}
		})
	}

	evals, errs := ev.Stats()
	if evals != int64(len(tests)) || errs != 0 {
		t.Errorf("Stats() = %d, %d", evals, errs)
	}
}

// TestCrossCheck verifies agreeing verdicts pass and tampered ones are reported.
func TestCrossCheck(t *testing.T) {
	doc := scenarioDocument()
	txns := []policy.Transaction{
		{TxnID: "t1", Category: "Travel", Amount: 500},
		{TxnID: "t2", Category: "Meals", Amount: 10},
		{TxnID: "t3", City: "Vegas"},
	}
	scored := compliance.ApplyPolicy(doc, txns)

	c := NewCompiler()
	report, err := c.CrossCheck(context.Background(), doc, scored)
	if err != nil {
		t.Fatalf("CrossCheck() error = %v", err)
	}
	if report.Checked != 3 || report.Mismatched != 0 {
		t.Errorf("CrossCheck() = %+v, want 3 checked, 0 mismatched", report)
	}
	if len(report.Warnings) == 0 {
		t.Error("CrossCheck() lost the compile warnings")
	}

	scored[1].Policy = policy.NewVerdict([]string{"Travel cap"})
	report, err = c.CrossCheck(context.Background(), doc, scored)
	if err != nil {
		t.Fatalf("CrossCheck() error = %v", err)
	}
	want := []Mismatch{{TxnID: "t2", Native: []string{"Travel cap"}, Rego: []string{}}}
	if diff := cmp.Diff(want, report.Mismatches); diff != "" {
		t.Errorf("Mismatches (-want +got):\n%s", diff)
	}
}
