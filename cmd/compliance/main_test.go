package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute(%v) error = %v", args, err)
	}
	return out.String()
}

// TestScoreCommand tests the end-to-end CLI scoring path.
func TestScoreCommand(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.json",
		`{"policy_rules": [{"name": "Travel cap", "threshold": 300, "category": "travel"}]}`)
	dataPath := writeFile(t, dir, "txns.csv",
		"txn_id,amount,category,employee_id\nt1,\"$1,450.00\",Travel,e1\nt2,120,Travel,e2\n")
	dbPath := filepath.Join(dir, "verdicts.db")

	out := execute(t, "score", "--policy", policyPath, "--data", dataPath,
		"--output", "jsonl", "--cross-check", "--audit-db", dbPath)

	var scored []policy.ScoredTransaction
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var st policy.ScoredTransaction
		if err := json.Unmarshal(sc.Bytes(), &st); err != nil {
			t.Fatalf("Unmarshal(%q) error = %v", sc.Text(), err)
		}
		scored = append(scored, st)
	}

	if len(scored) != 2 {
		t.Fatalf("scored = %d lines, want 2:\n%s", len(scored), out)
	}
	if scored[0].Policy.Compliant || scored[0].Policy.Reason != "Travel cap" {
		t.Errorf("t1 = %+v, want Travel cap violation", scored[0].Policy)
	}
	if !scored[1].Policy.Compliant {
		t.Errorf("t2 = %+v, want compliant", scored[1].Policy)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("verdict log not written: %v", err)
	}

	table := execute(t, "score", "--policy", policyPath, "--data", dataPath, "--output", "table")
	for _, want := range []string{"Travel cap", "1450.00", "1/2"} {
		if !strings.Contains(table, want) {
			t.Errorf("table missing %q:\n%s", want, table)
		}
	}
}

// TestPolicyCommands tests normalize, validate and rego on files.
func TestPolicyCommands(t *testing.T) {
	dir := t.TempDir()
	response := writeFile(t, dir, "response.json",
		`{"output": "`+"```json\\n"+`{\"rules\": [{\"name\": \"Meal cap\", \"threshold\": 75, \"category\": \"meals\"}]}`+"\\n```"+`"}`)

	out := execute(t, "normalize", response, "--categories", "Meals,Travel")
	var doc policy.RuleDocument
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].Condition != "category == 'Meals' and amount > 75" {
		t.Errorf("normalize = %+v", doc.Rules)
	}

	edited := writeFile(t, dir, "edited.json", out)
	if got := execute(t, "validate", edited); !strings.HasPrefix(got, "valid: 1 rules") {
		t.Errorf("validate = %q", got)
	}

	module := execute(t, "rego", edited)
	if !strings.Contains(module, "package expense.policy") || !strings.Contains(module, `input["amount"] > 75`) {
		t.Errorf("rego module:\n%s", module)
	}

	if got := execute(t, "version"); !strings.Contains(got, version) {
		t.Errorf("version = %q", got)
	}
}
