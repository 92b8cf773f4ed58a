// Package compiler compiles rule documents to OPA Rego modules and evaluates
// them, giving an independent cross-check of the native condition evaluator.
package compiler

import (
	"fmt"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// Package and query of every generated module.
const (
	PackageName     = "expense.policy"
	ViolationsQuery = "data.expense.policy.violations"
)

// CompileResult contains the compiled Rego output.
type CompileResult struct {
	// ModuleName is the file name of the generated module.
	ModuleName string

	// Module is the generated Rego source.
	Module string

	// Labels lists the verdict label of each rule in document order.
	Labels []string

	// IDs lists the set element each rule contributes to violations.
	IDs []string

	// Warnings during compilation (non-fatal)
	Warnings []string

	// Source document for reference
	Source *policy.RuleDocument
}

// Modules returns the result as a name to source map for rego.Module options.
func (r *CompileResult) Modules() map[string]string {
	return map[string]string{r.ModuleName: r.Module}
}

// RuleData provides data for the rule template.
type RuleData struct {
	Index       int
	ID          string
	Label       string
	Description string
	Condition   string
	// Bodies holds one rendered body per OR-group.
	Bodies [][]string
}

// TemplateData provides data for the header template.
type TemplateData struct {
	Version   string
	Source    string
	Rules     int
	Timestamp string
}

// RuleID returns the violations set element of the rule at index i. Labels
// are not unique, so the set is keyed by position.
func RuleID(i int) string {
	return fmt.Sprintf("rule_%d", i)
}
