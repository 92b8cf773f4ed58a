package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// Validator checks a rule document before compilation.
type Validator struct {
	labels map[string]int
}

// NewValidator creates a new document validator.
func NewValidator() *Validator {
	return &Validator{
		labels: make(map[string]int),
	}
}

// Validate rejects documents that cannot be compiled at all.
func (v *Validator) Validate(doc *policy.RuleDocument) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	return nil
}

// ValidateWarnings returns non-fatal findings about the document.
func (v *Validator) ValidateWarnings(doc *policy.RuleDocument, labels []string) []string {
	v.labels = make(map[string]int) // Reset for each validation

	var warnings []string
	if len(doc.Rules) == 0 {
		warnings = append(warnings, "document has no rules")
	}

	for i, r := range doc.Rules {
		if strings.TrimSpace(r.Condition) == "" {
			warnings = append(warnings, fmt.Sprintf("rule[%d] %q has no condition and never matches", i, labels[i]))
			continue
		}
		expr := condition.Parse(r.Condition)
		for _, g := range expr.Groups {
			for _, c := range g.Clauses {
				if c.Loose {
					warnings = append(warnings, fmt.Sprintf("rule[%d] %q: clause %q read as amount > %s",
						i, labels[i], c.Text, condition.FormatNumber(c.Number)))
				}
			}
		}
	}

	for _, label := range labels {
		v.labels[label]++
	}
	var dupes []string
	for label, n := range v.labels {
		if n > 1 {
			dupes = append(dupes, label)
		}
	}
	sort.Strings(dupes)
	for _, label := range dupes {
		warnings = append(warnings, fmt.Sprintf("label %q is shared by %d rules", label, v.labels[label]))
	}

	return warnings
}
