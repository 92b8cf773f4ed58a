package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// machineCheckable matches conditions that already carry a comparison or a
// boolean connective.
var machineCheckable = regexp.MustCompile(`(?i)<=|>=|==|!=|<|>|\band\b|\bor\b`)

// LooksMachineCheckable reports whether a condition already reads as an
// expression rather than prose.
func LooksMachineCheckable(cond string) bool {
	return machineCheckable.MatchString(cond)
}

// Synthesize derives a condition for a rule that lacks a machine-checkable one.
// With a numeric threshold and a category the condition is
// "category == '<category>' and amount > <threshold>". Otherwise the rule is
// returned unchanged.
func Synthesize(rule Rule) Rule {
	out := rule.Clone()
	if strings.TrimSpace(out.Condition) != "" && LooksMachineCheckable(out.Condition) {
		return out
	}
	if out.Threshold == nil || strings.TrimSpace(out.Category) == "" {
		return out
	}
	out.Condition = fmt.Sprintf("category == %s and amount > %s",
		condition.QuoteLiteral(out.Category), formatThreshold(*out.Threshold))
	return out
}

// SynthesizeDocument applies Synthesize to every rule of a copy of doc.
func SynthesizeDocument(doc *RuleDocument) *RuleDocument {
	if doc == nil {
		return nil
	}
	out := doc.Clone()
	for i, r := range out.Rules {
		out.Rules[i] = Synthesize(r)
	}
	return out
}
