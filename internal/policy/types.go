package policy

import (
	"strconv"
	"strings"

	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// DefaultVersion is the version assigned to documents that do not carry one.
const DefaultVersion = "1.0"

// Document sources recorded in RuleDocument.Source.
const (
	SourceParser    = "parser"
	SourceHeuristic = "heuristic"
	SourceFallback  = "fallback"
	SourceEdited    = "edited"
)

// RuleDocument is the canonical set of policy rules plus metadata.
// Documents are treated as immutable values; every pipeline stage returns a copy.
type RuleDocument struct {
	Rules   []Rule `json:"rules"`
	Version string `json:"version"`
	Source  string `json:"source"`
	Parser  string `json:"parser,omitempty"`
}

// Rule is a single policy rule.
type Rule struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Condition        string   `json:"condition,omitempty"`
	SQLCondition     string   `json:"sql_condition,omitempty"`
	Threshold        *float64 `json:"threshold,omitempty"`
	Unit             string   `json:"unit,omitempty"`
	Category         string   `json:"category,omitempty"`
	Scope            string   `json:"scope,omitempty"`
	AppliesWhen      string   `json:"applies_when,omitempty"`
	ViolationMessage string   `json:"violation_message,omitempty"`

	// Diagnostics filled in by Annotate.
	Enforceable    *bool    `json:"enforceable,omitempty"`
	ConditionValid *bool    `json:"condition_valid,omitempty"`
	InvalidFields  []string `json:"invalid_fields,omitempty"`
	Confidence     string   `json:"confidence,omitempty"`

	SuggestedFieldMapping map[string]string   `json:"suggested_field_mapping,omitempty"`
	NonEnforceableReasons map[string][]string `json:"non_enforceable_reasons,omitempty"`
}

// Transaction is a single expense record. It is read-only input to evaluation.
type Transaction struct {
	TxnID      string  `json:"txn_id"`
	Amount     float64 `json:"amount"`
	Category   string  `json:"category"`
	Merchant   string  `json:"merchant"`
	City       string  `json:"city"`
	Timestamp  string  `json:"timestamp"`
	Channel    string  `json:"channel"`
	CardID     string  `json:"card_id"`
	EmployeeID string  `json:"employee_id"`
}

// TransactionFields lists the field names a condition may reference.
var TransactionFields = []string{
	"txn_id", "amount", "category", "merchant", "city",
	"timestamp", "channel", "card_id", "employee_id",
}

// Lookup returns a transaction field by its condition name.
func (t Transaction) Lookup(field string) (condition.Value, bool) {
	switch strings.ToLower(field) {
	case "amount":
		return condition.Number(t.Amount), true
	case "txn_id":
		return condition.String(t.TxnID), true
	case "category":
		return condition.String(t.Category), true
	case "merchant":
		return condition.String(t.Merchant), true
	case "city":
		return condition.String(t.City), true
	case "timestamp":
		return condition.String(t.Timestamp), true
	case "channel":
		return condition.String(t.Channel), true
	case "card_id":
		return condition.String(t.CardID), true
	case "employee_id":
		return condition.String(t.EmployeeID), true
	}
	return condition.Value{}, false
}

// ComplianceVerdict is the result of evaluating a document against one transaction.
type ComplianceVerdict struct {
	Compliant     bool     `json:"compliant"`
	ViolatedRules []string `json:"violated_rules"`
	Reason        string   `json:"reason"`
}

// NewVerdict builds a verdict from the labels of the violated rules.
func NewVerdict(violated []string) ComplianceVerdict {
	if violated == nil {
		violated = []string{}
	}
	return ComplianceVerdict{
		Compliant:     len(violated) == 0,
		ViolatedRules: violated,
		Reason:        strings.Join(violated, "; "),
	}
}

// ScoredTransaction is a transaction with its verdict attached under "policy".
type ScoredTransaction struct {
	Transaction
	Policy ComplianceVerdict `json:"policy"`
}

// Clone returns a deep copy of the document.
func (d *RuleDocument) Clone() *RuleDocument {
	if d == nil {
		return nil
	}
	out := *d
	out.Rules = make([]Rule, len(d.Rules))
	for i, r := range d.Rules {
		out.Rules[i] = r.Clone()
	}
	return &out
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	if r.Threshold != nil {
		v := *r.Threshold
		out.Threshold = &v
	}
	if r.Enforceable != nil {
		v := *r.Enforceable
		out.Enforceable = &v
	}
	if r.ConditionValid != nil {
		v := *r.ConditionValid
		out.ConditionValid = &v
	}
	if r.InvalidFields != nil {
		out.InvalidFields = append([]string(nil), r.InvalidFields...)
	}
	if r.SuggestedFieldMapping != nil {
		out.SuggestedFieldMapping = make(map[string]string, len(r.SuggestedFieldMapping))
		for k, v := range r.SuggestedFieldMapping {
			out.SuggestedFieldMapping[k] = v
		}
	}
	if r.NonEnforceableReasons != nil {
		out.NonEnforceableReasons = make(map[string][]string, len(r.NonEnforceableReasons))
		for k, v := range r.NonEnforceableReasons {
			out.NonEnforceableReasons[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Violates reports whether txn violates the rule. A rule without a condition
// never matches.
func (r Rule) Violates(txn Transaction) bool {
	if strings.TrimSpace(r.Condition) == "" {
		return false
	}
	return condition.Evaluate(r.Condition, txn)
}

// RuleBuilder helps construct rules.
type RuleBuilder struct {
	rule Rule
}

// NewRuleBuilder starts a rule with the given name.
func NewRuleBuilder(name string) *RuleBuilder {
	return &RuleBuilder{rule: Rule{Name: name}}
}

// WithDescription sets the human-readable description.
func (b *RuleBuilder) WithDescription(desc string) *RuleBuilder {
	b.rule.Description = desc
	return b
}

// WithCondition sets the machine-checkable condition.
func (b *RuleBuilder) WithCondition(cond string) *RuleBuilder {
	b.rule.Condition = cond
	return b
}

// WithThreshold sets the numeric threshold and its unit.
func (b *RuleBuilder) WithThreshold(threshold float64, unit string) *RuleBuilder {
	b.rule.Threshold = &threshold
	b.rule.Unit = unit
	return b
}

// WithCategory sets the expense category.
func (b *RuleBuilder) WithCategory(category string) *RuleBuilder {
	b.rule.Category = category
	return b
}

// WithScope sets the scope and applicability.
func (b *RuleBuilder) WithScope(scope, appliesWhen string) *RuleBuilder {
	b.rule.Scope = scope
	b.rule.AppliesWhen = appliesWhen
	return b
}

// WithViolationMessage sets the message reported on violation.
func (b *RuleBuilder) WithViolationMessage(msg string) *RuleBuilder {
	b.rule.ViolationMessage = msg
	return b
}

// Build returns the constructed rule.
func (b *RuleBuilder) Build() Rule {
	return b.rule.Clone()
}

// formatThreshold renders a threshold in its shortest decimal form.
func formatThreshold(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
