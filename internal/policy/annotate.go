package policy

import (
	"strings"

	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// Confidence levels assigned by Annotate.
const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

// fieldSynonyms maps policy vocabulary onto transaction fields.
var fieldSynonyms = map[string]string{
	"day_total":    "amount",
	"nightly_rate": "amount",
	"trip_type":    "category",
}

// Vocabulary describes what a condition may legitimately reference.
type Vocabulary struct {
	// Fields are the allowed identifiers. Empty means TransactionFields.
	Fields []string
	// Values holds the known values of entity fields such as category,
	// merchant or city. Fields without an entry are not value-checked.
	Values map[string][]string
}

// Annotate returns a copy of doc with each rule's condition canonicalized and
// diagnostics filled in: sql_condition, condition_valid, invalid_fields,
// enforceable and confidence.
func Annotate(doc *RuleDocument, vocab Vocabulary) *RuleDocument {
	if doc == nil {
		return nil
	}

	fields := vocab.Fields
	if len(fields) == 0 {
		fields = TransactionFields
	}
	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[strings.ToLower(f)] = true
	}
	known := make(map[string]map[string]bool, len(vocab.Values))
	for f, vals := range vocab.Values {
		set := make(map[string]bool, len(vals))
		for _, v := range vals {
			set[v] = true
		}
		known[strings.ToLower(f)] = set
	}

	out := doc.Clone()
	for i := range out.Rules {
		annotateRule(&out.Rules[i], allowed, known)
	}
	return out
}

func annotateRule(r *Rule, allowed map[string]bool, known map[string]map[string]bool) {
	if strings.TrimSpace(r.Condition) == "" {
		r.ConditionValid = boolPtr(false)
		r.Enforceable = boolPtr(false)
		if r.Confidence == "" {
			r.Confidence = ConfidenceLow
		}
		return
	}

	if wellFormed(r.Condition) {
		r.Condition = condition.Canonicalize(r.Condition)
	}
	if r.SQLCondition == "" {
		r.SQLCondition = condition.ToSQL(r.Condition)
	}

	var bad []string
	for _, f := range condition.Fields(r.Condition) {
		if !allowed[f] {
			bad = append(bad, f)
		}
	}
	r.InvalidFields = bad
	r.ConditionValid = boolPtr(len(bad) == 0 && len(condition.Parse(r.Condition).UnknownClauses()) == 0)

	r.SuggestedFieldMapping = nil
	for _, b := range bad {
		if target, ok := fieldSynonyms[b]; ok {
			if r.SuggestedFieldMapping == nil {
				r.SuggestedFieldMapping = make(map[string]string)
			}
			r.SuggestedFieldMapping[b] = target
		}
	}

	issues := make(map[string][]string)
	for f, vals := range condition.Literals(r.Condition) {
		set, ok := known[f]
		if !ok {
			continue
		}
		for _, v := range vals {
			if !set[v] {
				issues[f] = append(issues[f], v)
			}
		}
	}

	switch {
	case len(issues) > 0:
		r.NonEnforceableReasons = issues
		r.Enforceable = boolPtr(false)
	case !*r.ConditionValid:
		r.Enforceable = boolPtr(false)
	case r.Enforceable == nil:
		r.Enforceable = boolPtr(true)
	}

	if r.Confidence == "" {
		if *r.Enforceable {
			r.Confidence = ConfidenceHigh
		} else {
			r.Confidence = ConfidenceLow
		}
	}
}

// wellFormed reports whether every character of cond belongs to the condition
// grammar's lexicon.
func wellFormed(cond string) bool {
	for _, t := range condition.Tokenize(cond) {
		if t.Kind == condition.TokenIllegal {
			return false
		}
	}
	return true
}

func boolPtr(b bool) *bool {
	return &b
}
