package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

const (
	defaultUnit        = "USD"
	defaultAppliesWhen = "business travel"
	defaultScope       = "per txn"
)

var (
	whitespace = regexp.MustCompile(`\s+`)

	// "<Category> ... up to $75/day"
	capPattern = regexp.MustCompile(`(?i)(?P<category>\b[A-Z][a-zA-Z ]{2,30}?\b).*?(?:up to|no more than|not exceed|should not exceed|limit of|cap of)\s*\$?(?P<threshold>\d+(?:\.\d+)?)(?:\s*/?\s*(?P<unit>day|night|txn|transaction|person|per person))?`)

	// "Meals $40/day"
	simplePattern = regexp.MustCompile(`(?i)([A-Za-z]{3,20})[^\n\r]{0,40}?\$([0-9]+(?:\.[0-9]+)?)\s*(?:/|per)?\s*(day|night|person)?`)

	// "Alcohol: not reimbursable"
	denyPattern = regexp.MustCompile(`(?i)(?P<category>\b[A-Z][a-zA-Z ]{2,30}?\b):?\s+not\s+(?:reimbursable|allowed|permitted)`)
)

var scopeByUnit = map[string]string{
	"day":         "per day",
	"night":       "per night",
	"txn":         "per txn",
	"transaction": "per txn",
	"person":      "per person",
	"per person":  "per person",
}

// ParseText extracts threshold and deny rules from free-form policy text.
// When nothing can be extracted the built-in fallback document is returned.
func ParseText(text string) *RuleDocument {
	rules := heuristicRules(text)
	if len(rules) == 0 {
		log.Debug().Msg("Heuristic parse found no rules, using fallback document")
		return FallbackDocument()
	}
	return &RuleDocument{
		Rules:   rules,
		Version: DefaultVersion,
		Source:  SourceHeuristic,
		Parser:  SourceHeuristic,
	}
}

func heuristicRules(text string) []Rule {
	t := whitespace.ReplaceAllString(text, " ")
	var rules []Rule

	for _, m := range capPattern.FindAllStringSubmatch(t, -1) {
		cat := strings.TrimSpace(m[capPattern.SubexpIndex("category")])
		threshold, err := strconv.ParseFloat(m[capPattern.SubexpIndex("threshold")], 64)
		if err != nil || cat == "" {
			continue
		}
		rules = append(rules, capRule(cat, threshold, scopeFor(m[capPattern.SubexpIndex("unit")])))
	}

	if len(rules) == 0 {
		for _, m := range simplePattern.FindAllStringSubmatch(t, -1) {
			cat := strings.TrimSpace(m[1])
			threshold, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			rules = append(rules, capRule(cat, threshold, scopeFor(m[3])))
		}
	}

	for _, m := range denyPattern.FindAllStringSubmatch(t, -1) {
		cat := strings.TrimSpace(m[denyPattern.SubexpIndex("category")])
		if cat == "" {
			continue
		}
		rule := NewRuleBuilder(cat+" not reimbursable").
			WithDescription(cat+" is not reimbursable").
			WithCondition("category == "+condition.QuoteLiteral(cat)).
			WithThreshold(0, defaultUnit).
			WithCategory(cat).
			WithScope(defaultScope, defaultAppliesWhen).
			WithViolationMessage(cat + " is not reimbursable").
			Build()
		rule.SQLCondition = condition.ToSQL(rule.Condition)
		rules = append(rules, rule)
	}

	log.Debug().Int("rules", len(rules)).Msg("Heuristic parse complete")
	return rules
}

func scopeFor(unit string) string {
	if unit == "" {
		return defaultScope
	}
	if scope, ok := scopeByUnit[strings.ToLower(unit)]; ok {
		return scope
	}
	return unit
}

func capRule(cat string, threshold float64, scope string) Rule {
	amount := formatThreshold(threshold)
	rule := NewRuleBuilder(cat+" cap").
		WithDescription(cat+" limit extracted from text").
		WithThreshold(threshold, defaultUnit).
		WithCategory(cat).
		WithScope(scope, defaultAppliesWhen).
		WithViolationMessage(fmt.Sprintf("%s exceeds %s %s", cat, amount, scope)).
		Build()
	rule = Synthesize(rule)
	rule.SQLCondition = condition.ToSQL(rule.Condition)
	return rule
}

// FallbackDocument returns the built-in document used when no rules can be
// extracted: a $75 meal cap and a $300 nightly lodging cap.
func FallbackDocument() *RuleDocument {
	meal := NewRuleBuilder("Meal cap").
		WithDescription("Meals should not exceed $75 per person").
		WithThreshold(75, defaultUnit).
		WithCategory("Meals").
		WithScope(defaultScope, defaultAppliesWhen).
		WithViolationMessage("Meal exceeds $75 limit").
		Build()
	lodging := NewRuleBuilder("Lodging nightly cap").
		WithDescription("Hotel nightly rate should not exceed $300").
		WithThreshold(300, defaultUnit).
		WithCategory("Lodging").
		WithScope("per night", defaultAppliesWhen).
		WithViolationMessage("Hotel rate exceeds $300/night").
		Build()

	rules := []Rule{Synthesize(meal), Synthesize(lodging)}
	for i := range rules {
		rules[i].SQLCondition = condition.ToSQL(rules[i].Condition)
	}
	return &RuleDocument{
		Rules:   rules,
		Version: DefaultVersion,
		Source:  SourceFallback,
		Parser:  SourceFallback,
	}
}
