package policy

import (
	"strings"

	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// CategoryMatcher maps free-text categories onto a dataset's vocabulary.
type CategoryMatcher struct {
	categories []string
	exact      map[string]string
}

// NewCategoryMatcher builds a matcher over the dataset categories. Empty
// categories are ignored; iteration order is preserved for tie-breaks.
func NewCategoryMatcher(categories []string) *CategoryMatcher {
	m := &CategoryMatcher{exact: make(map[string]string)}
	for _, c := range categories {
		if strings.TrimSpace(c) == "" {
			continue
		}
		m.categories = append(m.categories, c)
		key := strings.ToLower(c)
		if _, ok := m.exact[key]; !ok {
			m.exact[key] = c
		}
	}
	return m
}

// Match returns the dataset category for value. An exact case-insensitive
// match wins; otherwise the first dataset category that contains value, or is
// contained in it, wins.
func (m *CategoryMatcher) Match(value string) (string, bool) {
	if value == "" || len(m.categories) == 0 {
		return "", false
	}
	key := strings.ToLower(value)
	if c, ok := m.exact[key]; ok {
		return c, true
	}
	for _, c := range m.categories {
		lc := strings.ToLower(c)
		if strings.Contains(key, lc) || strings.Contains(lc, key) {
			return c, true
		}
	}
	return "", false
}

// Align returns a copy of doc with rule categories, and the first quoted
// literal of each condition, rewritten to the dataset vocabulary.
func Align(doc *RuleDocument, datasetCategories []string) *RuleDocument {
	if doc == nil {
		return nil
	}
	out := doc.Clone()
	m := NewCategoryMatcher(datasetCategories)
	for i := range out.Rules {
		out.Rules[i] = m.AlignRule(out.Rules[i])
	}
	return out
}

// AlignRule aligns a single rule.
func (m *CategoryMatcher) AlignRule(rule Rule) Rule {
	out := rule.Clone()
	if out.Category != "" {
		if c, ok := m.Match(out.Category); ok {
			out.Category = c
		}
	}
	if out.Condition != "" {
		out.Condition = m.alignLiteral(out.Condition)
	}
	return out
}

// alignLiteral rewrites only the first quoted literal of cond, keeping its
// quote character.
func (m *CategoryMatcher) alignLiteral(cond string) string {
	for _, tok := range condition.Tokenize(cond) {
		if tok.Kind != condition.TokenString {
			continue
		}
		c, ok := m.Match(tok.Value)
		if !ok || c == tok.Value {
			return cond
		}
		return cond[:tok.Start] + condition.QuoteWith(c, tok.Text[0]) + cond[tok.End:]
	}
	return cond
}
