package policy

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// ValidateEdited checks a hand-edited document and returns it decoded. The
// document must be an object with a rules array whose entries are objects
// carrying a name and a condition. An empty rules array is accepted.
func ValidateEdited(raw []byte) (*RuleDocument, error) {
	if firstByte(raw) != '{' || !json.Valid(raw) {
		return nil, &ValidationError{Reason: "document must be a JSON object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ValidationError{Reason: "document must be a JSON object"}
	}

	rulesRaw, ok := fields["rules"]
	if !ok || firstByte(rulesRaw) != '[' {
		return nil, &ValidationError{Reason: `document must contain a "rules" array`}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rulesRaw, &items); err != nil {
		return nil, &ValidationError{Reason: `document must contain a "rules" array`}
	}

	for i, item := range items {
		if firstByte(item) != '{' {
			return nil, &ValidationError{Reason: fmt.Sprintf("rules[%d] must be an object", i)}
		}
		var rule map[string]json.RawMessage
		if err := json.Unmarshal(item, &rule); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("rules[%d] must be an object", i)}
		}
		if strings.TrimSpace(lenientString(rule["name"])) == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf(`rules[%d] is missing "name"`, i)}
		}
		if strings.TrimSpace(lenientString(rule["condition"])) == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf(`rules[%d] is missing "condition"`, i)}
		}
	}

	var doc RuleDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("document could not be decoded: %v", err)}
	}
	if doc.Rules == nil {
		doc.Rules = []Rule{}
	}
	if doc.Version == "" {
		doc.Version = DefaultVersion
	}
	if doc.Source == "" {
		doc.Source = SourceEdited
	}
	return &doc, nil
}
