package policy

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// UnmarshalJSON decodes a rule leniently. Model-authored rules routinely put
// numbers where strings belong and vice versa, so text fields accept strings,
// numbers and booleans, and threshold accepts a number or a numeric string.
// Values of the wrong shape are treated as absent.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = Rule{
		Name:             lenientString(fields["name"]),
		Description:      lenientString(fields["description"]),
		Condition:        lenientString(fields["condition"]),
		SQLCondition:     lenientString(fields["sql_condition"]),
		Threshold:        lenientNumber(fields["threshold"]),
		Unit:             lenientString(fields["unit"]),
		Category:         lenientString(fields["category"]),
		Scope:            lenientString(fields["scope"]),
		AppliesWhen:      lenientString(fields["applies_when"]),
		ViolationMessage: lenientString(fields["violation_message"]),
		Enforceable:      lenientBool(fields["enforceable"]),
		ConditionValid:   lenientBool(fields["condition_valid"]),
		InvalidFields:    lenientStrings(fields["invalid_fields"]),
		Confidence:       lenientString(fields["confidence"]),
	}
	if raw, ok := fields["suggested_field_mapping"]; ok && !isNull(raw) {
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err == nil {
			r.SuggestedFieldMapping = m
		}
	}
	if raw, ok := fields["non_enforceable_reasons"]; ok && !isNull(raw) {
		var m map[string][]string
		if err := json.Unmarshal(raw, &m); err == nil {
			r.NonEnforceableReasons = m
		}
	}
	return nil
}

// UnmarshalJSON decodes a document leniently: version may be a number, and
// missing metadata is left empty for the caller to default.
func (d *RuleDocument) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var rules []Rule
	if raw, ok := fields["rules"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &rules); err != nil {
			return err
		}
	}

	*d = RuleDocument{
		Rules:   rules,
		Version: lenientString(fields["version"]),
		Source:  lenientString(fields["source"]),
		Parser:  lenientString(fields["parser"]),
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func lenientString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return formatThreshold(f)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func lenientNumber(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return &v
		}
	}
	return nil
}

func lenientBool(raw json.RawMessage) *bool {
	if isNull(raw) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			v := true
			return &v
		case "false", "no", "0":
			v := false
			return &v
		}
	}
	return nil
}

func lenientStrings(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := lenientString(raw); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := lenientString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
