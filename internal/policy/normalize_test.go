package policy

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/goccy/go-json"
)

func threshold(f float64) *float64 {
	return &f
}

// TestNormalizeShapes tests every accepted response shape.
func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantShape   Shape
		wantNames   []string
		wantSource  string
		wantVersion string
	}{
		{
			name:        "canonical document",
			input:       `{"rules":[{"name":"R1","condition":"amount > 50"}],"version":"2.0","source":"upload"}`,
			wantShape:   ShapeDocument,
			wantNames:   []string{"R1"},
			wantSource:  "upload",
			wantVersion: "2.0",
		},
		{
			name:        "document without metadata",
			input:       `{"rules":[{"name":"R1"}]}`,
			wantShape:   ShapeDocument,
			wantNames:   []string{"R1"},
			wantSource:  SourceParser,
			wantVersion: DefaultVersion,
		},
		{
			name:        "numeric version",
			input:       `{"rules":[{"name":"R1"}],"version":2}`,
			wantShape:   ShapeDocument,
			wantNames:   []string{"R1"},
			wantSource:  SourceParser,
			wantVersion: "2",
		},
		{
			name:        "keyed rules",
			input:       `{"meta":{"x":1},"policies":[{"name":"A","condition":"amount > 1"},{"name":"B"}]}`,
			wantShape:   ShapeKeyedRules,
			wantNames:   []string{"A", "B"},
			wantSource:  "policies",
			wantVersion: DefaultVersion,
		},
		{
			name:        "keyed rules first key in document order",
			input:       `{"zeta":[{"name":"Z"}],"alpha":[{"name":"A"}]}`,
			wantShape:   ShapeKeyedRules,
			wantNames:   []string{"Z"},
			wantSource:  "zeta",
			wantVersion: DefaultVersion,
		},
		{
			name:        "keyed rules skip non rule arrays",
			input:       `{"tags":[{"label":"x"}],"items":[{"condition":"amount > 5"}]}`,
			wantShape:   ShapeKeyedRules,
			wantNames:   []string{""},
			wantSource:  "items",
			wantVersion: DefaultVersion,
		},
		{
			name:        "keyed rules keep explicit source",
			input:       `{"source":"model","items":[{"name":"X"}]}`,
			wantShape:   ShapeKeyedRules,
			wantNames:   []string{"X"},
			wantSource:  "model",
			wantVersion: DefaultVersion,
		},
		{
			name:        "bare rule array",
			input:       `[{"name":"R1"},{"name":"R2","condition":"amount > 2"}]`,
			wantShape:   ShapeRuleArray,
			wantNames:   []string{"R1", "R2"},
			wantSource:  SourceParser,
			wantVersion: DefaultVersion,
		},
		{
			name:        "embedded in output prose",
			input:       `{"output": "Sure, here is the JSON: {\"rules\":[{\"name\":\"R1\",\"condition\":\"amount > 50\"}]}"}`,
			wantShape:   ShapeEmbeddedText,
			wantNames:   []string{"R1"},
			wantSource:  SourceParser,
			wantVersion: DefaultVersion,
		},
		{
			name:        "embedded direct JSON string",
			input:       `{"extracted": "[{\"name\":\"R1\"}]"}`,
			wantShape:   ShapeEmbeddedText,
			wantNames:   []string{"R1"},
			wantSource:  SourceParser,
			wantVersion: DefaultVersion,
		},
		{
			name:        "field priority",
			input:       `{"content": "{\"rules\":[{\"name\":\"C\"}]}", "text": "{\"rules\":[{\"name\":\"T\"}]}"}`,
			wantShape:   ShapeEmbeddedText,
			wantNames:   []string{"T"},
			wantSource:  SourceParser,
			wantVersion: DefaultVersion,
		},
		{
			name:        "fenced block",
			input:       "{\"text\": \"Result:\\n```json\\n{\\\"rules\\\":[{\\\"name\\\":\\\"F\\\"}]}\\n```\\n{not json}\"}",
			wantShape:   ShapeEmbeddedText,
			wantNames:   []string{"F"},
			wantSource:  SourceParser,
			wantVersion: DefaultVersion,
		},
		{
			name:        "bare prose",
			input:       `Here you go: {"rules":[{"name":"P","condition":"category == 'x}'"}]} thanks`,
			wantShape:   ShapeEmbeddedText,
			wantNames:   []string{"P"},
			wantSource:  SourceParser,
			wantVersion: DefaultVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, shape, err := NormalizeShape([]byte(tt.input))
			if err != nil {
				t.Fatalf("NormalizeShape() error = %v", err)
			}
			if shape != tt.wantShape {
				t.Errorf("shape = %s, want %s", shape, tt.wantShape)
			}
			var names []string
			for _, r := range doc.Rules {
				names = append(names, r.Name)
			}
			if diff := cmp.Diff(tt.wantNames, names); diff != "" {
				t.Errorf("rule names mismatch (-want +got):\n%s", diff)
			}
			if doc.Source != tt.wantSource {
				t.Errorf("source = %s, want %s", doc.Source, tt.wantSource)
			}
			if doc.Version != tt.wantVersion {
				t.Errorf("version = %s, want %s", doc.Version, tt.wantVersion)
			}
		})
	}
}

// TestNormalizeFailure tests that unrecognized input fails with the raw input preserved.
func TestNormalizeFailure(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"rules": []}`,
		`{"rules": "none"}`,
		`[]`,
		`[1, 2, 3]`,
		`[{"label": "no rule keys"}]`,
		`{"output": "no json here"}`,
		`{"output": 42}`,
		`just words`,
		`42`,
		``,
	}

	for _, in := range inputs {
		_, err := NormalizeJSON([]byte(in))
		if err == nil {
			t.Errorf("NormalizeJSON(%q) should fail", in)
			continue
		}
		if !errors.Is(err, ErrNoRulesFound) {
			t.Errorf("NormalizeJSON(%q) error = %v, want ErrNoRulesFound", in, err)
		}
		var nerr *NormalizationError
		if !errors.As(err, &nerr) {
			t.Fatalf("error type = %T, want *NormalizationError", err)
		}
		if string(nerr.Raw) != in {
			t.Errorf("Raw = %q, want %q", nerr.Raw, in)
		}
	}
}

// TestNormalizeGoValues tests normalizing already-decoded values.
func TestNormalizeGoValues(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"map document", map[string]any{"rules": []any{map[string]any{"name": "M"}}}, "M"},
		{"slice of maps", []map[string]any{{"name": "S"}}, "S"},
		{"string", `{"rules":[{"name":"Str"}]}`, "Str"},
		{"text bytes", []byte(`prefix {"rules":[{"name":"B"}]}`), "B"},
		{"typed document", RuleDocument{Rules: []Rule{{Name: "T"}}}, "T"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if len(doc.Rules) != 1 || doc.Rules[0].Name != tt.want {
				t.Errorf("rules = %+v, want one rule named %s", doc.Rules, tt.want)
			}
		})
	}
}

// TestNormalizeKeyedRulesOrder tests which array-valued key wins when several
// hold rules: the first in the raw response, or the first sorted key of a map.
func TestNormalizeKeyedRulesOrder(t *testing.T) {
	raw := `{"zeta": [{"name": "Z"}], "alpha": [{"name": "A"}]}`

	doc, err := NormalizeJSON([]byte(raw))
	if err != nil {
		t.Fatalf("NormalizeJSON() error = %v", err)
	}
	if doc.Source != "zeta" || doc.Rules[0].Name != "Z" {
		t.Errorf("raw: source = %q rules = %+v, want zeta", doc.Source, doc.Rules)
	}

	doc, err = Normalize(map[string]any{
		"zeta":  []any{map[string]any{"name": "Z"}},
		"alpha": []any{map[string]any{"name": "A"}},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if doc.Source != "alpha" || doc.Rules[0].Name != "A" {
		t.Errorf("map: source = %q rules = %+v, want alpha", doc.Source, doc.Rules)
	}
}

// TestNormalizeIdempotent tests that a canonical document survives normalization unchanged.
func TestNormalizeIdempotent(t *testing.T) {
	original := &RuleDocument{
		Rules: []Rule{
			{
				Name:             "Meal cap",
				Description:      "Meals should not exceed $75",
				Condition:        "category == 'Meals' and amount > 75",
				Threshold:        threshold(75),
				Unit:             "USD",
				Category:         "Meals",
				Scope:            "per txn",
				ViolationMessage: "Meal exceeds $75 limit",
			},
			{Name: "Alcohol", Condition: "category == 'Alcohol'"},
		},
		Version: "3.1",
		Source:  "upload",
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	first, err := NormalizeJSON(raw)
	if err != nil {
		t.Fatalf("NormalizeJSON() error = %v", err)
	}
	if diff := cmp.Diff(original, first); diff != "" {
		t.Errorf("first pass mismatch (-want +got):\n%s", diff)
	}

	raw, err = json.Marshal(first)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	second, err := NormalizeJSON(raw)
	if err != nil {
		t.Fatalf("NormalizeJSON() error = %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second pass mismatch (-want +got):\n%s", diff)
	}
}

// TestRuleLenientDecoding tests that loosely typed rule fields decode.
func TestRuleLenientDecoding(t *testing.T) {
	raw := `{
		"name": 7,
		"threshold": "$300",
		"category": "Lodging",
		"enforceable": "yes",
		"invalid_fields": "day_total",
		"unit": null,
		"scope": {"nested": true}
	}`

	var r Rule
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := Rule{
		Name:          "7",
		Threshold:     threshold(300),
		Category:      "Lodging",
		Enforceable:   boolPtr(true),
		InvalidFields: []string{"day_total"},
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("rule mismatch (-want +got):\n%s", diff)
	}

	if err := json.Unmarshal([]byte(`{"threshold": "about 300"}`), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if r.Threshold != nil {
		t.Errorf("threshold = %v, want nil", *r.Threshold)
	}
}

// TestExtractJSONObject tests the embedded object extractor.
func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"fenced", "x ```json\n{\"a\":1}\n``` {\"b\":2}", `{"a":1}`, true},
		{"fenced without tag", "```\n{\"a\":1}\n```", `{"a":1}`, true},
		{"first balanced", `pre {"a":{"b":1}} post {"c":2}`, `{"a":{"b":1}}`, true},
		{"brace inside string", `{"a":"}"}`, `{"a":"}"}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"none", "nothing", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("extractJSONObject() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// TestObjectKeys tests document-order key scanning.
func TestObjectKeys(t *testing.T) {
	raw := `{ "b" : [1, {"x": "]"}], "a\"q": "s,}", "c": null, "d": -1.5e3, "e": {"f": [true]} }`
	want := []string{"b", `a"q`, "c", "d", "e"}
	if diff := cmp.Diff(want, objectKeys([]byte(raw))); diff != "" {
		t.Errorf("objectKeys mismatch (-want +got):\n%s", diff)
	}
}
