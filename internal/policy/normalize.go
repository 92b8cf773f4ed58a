package policy

import (
	"bytes"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Shape names the input layout a document was recovered from.
type Shape string

const (
	ShapeDocument     Shape = "document"
	ShapeKeyedRules   Shape = "keyed_rules"
	ShapeRuleArray    Shape = "rule_array"
	ShapeEmbeddedText Shape = "embedded_text"
)

// shapeDecoder recognizes one structural layout and decodes it.
type shapeDecoder struct {
	shape  Shape
	decode func(raw []byte) (*RuleDocument, bool)
}

// structuralShapes are tried in order on every candidate value.
var structuralShapes = []shapeDecoder{
	{shape: ShapeDocument, decode: decodeDocument},
	{shape: ShapeKeyedRules, decode: decodeKeyedRules},
	{shape: ShapeRuleArray, decode: decodeRuleArray},
}

// textFields are the object fields searched for embedded JSON, in order.
var textFields = []string{"extracted", "output", "text", "content"}

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Normalize extracts a canonical RuleDocument from an arbitrary parser
// response. Byte slices holding valid JSON are decoded as JSON; any other byte
// slice or string is treated as free text. Other values are marshaled first;
// maps marshal with sorted keys, so when several keys hold rule arrays the
// alphabetically first one wins. Pass the raw response bytes to keep the
// response's own key order.
func Normalize(response any) (*RuleDocument, error) {
	var raw []byte
	switch v := response.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, &NormalizationError{Err: err}
		}
		raw = data
	}
	return NormalizeJSON(raw)
}

// NormalizeJSON normalizes a raw response body.
func NormalizeJSON(raw []byte) (*RuleDocument, error) {
	doc, _, err := NormalizeShape(raw)
	return doc, err
}

// NormalizeShape normalizes a raw response body and reports which shape matched.
// Input that is not valid JSON is treated as a bare string.
func NormalizeShape(raw []byte) (*RuleDocument, Shape, error) {
	value := bytes.TrimSpace(raw)
	if !json.Valid(value) {
		quoted, err := json.Marshal(string(raw))
		if err != nil {
			return nil, "", &NormalizationError{Raw: raw, Err: err}
		}
		value = quoted
	}

	if doc, shape, ok := matchStructural(value); ok {
		log.Debug().Str("shape", string(shape)).Int("rules", len(doc.Rules)).Msg("Normalized rule document")
		return doc, shape, nil
	}

	for _, candidate := range textCandidates(value) {
		if doc, inner, ok := matchEmbedded(candidate); ok {
			log.Debug().
				Str("shape", string(ShapeEmbeddedText)).
				Str("inner_shape", string(inner)).
				Int("rules", len(doc.Rules)).
				Msg("Normalized rule document")
			return doc, ShapeEmbeddedText, nil
		}
	}

	return nil, "", &NormalizationError{Raw: raw, Err: ErrNoRulesFound}
}

func matchStructural(value []byte) (*RuleDocument, Shape, bool) {
	for _, s := range structuralShapes {
		if doc, ok := s.decode(value); ok {
			return finalize(doc), s.shape, true
		}
	}
	return nil, "", false
}

// matchEmbedded tries the candidate as JSON, then the first object inside it.
func matchEmbedded(candidate string) (*RuleDocument, Shape, bool) {
	direct := []byte(strings.TrimSpace(candidate))
	if json.Valid(direct) {
		if doc, shape, ok := matchStructural(direct); ok {
			return doc, shape, true
		}
	}
	if obj, ok := extractJSONObject(candidate); ok && json.Valid([]byte(obj)) {
		if doc, shape, ok := matchStructural([]byte(obj)); ok {
			return doc, shape, true
		}
	}
	return nil, "", false
}

// textCandidates collects the strings that may embed a document.
func textCandidates(value []byte) []string {
	switch firstByte(value) {
	case '"':
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			return []string{s}
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(value, &fields); err != nil {
			return nil
		}
		var out []string
		for _, name := range textFields {
			raw, ok := fields[name]
			if !ok || firstByte(raw) != '"' {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// decodeDocument accepts an object with a non-empty rules array of objects.
func decodeDocument(value []byte) (*RuleDocument, bool) {
	if firstByte(value) != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return nil, false
	}
	rules, ok := decodeRules(fields["rules"], false)
	if !ok {
		return nil, false
	}
	return &RuleDocument{
		Rules:   rules,
		Version: lenientString(fields["version"]),
		Source:  lenientString(fields["source"]),
		Parser:  lenientString(fields["parser"]),
	}, true
}

// decodeKeyedRules accepts an object whose first array-of-rules value, in
// document order, holds the rules. The key becomes the source.
func decodeKeyedRules(value []byte) (*RuleDocument, bool) {
	if firstByte(value) != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return nil, false
	}
	for _, key := range objectKeys(value) {
		rules, ok := decodeRules(fields[key], true)
		if !ok {
			continue
		}
		source := lenientString(fields["source"])
		if source == "" {
			source = key
		}
		return &RuleDocument{
			Rules:   rules,
			Version: lenientString(fields["version"]),
			Source:  source,
			Parser:  lenientString(fields["parser"]),
		}, true
	}
	return nil, false
}

// decodeRuleArray accepts a bare array of rule-like objects.
func decodeRuleArray(value []byte) (*RuleDocument, bool) {
	rules, ok := decodeRules(value, true)
	if !ok {
		return nil, false
	}
	return &RuleDocument{Rules: rules}, true
}

// decodeRules decodes a non-empty array whose elements are all objects. When
// ruleLike is set, at least one element must carry a name or condition key.
func decodeRules(raw json.RawMessage, ruleLike bool) ([]Rule, bool) {
	if firstByte(raw) != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil, false
	}

	sawRuleLike := !ruleLike
	rules := make([]Rule, 0, len(items))
	for _, item := range items {
		if firstByte(item) != '{' {
			return nil, false
		}
		if ruleLike && !sawRuleLike {
			var keys map[string]json.RawMessage
			if err := json.Unmarshal(item, &keys); err == nil {
				_, hasName := keys["name"]
				_, hasCond := keys["condition"]
				sawRuleLike = hasName || hasCond
			}
		}
		var r Rule
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, false
		}
		rules = append(rules, r)
	}
	if !sawRuleLike {
		return nil, false
	}
	return rules, true
}

func finalize(doc *RuleDocument) *RuleDocument {
	if doc.Version == "" {
		doc.Version = DefaultVersion
	}
	if doc.Source == "" {
		doc.Source = SourceParser
	}
	return doc
}

// extractJSONObject returns the first object embedded in free text: the body
// of a fenced code block if present, else the first balanced brace span.
func extractJSONObject(s string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return m[1], true
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func firstByte(raw []byte) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// objectKeys returns the top-level keys of a valid JSON object in document order.
func objectKeys(raw []byte) []string {
	s := &scanner{data: bytes.TrimSpace(raw)}
	if !s.consume('{') {
		return nil
	}
	var keys []string
	for {
		s.skipSpace()
		if s.consume('}') || s.eof() {
			return keys
		}
		start := s.pos
		if !s.skipString() {
			return keys
		}
		var key string
		if err := json.Unmarshal(s.data[start:s.pos], &key); err != nil {
			return keys
		}
		keys = append(keys, key)

		s.skipSpace()
		if !s.consume(':') {
			return keys
		}
		s.skipSpace()
		if !s.skipValue() {
			return keys
		}
		s.skipSpace()
		s.consume(',')
	}
}

type scanner struct {
	data []byte
	pos  int
}

func (s *scanner) eof() bool {
	return s.pos >= len(s.data)
}

func (s *scanner) skipSpace() {
	for !s.eof() {
		switch s.data[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) consume(c byte) bool {
	if !s.eof() && s.data[s.pos] == c {
		s.pos++
		return true
	}
	return false
}

// skipString advances past a quoted string starting at the current position.
func (s *scanner) skipString() bool {
	if !s.consume('"') {
		return false
	}
	for !s.eof() {
		switch s.data[s.pos] {
		case '\\':
			s.pos += 2
		case '"':
			s.pos++
			return true
		default:
			s.pos++
		}
	}
	return false
}

// skipValue advances past one JSON value of any kind.
func (s *scanner) skipValue() bool {
	if s.eof() {
		return false
	}
	switch s.data[s.pos] {
	case '"':
		return s.skipString()
	case '{', '[':
		depth := 0
		for !s.eof() {
			switch s.data[s.pos] {
			case '"':
				if !s.skipString() {
					return false
				}
				continue
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
			s.pos++
			if depth == 0 {
				return true
			}
		}
		return false
	default:
		for !s.eof() {
			switch s.data[s.pos] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				return true
			}
			s.pos++
		}
		return true
	}
}
