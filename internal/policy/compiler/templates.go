package compiler

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	json "github.com/goccy/go-json"
)

// Templates for Rego code generation.
var templates *template.Template

//nolint:gochecknoinits // template initialization is idiomatic with init
func init() {
	templates = template.New("rego").Funcs(template.FuncMap{
		"quote":   quoteString,
		"comment": commentText,
	})

	template.Must(templates.New("header").Parse(headerTemplate))
	template.Must(templates.New("rule").Parse(ruleTemplate))
}

// quoteString renders s as a Rego string literal.
func quoteString(s string) string {
	data, err := json.MarshalNoEscape(s)
	if err != nil {
		return fmt.Sprintf("%q", s)
	}
	return string(data)
}

// commentText flattens s onto one line for use inside a comment.
func commentText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

const headerTemplate = `# Auto-generated from rule document (version {{.Version}}, source {{comment .Source}})
# Rules: {{.Rules}}
# Generated at: {{.Timestamp}}
# DO NOT EDIT - changes will be overwritten

package expense.policy

import rego.v1
`

const ruleTemplate = `
# Rule {{.Index}}: {{comment .Label}}
{{- if .Description}}
# {{comment .Description}}
{{- end}}
# Condition: {{comment .Condition}}
{{- range .Bodies}}

violations contains {{quote $.ID}} if {
{{- range .}}
    {{.}}
{{- end}}
}
{{- end}}
`

// RenderHeader renders the Rego file header.
func RenderHeader(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "header", data); err != nil {
		return "", fmt.Errorf("render header: %w", err)
	}
	return buf.String(), nil
}

// RenderRule renders the violation rules of one policy rule.
func RenderRule(data RuleData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "rule", data); err != nil {
		return "", fmt.Errorf("render rule: %w", err)
	}
	return buf.String(), nil
}
