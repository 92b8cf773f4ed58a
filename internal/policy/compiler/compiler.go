package compiler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/agentfacts/expense-compliance/internal/compliance"
	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// Compiler compiles rule documents to Rego.
type Compiler struct {
	validator *Validator
	exprs     *ExpressionCompiler
	now       func() time.Time
}

// NewCompiler creates a new rule document compiler.
func NewCompiler() *Compiler {
	return &Compiler{
		validator: NewValidator(),
		exprs:     NewExpressionCompiler(),
		now:       time.Now,
	}
}

// Compile converts a rule document to a single Rego module. Every rule becomes
// one "violations contains <label>" definition per OR-group of its condition.
func (c *Compiler) Compile(doc *policy.RuleDocument) (*CompileResult, error) {
	if err := c.validator.Validate(doc); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	result := &CompileResult{
		ModuleName: "expense_policy.rego",
		Source:     doc,
		Labels:     make([]string, len(doc.Rules)),
		IDs:        make([]string, len(doc.Rules)),
	}
	for i, r := range doc.Rules {
		result.Labels[i] = compliance.RuleLabel(r)
		result.IDs[i] = RuleID(i)
	}

	result.Warnings = c.validator.ValidateWarnings(doc, result.Labels)

	var moduleBuilder strings.Builder

	header, err := RenderHeader(TemplateData{
		Version:   doc.Version,
		Source:    doc.Source,
		Rules:     len(doc.Rules),
		Timestamp: c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	moduleBuilder.WriteString(header)

	for i, r := range doc.Rules {
		bodies, warnings := c.exprs.Compile(condition.Parse(r.Condition))
		for _, w := range warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("rule[%d] %q: %s", i, result.Labels[i], w))
		}

		content, err := RenderRule(RuleData{
			Index:       i,
			ID:          result.IDs[i],
			Label:       result.Labels[i],
			Description: r.Description,
			Condition:   r.Condition,
			Bodies:      bodies,
		})
		if err != nil {
			return nil, fmt.Errorf("compile rule[%d]: %w", i, err)
		}
		moduleBuilder.WriteString(content)
	}

	result.Module = moduleBuilder.String()

	if err := validateGeneratedRego(result.Modules()); err != nil {
		return nil, fmt.Errorf("generated Rego validation failed: %w", err)
	}

	return result, nil
}

// validateGeneratedRego ensures the generated Rego compiles.
func validateGeneratedRego(modules map[string]string) error {
	_, err := prepare(context.Background(), modules)
	if err != nil {
		for name, content := range modules {
			return fmt.Errorf("module %s: %w\n\nGenerated Rego:\n%s", name, err, content)
		}
	}
	return err
}

func prepare(ctx context.Context, modules map[string]string) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){
		rego.Query(ViolationsQuery),
	}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}
	return rego.New(opts...).PrepareForEval(ctx)
}
