package compiler

import (
	"context"
	"fmt"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/open-policy-agent/opa/rego"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// Evaluator runs a compiled module against transactions.
type Evaluator struct {
	query  rego.PreparedEvalQuery
	ids    []string
	labels []string

	evaluations atomic.Int64
	evalErrors  atomic.Int64
}

// NewEvaluator prepares the compiled module for evaluation.
func NewEvaluator(ctx context.Context, result *CompileResult) (*Evaluator, error) {
	if result == nil {
		return nil, fmt.Errorf("compile result is required")
	}
	query, err := prepare(ctx, result.Modules())
	if err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}
	return &Evaluator{
		query:  query,
		ids:    result.IDs,
		labels: result.Labels,
	}, nil
}

// Evaluate returns the labels of the rules txn violates, in document order.
func (e *Evaluator) Evaluate(ctx context.Context, txn policy.Transaction) ([]string, error) {
	inputMap, err := structToMap(txn)
	if err != nil {
		e.evalErrors.Add(1)
		return nil, fmt.Errorf("failed to convert input: %w", err)
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		e.evalErrors.Add(1)
		return nil, fmt.Errorf("evaluation error: %w", err)
	}
	e.evaluations.Add(1)

	// An undefined violations set means no rule body could ever match.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return []string{}, nil
	}

	hit, err := parseViolations(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse violations: %w", err)
	}

	violated := []string{}
	for i, id := range e.ids {
		if hit[id] {
			violated = append(violated, e.labels[i])
		}
	}
	return violated, nil
}

// Verdict evaluates txn and wraps the result as a compliance verdict.
func (e *Evaluator) Verdict(ctx context.Context, txn policy.Transaction) (policy.ComplianceVerdict, error) {
	violated, err := e.Evaluate(ctx, txn)
	if err != nil {
		return policy.ComplianceVerdict{}, err
	}
	return policy.NewVerdict(violated), nil
}

// Stats returns the evaluation and error counts.
func (e *Evaluator) Stats() (evaluations, errors int64) {
	return e.evaluations.Load(), e.evalErrors.Load()
}

// parseViolations converts the OPA set output to a rule ID lookup.
func parseViolations(value interface{}) (map[string]bool, error) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected violations type: %T", value)
	}
	hit := make(map[string]bool, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			hit[s] = true
		}
	}
	return hit, nil
}

func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return result, nil
}
