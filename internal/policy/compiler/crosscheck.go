package compiler

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// maxReportedMismatches bounds the mismatches kept in a report.
const maxReportedMismatches = 20

// Mismatch is a transaction on which the native verdict and the Rego verdict
// disagree.
type Mismatch struct {
	TxnID  string   `json:"txn_id"`
	Native []string `json:"native"`
	Rego   []string `json:"rego"`
}

// CrossCheckReport summarizes a comparison of native and Rego verdicts.
type CrossCheckReport struct {
	Checked    int        `json:"checked"`
	Mismatched int        `json:"mismatched"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// CrossCheck compiles doc and re-evaluates every scored transaction with OPA,
// reporting where the result differs from the verdict already attached.
func (c *Compiler) CrossCheck(ctx context.Context, doc *policy.RuleDocument, scored []policy.ScoredTransaction) (*CrossCheckReport, error) {
	result, err := c.Compile(doc)
	if err != nil {
		return nil, err
	}
	ev, err := NewEvaluator(ctx, result)
	if err != nil {
		return nil, err
	}

	report := &CrossCheckReport{Warnings: result.Warnings}
	for _, st := range scored {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := ev.Evaluate(ctx, st.Transaction)
		if err != nil {
			return nil, fmt.Errorf("txn %q: %w", st.TxnID, err)
		}
		report.Checked++

		native := st.Policy.ViolatedRules
		if native == nil {
			native = []string{}
		}
		if slices.Equal(native, got) {
			continue
		}
		report.Mismatched++
		if len(report.Mismatches) < maxReportedMismatches {
			report.Mismatches = append(report.Mismatches, Mismatch{TxnID: st.TxnID, Native: native, Rego: got})
		}
	}

	if report.Mismatched > 0 {
		log.Warn().
			Int("checked", report.Checked).
			Int("mismatched", report.Mismatched).
			Msg("Rego cross-check disagrees with native verdicts")
	}

	return report, nil
}
