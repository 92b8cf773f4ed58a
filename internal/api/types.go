package api

import (
	json "github.com/goccy/go-json"

	"github.com/agentfacts/expense-compliance/internal/audit"
	"github.com/agentfacts/expense-compliance/internal/compliance"
	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/compiler"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	// Raw echoes an unparseable parser response for manual correction.
	Raw *string `json:"raw,omitempty"`
}

type parseTextRequest struct {
	Text string `json:"text"`
}

type alignRequest struct {
	Document   *policy.RuleDocument `json:"document"`
	Categories []string             `json:"categories"`
}

type annotateRequest struct {
	Document *policy.RuleDocument `json:"document"`
	Fields   []string             `json:"fields,omitempty"`
	Values   map[string][]string  `json:"values,omitempty"`
}

type regoResponse struct {
	ModuleName string   `json:"module_name"`
	Module     string   `json:"module"`
	Labels     []string `json:"labels"`
	Warnings   []string `json:"warnings"`
}

type createWorkspaceRequest struct {
	Document   json.RawMessage `json:"document,omitempty"`
	Categories []string        `json:"categories,omitempty"`
}

type listWorkspacesResponse struct {
	Workspaces []workspaceSummary `json:"workspaces"`
}

type workspaceSummary struct {
	ID       string `json:"id"`
	Revision int    `json:"revision"`
	Rules    int    `json:"rules"`
	Source   string `json:"source"`
}

// scoreRequest names either an inline document (any normalizable shape) or a
// workspace whose active document is used.
type scoreRequest struct {
	Document     json.RawMessage `json:"document,omitempty"`
	WorkspaceID  string          `json:"workspace_id,omitempty"`
	Transactions json.RawMessage `json:"transactions"`
	Categories   []string        `json:"categories,omitempty"`
}

type scoreResponse struct {
	RunID        string                     `json:"run_id"`
	WorkspaceID  string                     `json:"workspace_id,omitempty"`
	Summary      scoreSummary               `json:"summary"`
	Transactions []policy.ScoredTransaction `json:"transactions"`
	CrossCheck   *compiler.CrossCheckReport `json:"cross_check,omitempty"`
}

type scoreSummary struct {
	Rules          int            `json:"rules"`
	Transactions   int            `json:"transactions"`
	Violations     int            `json:"violations"`
	RuleViolations map[string]int `json:"rule_violations"`
	DurationMs     float64        `json:"duration_ms"`
}

func newScoreSummary(s compliance.RunSummary) scoreSummary {
	return scoreSummary{
		Rules:          s.Rules,
		Transactions:   s.Transactions,
		Violations:     s.Violations,
		RuleViolations: s.RuleViolations,
		DurationMs:     float64(s.Duration.Microseconds()) / 1000.0,
	}
}

type runVerdictsResponse struct {
	RunID      string           `json:"run_id"`
	Verdicts   []*audit.Record  `json:"verdicts"`
	RuleCounts map[string]int64 `json:"rule_counts"`
}

type statsResponse struct {
	Engine     compliance.EngineStats `json:"engine"`
	Workspaces workspaceStats         `json:"workspaces"`
	Audit      *audit.Stats           `json:"audit,omitempty"`
	Writer     *audit.WriterStats     `json:"writer,omitempty"`
}

type workspaceStats struct {
	Active  int   `json:"active"`
	Created int64 `json:"created"`
}
