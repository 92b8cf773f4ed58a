package audit

import (
	"strings"
	"time"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// Record represents the verdict of one transaction in one scoring run.
type Record struct {
	// Identifiers
	ID          int64  `json:"id"`
	RunID       string `json:"run_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`

	// Timing
	Timestamp time.Time `json:"timestamp"`

	// Transaction
	TxnID      string  `json:"txn_id"`
	EmployeeID string  `json:"employee_id,omitempty"`
	Category   string  `json:"category,omitempty"`
	Amount     float64 `json:"amount"`

	// Verdict
	Compliant     bool   `json:"compliant"`
	ViolatedRules string `json:"violated_rules"` // "; " joined labels
	DocSource     string `json:"doc_source,omitempty"`
	DocVersion    string `json:"doc_version,omitempty"`
}

// Violations splits ViolatedRules back into labels.
func (r *Record) Violations() []string {
	if r.ViolatedRules == "" {
		return []string{}
	}
	return strings.Split(r.ViolatedRules, "; ")
}

// RecordBuilder helps construct audit records.
type RecordBuilder struct {
	record Record
}

// NewRecordBuilder creates a new record builder.
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{
		record: Record{
			Timestamp: time.Now(),
		},
	}
}

// WithRun sets the run and workspace identifiers.
func (b *RecordBuilder) WithRun(runID, workspaceID string) *RecordBuilder {
	b.record.RunID = runID
	b.record.WorkspaceID = workspaceID
	return b
}

// WithTransaction copies the identifying fields of txn.
func (b *RecordBuilder) WithTransaction(txn policy.Transaction) *RecordBuilder {
	b.record.TxnID = txn.TxnID
	b.record.EmployeeID = txn.EmployeeID
	b.record.Category = txn.Category
	b.record.Amount = txn.Amount
	return b
}

// WithVerdict sets the compliance verdict.
func (b *RecordBuilder) WithVerdict(v policy.ComplianceVerdict) *RecordBuilder {
	b.record.Compliant = v.Compliant
	b.record.ViolatedRules = v.Reason
	return b
}

// WithDocument records which document produced the verdict.
func (b *RecordBuilder) WithDocument(source, version string) *RecordBuilder {
	b.record.DocSource = source
	b.record.DocVersion = version
	return b
}

// Build returns the constructed record.
func (b *RecordBuilder) Build() *Record {
	return &b.record
}

// RecordsFromScored builds one record per scored transaction of a run.
func RecordsFromScored(runID, workspaceID string, doc *policy.RuleDocument, scored []policy.ScoredTransaction) []*Record {
	var source, version string
	if doc != nil {
		source, version = doc.Source, doc.Version
	}
	now := time.Now()
	records := make([]*Record, len(scored))
	for i, st := range scored {
		rec := NewRecordBuilder().
			WithRun(runID, workspaceID).
			WithTransaction(st.Transaction).
			WithVerdict(st.Policy).
			WithDocument(source, version).
			Build()
		rec.Timestamp = now
		records[i] = rec
	}
	return records
}

// QueryOptions for filtering audit records.
type QueryOptions struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Filters
	RunID       string
	WorkspaceID string
	EmployeeID  string
	Category    string
	Compliant   *bool

	// Pagination
	Limit  int
	Offset int

	// Ordering
	OrderBy   string // "id", "timestamp", "amount", etc.
	OrderDesc bool
}

// Stats contains aggregate statistics.
type Stats struct {
	TotalVerdicts     int64   `json:"total_verdicts"`
	CompliantVerdicts int64   `json:"compliant_verdicts"`
	ViolatingVerdicts int64   `json:"violating_verdicts"`
	UniqueRuns        int64   `json:"unique_runs"`
	UniqueEmployees   int64   `json:"unique_employees"`
	FlaggedAmount     float64 `json:"flagged_amount"`
}
