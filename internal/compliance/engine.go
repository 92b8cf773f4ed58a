// Package compliance applies rule documents to transaction batches and
// produces one verdict per transaction.
package compliance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// PreparedPolicy is a rule document with every condition parsed once.
type PreparedPolicy struct {
	rules []preparedRule
}

type preparedRule struct {
	label string
	// match is nil for rules without a condition.
	match func(condition.Record) bool
}

// Prepare parses the conditions of doc. A nil cache parses without caching.
func Prepare(doc *policy.RuleDocument, cache *ConditionCache) *PreparedPolicy {
	p := &PreparedPolicy{}
	if doc == nil {
		return p
	}
	p.rules = make([]preparedRule, len(doc.Rules))
	for i, r := range doc.Rules {
		pr := preparedRule{label: RuleLabel(r)}
		if r.Condition != "" {
			pr.match = cache.Parse(r.Condition).Match
		}
		p.rules[i] = pr
	}
	return p
}

// Rules returns the number of rules in the prepared policy.
func (p *PreparedPolicy) Rules() int {
	return len(p.rules)
}

// Verdict evaluates every rule against txn in document order.
func (p *PreparedPolicy) Verdict(txn policy.Transaction) policy.ComplianceVerdict {
	var violated []string
	for _, r := range p.rules {
		if r.matches(txn) {
			violated = append(violated, r.label)
		}
	}
	return policy.NewVerdict(violated)
}

// matches evaluates one rule. A panic inside evaluation counts as no match so
// a single bad rule cannot abort the batch.
func (r preparedRule) matches(txn policy.Transaction) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("rule", r.label).
				Str("txn_id", txn.TxnID).
				Msg("Rule evaluation failed")
			matched = false
		}
	}()
	if r.match == nil {
		return false
	}
	return r.match(txn)
}

// RuleLabel names a rule in verdicts: its name, else its violation message,
// else its JSON form.
func RuleLabel(r policy.Rule) string {
	if r.Name != "" {
		return r.Name
	}
	if r.ViolationMessage != "" {
		return r.ViolationMessage
	}
	data, err := json.MarshalNoEscape(r)
	if err != nil {
		return fmt.Sprintf("%+v", r)
	}
	return string(data)
}

// ApplyPolicy scores txns against doc sequentially. A nil document or one
// without rules marks every transaction compliant.
func ApplyPolicy(doc *policy.RuleDocument, txns []policy.Transaction) []policy.ScoredTransaction {
	prepared := Prepare(doc, nil)
	out := make([]policy.ScoredTransaction, len(txns))
	for i, txn := range txns {
		out[i] = policy.ScoredTransaction{Transaction: txn, Policy: prepared.Verdict(txn)}
	}
	return out
}

// RunObserver is notified after every completed scoring run.
type RunObserver interface {
	ObserveRun(summary RunSummary)
}

// RunSummary describes a completed scoring run.
type RunSummary struct {
	RunID          string
	Rules          int
	Transactions   int
	Violations     int
	RuleViolations map[string]int
	Duration       time.Duration
}

// Result is the outcome of a scoring run.
type Result struct {
	RunID    string                     `json:"run_id"`
	Scored   []policy.ScoredTransaction `json:"transactions"`
	Summary  RunSummary                 `json:"-"`
	Duration time.Duration              `json:"-"`
}

// Config holds engine configuration.
type Config struct {
	// Workers bounds the goroutines scoring one batch.
	Workers int
	// ParallelThreshold is the batch size above which scoring runs in parallel.
	ParallelThreshold int
	// ChunkSize is the number of transactions per parallel task.
	ChunkSize int
	Cache     CacheConfig
}

// Engine scores transaction batches.
type Engine struct {
	cache     *ConditionCache
	observers []RunObserver

	workers           int
	parallelThreshold int
	chunkSize         int

	runs         atomic.Int64
	transactions atomic.Int64
	violations   atomic.Int64
}

// NewEngine creates a new compliance engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = 1000
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256
	}

	return &Engine{
		cache:             NewConditionCache(cfg.Cache),
		workers:           cfg.Workers,
		parallelThreshold: cfg.ParallelThreshold,
		chunkSize:         cfg.ChunkSize,
	}
}

// AddObserver registers an observer for completed runs.
func (e *Engine) AddObserver(o RunObserver) {
	e.observers = append(e.observers, o)
}

// Apply scores txns against doc. Output order equals input order. When ctx is
// cancelled the partial result is discarded and ctx.Err() returned.
func (e *Engine) Apply(ctx context.Context, doc *policy.RuleDocument, txns []policy.Transaction) (*Result, error) {
	start := time.Now()
	runID := uuid.New().String()

	prepared := Prepare(doc, e.cache)
	scored := make([]policy.ScoredTransaction, len(txns))

	if len(txns) <= e.parallelThreshold {
		for i, txn := range txns {
			if i%e.chunkSize == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			scored[i] = policy.ScoredTransaction{Transaction: txn, Policy: prepared.Verdict(txn)}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		for lo := 0; lo < len(txns); lo += e.chunkSize {
			hi := min(lo+e.chunkSize, len(txns))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				for i := lo; i < hi; i++ {
					scored[i] = policy.ScoredTransaction{Transaction: txns[i], Policy: prepared.Verdict(txns[i])}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	summary := RunSummary{
		RunID:          runID,
		Rules:          prepared.Rules(),
		Transactions:   len(txns),
		RuleViolations: make(map[string]int),
	}
	for _, s := range scored {
		if !s.Policy.Compliant {
			summary.Violations++
		}
		for _, label := range s.Policy.ViolatedRules {
			summary.RuleViolations[label]++
		}
	}
	summary.Duration = time.Since(start)

	e.runs.Add(1)
	e.transactions.Add(int64(len(txns)))
	e.violations.Add(int64(summary.Violations))

	for _, o := range e.observers {
		o.ObserveRun(summary)
	}

	log.Info().
		Str("run_id", runID).
		Int("rules", summary.Rules).
		Int("transactions", summary.Transactions).
		Int("violations", summary.Violations).
		Dur("duration", summary.Duration).
		Msg("Scoring run complete")

	return &Result{
		RunID:    runID,
		Scored:   scored,
		Summary:  summary,
		Duration: summary.Duration,
	}, nil
}

// Stats returns engine statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Runs:         e.runs.Load(),
		Transactions: e.transactions.Load(),
		Violations:   e.violations.Load(),
		CacheStats:   e.cache.Stats(),
	}
}

// EngineStats contains engine statistics.
type EngineStats struct {
	Runs         int64      `json:"runs"`
	Transactions int64      `json:"transactions"`
	Violations   int64      `json:"violations"`
	CacheStats   CacheStats `json:"cache"`
}

// Close releases the engine's background resources.
func (e *Engine) Close() {
	e.cache.Close()
}

// IsReady reports whether the engine can score. It always can; the method
// exists for health checks.
func (e *Engine) IsReady() bool {
	return e != nil && e.cache != nil
}
