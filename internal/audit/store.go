package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store keeps the verdict log in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// StoreConfig holds configuration for the audit store.
type StoreConfig struct {
	DBPath string // Path to SQLite file, ":memory:" for in-memory
}

// NewStore opens the verdict store and creates its schema.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = "verdicts.db"
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS verdict_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		workspace_id TEXT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

		txn_id TEXT NOT NULL,
		employee_id TEXT,
		category TEXT,
		amount REAL NOT NULL DEFAULT 0,

		compliant INTEGER NOT NULL,
		violated_rules TEXT NOT NULL DEFAULT '',
		doc_source TEXT,
		doc_version TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_verdict_run_id ON verdict_log(run_id);
	CREATE INDEX IF NOT EXISTS idx_verdict_timestamp ON verdict_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_verdict_employee_id ON verdict_log(employee_id);
	CREATE INDEX IF NOT EXISTS idx_verdict_compliant ON verdict_log(compliant);
	`

	_, err := s.db.Exec(schema)
	return err
}

const insertVerdict = `
	INSERT INTO verdict_log (
		run_id, workspace_id, timestamp,
		txn_id, employee_id, category, amount,
		compliant, violated_rules, doc_source, doc_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func insertArgs(r *Record) []interface{} {
	return []interface{}{
		r.RunID, r.WorkspaceID, r.Timestamp,
		r.TxnID, r.EmployeeID, r.Category, r.Amount,
		r.Compliant, r.ViolatedRules, r.DocSource, r.DocVersion,
	}
}

// Insert adds a single verdict record.
func (s *Store) Insert(ctx context.Context, record *Record) error {
	_, err := s.db.ExecContext(ctx, insertVerdict, insertArgs(record)...)
	return err
}

// InsertBatch inserts multiple records in a single transaction.
func (s *Store) InsertBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertVerdict)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx, insertArgs(record)...); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// allowedOrderByColumns whitelists ORDER BY columns; the value is interpolated.
var allowedOrderByColumns = map[string]bool{
	"id":          true,
	"timestamp":   true,
	"run_id":      true,
	"txn_id":      true,
	"employee_id": true,
	"category":    true,
	"amount":      true,
	"compliant":   true,
}

// Query retrieves verdict records based on options.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Record, error) {
	var conditions []string
	var args []interface{}

	if opts.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *opts.StartTime)
	}
	if opts.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *opts.EndTime)
	}
	if opts.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if opts.WorkspaceID != "" {
		conditions = append(conditions, "workspace_id = ?")
		args = append(args, opts.WorkspaceID)
	}
	if opts.EmployeeID != "" {
		conditions = append(conditions, "employee_id = ?")
		args = append(args, opts.EmployeeID)
	}
	if opts.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.Compliant != nil {
		conditions = append(conditions, "compliant = ?")
		args = append(args, *opts.Compliant)
	}

	query := "SELECT id, run_id, COALESCE(workspace_id, ''), timestamp, " +
		"txn_id, COALESCE(employee_id, ''), COALESCE(category, ''), amount, " +
		"compliant, violated_rules, COALESCE(doc_source, ''), COALESCE(doc_version, '') " +
		"FROM verdict_log"

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy := "id"
	if opts.OrderBy != "" {
		if !allowedOrderByColumns[opts.OrderBy] {
			return nil, fmt.Errorf("invalid order by column: %s", opts.OrderBy)
		}
		orderBy = opts.OrderBy
	}
	order := "ASC"
	if opts.OrderDesc {
		order = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderBy, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		err := rows.Scan(
			&r.ID, &r.RunID, &r.WorkspaceID, &r.Timestamp,
			&r.TxnID, &r.EmployeeID, &r.Category, &r.Amount,
			&r.Compliant, &r.ViolatedRules, &r.DocSource, &r.DocVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetStats returns aggregate statistics, optionally limited to records
// written at or after since.
func (s *Store) GetStats(ctx context.Context, since *time.Time) (*Stats, error) {
	query := `
	SELECT
		COUNT(*) as total,
		COALESCE(SUM(CASE WHEN compliant = 1 THEN 1 ELSE 0 END), 0) as compliant,
		COALESCE(SUM(CASE WHEN compliant = 0 THEN 1 ELSE 0 END), 0) as violating,
		COUNT(DISTINCT run_id) as unique_runs,
		COUNT(DISTINCT NULLIF(employee_id, '')) as unique_employees,
		SUM(CASE WHEN compliant = 0 THEN amount ELSE 0 END) as flagged_amount
	FROM verdict_log
	`

	var args []interface{}
	if since != nil {
		query += " WHERE timestamp >= ?"
		args = append(args, *since)
	}

	var stats Stats
	var flagged sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalVerdicts,
		&stats.CompliantVerdicts,
		&stats.ViolatingVerdicts,
		&stats.UniqueRuns,
		&stats.UniqueEmployees,
		&flagged,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if flagged.Valid {
		stats.FlaggedAmount = flagged.Float64
	}

	return &stats, nil
}

// RuleCounts returns how often each violated-rules string occurs in a run.
func (s *Store) RuleCounts(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT violated_rules, COUNT(*) FROM verdict_log WHERE run_id = ? AND compliant = 0 GROUP BY violated_rules",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for _, label := range (&Record{ViolatedRules: reason}).Violations() {
			counts[label] += n
		}
	}
	return counts, rows.Err()
}

// Prune removes records older than the specified duration.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM verdict_log WHERE timestamp < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune: %w", err)
	}

	return result.RowsAffected()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	log.Info().Str("path", s.dbPath).Msg("Closing verdict store")
	return s.db.Close()
}
