package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentfacts/expense-compliance/internal/audit"
	"github.com/agentfacts/expense-compliance/internal/compliance"
	"github.com/agentfacts/expense-compliance/internal/dataset"
	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/compiler"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a transaction dataset against a rule document",
	Long: `Loads a rule document (.json parser output, or .txt/.md policy text) and a
dataset (.jsonl, .json or .csv; "-" reads JSONL from stdin), synthesizes missing
conditions, aligns categories to the dataset and prints one verdict per
transaction.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policyPath, _ := cmd.Flags().GetString("policy")
		dataPath, _ := cmd.Flags().GetString("data")
		output, _ := cmd.Flags().GetString("output")
		categories, _ := cmd.Flags().GetStringSlice("categories")
		crossCheck, _ := cmd.Flags().GetBool("cross-check")
		auditDB, _ := cmd.Flags().GetString("audit-db")

		if output != "jsonl" && output != "table" {
			return fmt.Errorf("invalid output %q (must be jsonl or table)", output)
		}

		doc, err := policy.LoadDocumentFile(policyPath)
		if err != nil {
			return err
		}
		txns, err := dataset.Load(dataPath)
		if err != nil {
			return err
		}
		if len(categories) == 0 {
			categories = dataset.Categories(txns)
		}
		prepared := policy.Prepare(doc, categories)

		engine := compliance.NewEngine(compliance.Config{
			Workers:           cfg.Engine.Workers,
			ParallelThreshold: cfg.Engine.ParallelThreshold,
			ChunkSize:         cfg.Engine.ChunkSize,
		})
		defer engine.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		result, err := engine.Apply(ctx, prepared, txns)
		if err != nil {
			return err
		}

		if crossCheck || cfg.Policy.CrossCheck {
			report, err := compiler.NewCompiler().CrossCheck(ctx, prepared, result.Scored)
			if err != nil {
				return fmt.Errorf("cross-check: %w", err)
			}
			if report.Mismatched > 0 {
				return fmt.Errorf("cross-check: %d of %d verdicts differ from the Rego evaluation", report.Mismatched, report.Checked)
			}
			log.Info().Int("checked", report.Checked).Msg("Rego cross-check agrees")
		}

		if auditDB == "" && cfg.Audit.Enabled {
			auditDB = cfg.Audit.DBPath
		}
		if auditDB != "" {
			if err := recordRun(ctx, auditDB, result, prepared); err != nil {
				return err
			}
		}

		if output == "table" {
			renderTable(cmd.OutOrStdout(), result)
			return nil
		}
		return dataset.NewWriter(cmd.OutOrStdout()).WriteAll(result.Scored)
	},
}

func init() {
	scoreCmd.Flags().StringP("policy", "p", "", "Rule document (.json, .txt or .md)")
	scoreCmd.Flags().StringP("data", "d", "", `Transaction dataset (.jsonl, .json, .csv or "-")`)
	scoreCmd.Flags().StringP("output", "o", "jsonl", "Output format (jsonl, table)")
	scoreCmd.Flags().StringSlice("categories", nil, "Categories to align against (default: the dataset's)")
	scoreCmd.Flags().Bool("cross-check", false, "Re-evaluate every verdict with the compiled Rego module")
	scoreCmd.Flags().String("audit-db", "", "Write verdicts to this SQLite verdict log")
	_ = scoreCmd.MarkFlagRequired("policy")
	_ = scoreCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(scoreCmd)
}

// recordRun writes the verdicts of a run to the verdict log.
func recordRun(ctx context.Context, dbPath string, result *compliance.Result, doc *policy.RuleDocument) error {
	store, err := audit.NewStore(audit.StoreConfig{DBPath: dbPath})
	if err != nil {
		return fmt.Errorf("failed to open verdict log: %w", err)
	}
	defer store.Close()

	records := audit.RecordsFromScored(result.RunID, "", doc, result.Scored)
	if err := store.InsertBatch(ctx, records); err != nil {
		return fmt.Errorf("failed to record verdicts: %w", err)
	}
	log.Info().Str("run_id", result.RunID).Int("records", len(records)).Str("db_path", dbPath).Msg("Recorded verdicts")
	return nil
}

func renderTable(w io.Writer, result *compliance.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Run %s", result.RunID)
	t.AppendHeader(table.Row{"Txn", "Employee", "Category", "Merchant", "Amount", "Compliant", "Violated Rules"})

	var flagged float64
	for _, st := range result.Scored {
		status := "YES"
		if !st.Policy.Compliant {
			status = "NO"
			flagged += st.Amount
		}
		t.AppendRow(table.Row{
			st.TxnID,
			st.EmployeeID,
			st.Category,
			st.Merchant,
			fmt.Sprintf("%.2f", st.Amount),
			status,
			strings.Join(st.Policy.ViolatedRules, "\n"),
		})
	}

	t.AppendFooter(table.Row{
		"", "", "", "Flagged",
		fmt.Sprintf("%.2f", flagged),
		fmt.Sprintf("%d/%d", result.Summary.Violations, result.Summary.Transactions),
		"",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)
	t.Render()
}
