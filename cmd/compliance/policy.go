package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/compiler"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [FILE]",
	Short: "Normalize a parser response into a canonical rule document",
	Long: `Reads a policy-parser response (any supported shape) from FILE or stdin and
prints the canonical rule document. With --categories the document is also run
through condition synthesis and category alignment; with --annotate every rule
gets enforceability diagnostics.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, _ := cmd.Flags().GetStringSlice("categories")
		annotate, _ := cmd.Flags().GetBool("annotate")

		raw, err := readInput(args)
		if err != nil {
			return err
		}

		doc, shape, err := policy.NormalizeShape(raw)
		if err != nil {
			var nerr *policy.NormalizationError
			if errors.As(err, &nerr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "unrecognized response:\n%s\n", nerr.Raw)
			}
			return err
		}
		log.Info().Str("shape", string(shape)).Int("rules", len(doc.Rules)).Msg("Normalized response")

		if len(categories) > 0 {
			doc = policy.Prepare(doc, categories)
		}
		if annotate {
			vocab := policy.Vocabulary{}
			if len(categories) > 0 {
				vocab.Values = map[string][]string{"category": categories}
			}
			doc = policy.Annotate(doc, vocab)
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var parseTextCmd = &cobra.Command{
	Use:   "parse-text [FILE]",
	Short: "Extract rules from free-form policy text",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args)
		if err != nil {
			return err
		}
		doc := policy.ParseText(string(raw))
		log.Info().Str("source", doc.Source).Int("rules", len(doc.Rules)).Msg("Parsed policy text")
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Validate a hand-edited rule document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args)
		if err != nil {
			return err
		}
		doc, err := policy.ValidateEdited(raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "valid: %d rules (version %s, source %s)\n", len(doc.Rules), doc.Version, doc.Source)
		return nil
	},
}

var regoCmd = &cobra.Command{
	Use:   "rego [FILE]",
	Short: "Compile a rule document to an OPA Rego module",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args)
		if err != nil {
			return err
		}
		doc, err := policy.NormalizeJSON(raw)
		if err != nil {
			return err
		}

		result, err := compiler.NewCompiler().Compile(doc)
		if err != nil {
			return err
		}
		for _, w := range result.Warnings {
			log.Warn().Str("module", result.ModuleName).Msg(w)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), result.Module)
		return err
	},
}

func init() {
	normalizeCmd.Flags().StringSlice("categories", nil, "Dataset categories to synthesize and align against")
	normalizeCmd.Flags().Bool("annotate", false, "Add enforceability diagnostics to every rule")

	rootCmd.AddCommand(normalizeCmd, parseTextCmd, validateCmd, regoCmd)
}

// readInput reads the single FILE argument, or stdin when it is absent or "-".
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return data, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
