package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentfacts/expense-compliance/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// global flags
var (
	configPath string
	logLevel   string
	logFormat  string
)

// cfg is loaded before any command runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Expense policy normalization and compliance scoring",
	Long: `compliance turns policy-parser output into a canonical rule document,
fills in and aligns rule conditions, and scores expense transactions against it.
Run "compliance serve" for the HTTP API or use the subcommands directly.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Logging.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Logging.Format = logFormat
		}
		cfg = loaded

		// Command output goes to stdout, so only the server logs there.
		if cmd.Name() != "serve" && cfg.Logging.Output == "stdout" {
			cfg.Logging.Output = "stderr"
		}
		return initLogger(cfg.Logging)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults and COMPLIANCE_* variables apply without one)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides the config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text), overrides the config")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initLogger(lc config.LoggingConfig) error {
	// Set log level
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Determine output destination
	var output io.Writer = os.Stdout
	switch lc.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		f, err := os.OpenFile(lc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}

	// Configure output format
	if lc.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = log.Output(output)
	}

	log.Debug().Str("level", lc.Level).Str("format", lc.Format).Str("output", lc.Output).Msg("Logger initialized")
	return nil
}
