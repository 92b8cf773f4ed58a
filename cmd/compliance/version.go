package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Expense Compliance\n")
		fmt.Fprintf(out, "  Version:    %s\n", version)
		fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		fmt.Fprintf(out, "  Git Commit: %s\n", gitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
