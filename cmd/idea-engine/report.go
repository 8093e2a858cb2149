// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/idea-engine/internal/report"
	"github.com/pdiddy/idea-engine/internal/store"
	"github.com/pdiddy/idea-engine/pkg/types"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Re-render the Markdown report for an archived run",
	Long: `Report loads a run from the archive database and renders its Markdown
report to stdout. Without a run ID the most recent run is used; pass
--output to write the report to a file instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	s, err := store.Open(archivePath())
	if err != nil {
		return err
	}
	defer s.Close()

	var result *types.RunResult
	if len(args) == 1 {
		result, err = s.LoadRun(context.Background(), args[0])
	} else {
		result, err = s.LatestRun(context.Background())
	}
	if err != nil {
		return err
	}

	md := report.Markdown(result)

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		fmt.Print(md)
		return nil
	}
	if err := os.WriteFile(output, []byte(md), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	fmt.Fprintf(os.Stdout, "report written to %s\n", output)
	return nil
}

func init() {
	reportCmd.Flags().String("output", "", "write the report to this file instead of stdout")

	rootCmd.AddCommand(reportCmd)
}
