// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/idea-engine/internal/store"
	"github.com/pdiddy/idea-engine/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived runs",
	Long: `History lists runs stored in the archive database, newest first, with
their keyword, timing, and acceptance counts.`,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := store.Open(archivePath())
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(context.Background())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No archived runs.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-25s  %-8s  %s\n",
		"Run ID", "Started", "Keyword", "Accepted", "Ideas")
	for _, r := range runs {
		keyword := r.Keyword
		if len(keyword) > 25 {
			cut := 22
			for cut > 0 && !utf8.RuneStart(keyword[cut]) {
				cut--
			}
			keyword = keyword[:cut] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-25s  %-8d  %d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			keyword, r.Accepted, r.Total)
	}
	fmt.Fprintf(os.Stdout, "\n%d runs\n", len(runs))
	return nil
}

// archivePath resolves the archive database path from configuration.
func archivePath() string {
	out := types.OutputConfig{
		ResultsDir: viper.GetString("output.results_dir"),
		DBPath:     viper.GetString("output.db_path"),
	}
	return dbPath(out)
}

// dbPath returns the configured archive path, defaulting to a database file
// inside the results directory.
func dbPath(out types.OutputConfig) string {
	if out.DBPath != "" {
		return out.DBPath
	}
	dir := out.ResultsDir
	if dir == "" {
		dir = "results"
	}
	return filepath.Join(dir, "idea-engine.db")
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
