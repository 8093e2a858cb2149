// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Config resolves the configuration from the config file, environment,
secrets, and defaults, and prints the result as YAML. Use --init to write
it to idea-engine.yaml as a starting point for editing.

Secret-derived values (API keys) are redacted in the output.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := buildConfig(cmd)
	if cfg.Backend.AnthropicAPIKey != "" {
		cfg.Backend.AnthropicAPIKey = "<redacted>"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}

	if write, _ := cmd.Flags().GetBool("init"); write {
		const path = "idea-engine.yaml"
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	}

	fmt.Print(string(data))
	return nil
}

func init() {
	configCmd.Flags().Bool("init", false, "write the configuration to idea-engine.yaml")

	rootCmd.AddCommand(configCmd)
}
