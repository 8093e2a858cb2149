// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/idea-engine/internal/agent"
	"github.com/pdiddy/idea-engine/internal/evolve"
	"github.com/pdiddy/idea-engine/internal/papers"
	"github.com/pdiddy/idea-engine/internal/report"
	"github.com/pdiddy/idea-engine/internal/store"
	"github.com/pdiddy/idea-engine/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run [keyword]",
	Short: "Run a full idea evolution for a research keyword",
	Long: `Run fetches literature context for the keyword, generates idea drafts,
and evolves each idea through critique and refinement until it reaches a
terminal state. Results are written to the results directory as a Markdown
report and a JSON dump, and archived in the run database.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := buildConfig(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: cfg.Backend.Timeout}
	roles, err := agent.NewRoles(cfg, client)
	if err != nil {
		return err
	}
	defer func() {
		// Release local Ollama models once the run is over.
		unloadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		roles.Unload(unloadCtx)
	}()

	provider := &papers.OpenAlex{
		Client:     &http.Client{Timeout: cfg.Context.Timeout},
		Config:     cfg.Context,
		MaxRetries: cfg.Backend.MaxRetries,
	}

	engine, err := evolve.New(cfg, roles.Generator, roles.Critic, roles.Refiner, provider)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, args[0], os.Stdout)
	if err != nil {
		return err
	}

	mdPath, jsonPath, err := report.Write(result, cfg.Output.ResultsDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "report: %s\nresults: %s\n", mdPath, jsonPath)

	s, err := store.Open(dbPath(cfg.Output))
	if err != nil {
		return fmt.Errorf("opening run archive: %w", err)
	}
	defer s.Close()

	runID, err := s.SaveRun(context.Background(), result)
	if err != nil {
		return fmt.Errorf("archiving run: %w", err)
	}
	fmt.Fprintf(os.Stdout, "archived as run %s\n", runID)
	return nil
}

// buildConfig assembles the pipeline configuration from the config file,
// environment, secrets, and command-line flag overrides.
func buildConfig(cmd *cobra.Command) types.PipelineConfig {
	cfg := types.PipelineConfig{
		Context: types.ContextConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("context.timeout"),
				UserAgent: viper.GetString("context.user_agent"),
			},
			FetchLimit: viper.GetInt("context.fetch_limit"),
			TopKPapers: viper.GetInt("context.top_k_papers"),
			Email:      secretDefault("openalex-email", viper.GetString("context.email")),
		},
		Backend: types.BackendConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("backend.timeout"),
				UserAgent: viper.GetString("backend.user_agent"),
			},
			OllamaBaseURL:   secretDefault("ollama-base-url", viper.GetString("backend.ollama_base_url")),
			OllamaCloudURL:  viper.GetString("backend.ollama_cloud_url"),
			AnthropicAPIKey: secretDefault("anthropic-api-key", viper.GetString("backend.anthropic_api_key")),
			MaxRetries:      viper.GetInt("backend.max_retries"),
		},
		Roles: types.RolesConfig{
			Generator: roleConfig("generator"),
			Critic:    roleConfig("critic"),
			Refiner:   roleConfig("refiner"),
		},
		Loop: types.LoopConfig{
			MaxIterations:  viper.GetInt("loop.max_iterations"),
			NumIdeas:       viper.GetInt("loop.num_ideas"),
			ScoreThreshold: viper.GetFloat64("loop.score_threshold"),
			DropThreshold:  viper.GetFloat64("loop.drop_threshold"),
		},
		Output: types.OutputConfig{
			ResultsDir: viper.GetString("output.results_dir"),
			DBPath:     viper.GetString("output.db_path"),
		},
	}

	// Flag overrides.
	if loops, _ := cmd.Flags().GetInt("loops"); loops > 0 {
		cfg.Loop.MaxIterations = loops
	}
	if ideas, _ := cmd.Flags().GetInt("ideas"); ideas > 0 {
		cfg.Loop.NumIdeas = ideas
	}
	if cmd.Flags().Changed("score-threshold") {
		cfg.Loop.ScoreThreshold, _ = cmd.Flags().GetFloat64("score-threshold")
	}
	if cmd.Flags().Changed("drop-threshold") {
		cfg.Loop.DropThreshold, _ = cmd.Flags().GetFloat64("drop-threshold")
	}
	if dir, _ := cmd.Flags().GetString("results-dir"); dir != "" {
		cfg.Output.ResultsDir = dir
	}

	return cfg
}

// roleConfig reads one role's settings from viper.
func roleConfig(role string) types.RoleConfig {
	return types.RoleConfig{
		Provider:         types.Provider(viper.GetString("roles." + role + ".provider")),
		Model:            viper.GetString("roles." + role + ".model"),
		Temperature:      viper.GetFloat64("roles." + role + ".temperature"),
		SystemPromptPath: viper.GetString("roles." + role + ".system_prompt_path"),
	}
}

func init() {
	viper.SetDefault("context.timeout", 30*time.Second)
	viper.SetDefault("context.user_agent", "idea-engine/0.1")
	viper.SetDefault("context.fetch_limit", 100)
	viper.SetDefault("context.top_k_papers", 10)

	viper.SetDefault("backend.timeout", 300*time.Second)
	viper.SetDefault("backend.user_agent", "idea-engine/0.1")
	viper.SetDefault("backend.ollama_base_url", "http://localhost:11434")
	viper.SetDefault("backend.max_retries", 3)

	for role, temp := range map[string]float64{"generator": 1.0, "critic": 0.3, "refiner": 0.7} {
		viper.SetDefault("roles."+role+".provider", "ollama")
		viper.SetDefault("roles."+role+".model", "qwen3:8b")
		viper.SetDefault("roles."+role+".temperature", temp)
	}

	viper.SetDefault("loop.max_iterations", 3)
	viper.SetDefault("loop.num_ideas", 3)
	viper.SetDefault("loop.score_threshold", 3.5)
	viper.SetDefault("loop.drop_threshold", 2.0)

	viper.SetDefault("output.results_dir", "results")

	runCmd.Flags().Int("loops", 0, "refinement budget per idea (overrides loop.max_iterations)")
	runCmd.Flags().Int("ideas", 0, "number of initial drafts (overrides loop.num_ideas)")
	runCmd.Flags().Float64("score-threshold", 0, "acceptance threshold for the average score")
	runCmd.Flags().Float64("drop-threshold", 0, "outright-rejection threshold for the average score")
	runCmd.Flags().String("results-dir", "", "directory for run artifacts")

	rootCmd.AddCommand(runCmd)
}
