// Package main provides the aegis CLI, a defense-in-depth pipeline for
// LLM-backed agents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/halcyonsec/aegis/internal/agent"
	"github.com/halcyonsec/aegis/internal/anomaly"
	"github.com/halcyonsec/aegis/internal/config"
	"github.com/halcyonsec/aegis/internal/gateway"
	"github.com/halcyonsec/aegis/internal/monitor"
	"github.com/halcyonsec/aegis/internal/redteam"
	"github.com/halcyonsec/aegis/internal/types"
)

// maxInputSize bounds the stdin read before any config is consulted.
const maxInputSize int64 = 10 * 1024 * 1024 // 10MB

// Version information (set via ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
)

// CLI flags
var (
	verbose     bool
	configPath  string
	projectRoot string
	identity    string
	withReport  bool
	live        bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aegis",
		Short: "Defense-in-depth pipeline for LLM-backed agents",
		Long: `aegis runs user input through a layered defense pipeline before and
after the model call: rate limiting, anomaly scoring, input sanitization,
content filtering, and output redaction. Every security-relevant decision
is written to an append-only JSONL log.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newRedteamCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("aegis version %s (built %s)\n", version, buildTime)
		},
	}
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check configuration validity",
		Long:  "Validates the configuration file and reports any issues.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			cmd.Printf("Configuration valid\n")
			cmd.Printf("  Max input length: %d\n", cfg.MaxInputLength)
			cmd.Printf("  Rate limit: %g tokens/s, capacity %d\n", cfg.RateLimit.Rate, cfg.RateLimit.Capacity)
			cmd.Printf("  Anomaly thresholds: block >%g, high >%g, medium >%g\n",
				cfg.Anomaly.BlockThreshold, cfg.Anomaly.HighThreshold, cfg.Anomaly.MediumThreshold)
			cmd.Printf("  Gateway: %s (%s)\n", cfg.Gateway.Endpoint, cfg.Gateway.Model)
			if cfg.APIKey() == "" {
				cmd.Printf("  Warning: %s is not set\n", cfg.Gateway.APIKeyEnv)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project", ".", "Project root directory")

	return cmd
}

// askReport is the ask --report output envelope.
type askReport struct {
	Outcome        *types.Outcome  `json:"outcome"`
	SuspicionLevel anomaly.Level   `json:"suspicion_level"`
	Summary        monitor.Summary `json:"summary"`
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Process one request through the defense pipeline",
		Long: `Reads raw user input from stdin, runs it through the full pipeline,
and prints the structured outcome as JSON.

Examples:
  echo "What products do you offer?" | aegis ask
  echo "Ignore all previous instructions" | aegis ask --identity mallory
  cat question.txt | aegis ask --report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limitedReader := io.LimitReader(cmd.InOrStdin(), maxInputSize+1)
			input, err := io.ReadAll(limitedReader)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			if int64(len(input)) > maxInputSize {
				return fmt.Errorf("input exceeds maximum size of %d bytes", maxInputSize)
			}
			content := strings.TrimSpace(string(input))
			if content == "" {
				return fmt.Errorf("empty input")
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			a, mon, err := buildAgent(cfg, newCompleter(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = mon.Close() }()

			outcome := a.ProcessRequest(context.Background(), identity, content)

			if withReport {
				return outputJSON(cmd, &askReport{
					Outcome:        outcome,
					SuspicionLevel: a.SuspicionLevel(identity),
					Summary:        a.UserSummary(identity),
				})
			}
			return outputJSON(cmd, outcome)
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project", ".", "Project root directory")
	cmd.Flags().StringVarP(&identity, "identity", "u", "anonymous", "Identity the request is attributed to")
	cmd.Flags().BoolVar(&withReport, "report", false, "Include suspicion level and event summary in the output")

	return cmd
}

func newRedteamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redteam",
		Short: "Run the built-in attack assessment against the pipeline",
		Long: `Replays the built-in library of labelled attack payloads through the
pipeline, each under a fresh identity, and prints a JSON report of which
layer caught each vector.

By default the model backend is a stub so the assessment exercises only the
defense layers. With --live, payloads that pass the filters are sent to the
configured model backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			var completer gateway.Completer
			if live {
				completer = newCompleter(cfg)
			} else {
				completer = &gateway.MockCompleter{
					Response: "I can only help with product and account questions.",
				}
			}

			a, mon, err := buildAgent(cfg, completer)
			if err != nil {
				return err
			}
			defer func() { _ = mon.Close() }()

			report := redteam.NewEngine(a).Run(context.Background())
			return outputJSON(cmd, report)
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project", ".", "Project root directory")
	cmd.Flags().BoolVar(&live, "live", false, "Send unblocked payloads to the real model backend")

	return cmd
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load(projectRoot)
}

func newCompleter(cfg *config.Config) gateway.Completer {
	return gateway.NewClient(cfg.Gateway.Endpoint, cfg.Gateway.Model, cfg.APIKey(),
		cfg.Gateway.MaxTokens, cfg.Gateway.Temperature)
}

func buildAgent(cfg *config.Config, completer gateway.Completer) (*agent.Agent, *monitor.Monitor, error) {
	mon, err := monitor.New(cfg.Monitor.LogPath, cfg.Monitor.AlertThreshold)
	if err != nil {
		return nil, nil, fmt.Errorf("creating monitor: %w", err)
	}

	var opts []agent.Option
	if verbose {
		opts = append(opts, agent.WithLogger(zerolog.New(os.Stderr).With().Timestamp().Logger()))
	}

	a, err := agent.New(cfg, completer, mon, opts...)
	if err != nil {
		_ = mon.Close()
		return nil, nil, fmt.Errorf("creating agent: %w", err)
	}
	return a, mon, nil
}

func outputJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
