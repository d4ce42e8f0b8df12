// Package main is the prism daemon entry point.
//
// Prism is a Discord-facing conversational agent: it plans tool usage,
// executes tools concurrently, reflects on the gathered results, and
// streams a final answer back through an edit-throttled progress
// message.
//
// Start the daemon:
//
//	prism serve --config prism.yaml
//
// Check a configuration file without starting:
//
//	prism validate --config prism.yaml
//
// API keys are read from the environment only: DISCORD_BOT_TOKEN,
// GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prismbot/prism/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "prism.yaml"

// configError marks failures that should exit with code 1 instead of
// the generic runtime code 2.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		var ce *configError
		if errors.As(err, &ce) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "prism",
		Short:        "Prism - Discord conversational agent",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		// Bare "prism" runs the daemon.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, false)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")

	root.AddCommand(
		buildServeCmd(&configPath),
		buildValidateCmd(&configPath),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return root
}

func buildServeCmd(configPath *string) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent daemon",
		Long: `Start the agent daemon with the configured Discord transport,
model providers, tools, scheduler and trend following.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*configPath); err != nil {
				return &configError{err: fmt.Errorf("config invalid: %w", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s\n", *configPath)
			return nil
		},
	}
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "prism %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
