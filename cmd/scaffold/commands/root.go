package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// buildVersion is threaded from main for telemetry resources.
	buildVersion = "dev"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scaffold",
		Short: "OpenScaffold - project scaffolding composition engine",
		Long: `OpenScaffold composes project scaffolding from small plugins.

A plugin declares its parameters, the artifacts it renders, and the
other plugins it builds on. Installing a plugin resolves the whole
dependency graph, dedupes shared dependencies, and applies every
artifact to the target tree idempotently.

Features:
  - Declarative plugin manifests (YAML)
  - Parameterized templates with inheritance
  - Composable artifact merging (overwrite, append, sections)
  - Idempotent re-runs via applied_when checks (Starlark)
  - Policy gating via OPA/Rego
  - Local and ssh:// targets`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default scaffold.cue if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPluginsCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
