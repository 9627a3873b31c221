package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	repoRoot    string
	profilePath string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry - BUILD file evaluation engine",
		Long: `Quarry evaluates declarative BUILD files written in a restricted Starlark
dialect and assembles the targets they declare into a dependency graph.

Features:
  - Sandboxed evaluation with an allowlisted builtin set
  - Parallel parsing with automatic subinclude retry
  - Policy checks over declared targets via Rego
  - Parse history persisted to SQLite for later querying
  - Watch mode re-parsing BUILD files as they change`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&repoRoot, "root", "r", ".", "repository root to parse from")
	rootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "c", "", "profile file path (default <root>/quarry.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newParseCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
