package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/stores"
)

func newParseCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "parse [packages...]",
		Short: "Parse BUILD files into a target graph",
		Long: `Parse the named packages, or every package under the root when none are
named. Subincluded packages are discovered and parsed automatically; files
that defer on a not-yet-parsed package are retried in later rounds.

With a database configured the run and its graph are recorded for later
querying with 'quarry runs'.`,
		Example: `  # Parse the whole tree
  quarry parse

  # Parse two packages and whatever they subinclude
  quarry parse src/core src/tools

  # Record the run
  quarry parse --db quarry.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			packages, err := rt.resolvePackages(args)
			if err != nil {
				return err
			}

			report, parseErr := rt.session.Parse(cmd.Context(), packages)

			if path := storePath(rt, dbPath); path != "" && report != nil {
				if err := saveRun(cmd.Context(), path, report, rt.host.Graph()); err != nil {
					return err
				}
			}

			if report != nil {
				if err := printReport(report); err != nil {
					return err
				}
			}
			if parseErr != nil {
				return parseErr
			}
			if !report.OK() {
				return fmt.Errorf("%d package(s) failed to parse", len(report.Failures))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "record the run in this SQLite database")
	return cmd
}

// storePath picks the database path: the flag wins over the profile.
func storePath(rt *runtime, flag string) string {
	if flag != "" {
		return flag
	}
	return rt.profile.Store.Path
}

// saveRun records a finished session in the target store.
func saveRun(ctx context.Context, path string, report *engine.Report, graph *engine.Graph) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return store.SaveRun(ctx, stores.NewRun(report, repoRoot), graph)
}

// printReport writes a session report to stdout.
func printReport(report *engine.Report) error {
	if jsonOutput {
		return printJSON(report)
	}
	fmt.Printf("parsed %d package(s), %d target(s) in %d round(s) (%s)\n",
		report.Packages, report.Targets, report.Rounds, report.Duration.Round(time.Millisecond))
	if len(report.Failures) > 0 {
		packages := make([]string, 0, len(report.Failures))
		for pkg := range report.Failures {
			packages = append(packages, pkg)
		}
		sort.Strings(packages)
		for _, pkg := range packages {
			fmt.Printf("  //%s: %v\n", pkg, report.Failures[pkg])
		}
	}
	return nil
}
