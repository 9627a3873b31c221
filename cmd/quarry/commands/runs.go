package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query recorded parse runs",
		Long:  `List and inspect parse runs recorded with 'quarry parse --db'.`,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database to query (default from profile)")

	cmd.AddCommand(newRunsListCommand(&dbPath))
	cmd.AddCommand(newRunsShowCommand(&dbPath))
	return cmd
}

func newRunsListCommand(dbPath *string) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			for _, run := range runs {
				status := string(run.Status)
				if run.Error != nil {
					status = fmt.Sprintf("%s (%s)", status, *run.Error)
				}
				fmt.Printf("%s  %s  %d pkgs  %d targets  %d rounds  %s  %s\n",
					run.ID, run.CreatedAt.Format(time.RFC3339), run.Packages,
					run.Targets, run.Rounds, run.Duration.Round(time.Millisecond), status)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	return cmd
}

func newRunsShowCommand(dbPath *string) *cobra.Command {
	var kind, pkg string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the targets recorded for a run",
		Args:  cobra.ExactArgs(1),
		Example: `  # All targets of a run
  quarry runs show 5f0c...

  # Only its tests
  quarry runs show 5f0c... --kind test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			var kindFilter, pkgFilter *string
			if kind != "" {
				kindFilter = &kind
			}
			if pkg != "" {
				pkgFilter = &pkg
			}
			targets, err := store.ListTargets(cmd.Context(), args[0], kindFilter, pkgFilter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(targets)
			}
			for _, row := range targets {
				fmt.Printf("%s  %s", row.Label(), row.Kind)
				if row.Command != "" {
					fmt.Printf("  %q", row.Command)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (build, binary, test, filegroup)")
	cmd.Flags().StringVar(&pkg, "package", "", "filter by package")
	return cmd
}

// openStore opens the run database named by the flag or the profile.
func openStore(ctx context.Context, dbPath string) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		profile, err := loadProfile()
		if err != nil {
			return nil, err
		}
		dbPath = profile.Store.Path
	}
	if dbPath == "" {
		return nil, fmt.Errorf("no database configured; pass --db or set store.path in %s", "quarry.yaml")
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
