package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [packages...]",
		Short: "Parse BUILD files and re-parse them as they change",
		Long: `Run an initial parse, then watch the tree for BUILD file changes and
re-parse affected packages. Changed packages are evicted from the graph
first so the new parse starts clean; packages that subinclude from them
pick up the new definitions on their own next change.

Runs until interrupted.`,
		Example: `  # Watch the whole tree
  quarry watch

  # Watch while iterating on one package
  quarry watch src/core`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			packages, err := rt.resolvePackages(args)
			if err != nil {
				return err
			}

			report, err := rt.session.Parse(cmd.Context(), packages)
			if err != nil {
				return err
			}
			if err := printReport(report); err != nil {
				return err
			}

			watcher, err := engine.NewWatcher(repoRoot, engine.WatchOptions{
				BuildFileName: rt.profile.BuildFileName,
				Logger:        rt.logger,
			})
			if err != nil {
				return err
			}

			reparse := func(ctx context.Context, changed []string) error {
				for _, pkg := range changed {
					rt.host.Graph().Evict(pkg)
				}
				report, err := rt.session.Parse(ctx, changed)
				if err != nil {
					return err
				}
				return printReport(report)
			}

			err = watcher.Run(cmd.Context(), reparse)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
	return cmd
}
