package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/policy"
)

func newCheckCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "check [packages...]",
		Short: "Parse BUILD files and run policy checks on the result",
		Long: `Parse the named packages (or the whole tree) and evaluate the loaded
policies over every declared target. Builtin policies cover licence
allowlisting, visibility hygiene and test timeouts; extra .rego files can
be loaded from the profile or with --policy.

A violation at error or critical severity fails the check; warnings are
printed but do not.`,
		Example: `  # Check the whole tree with the builtin policies
  quarry check

  # Load extra policies from a directory
  quarry check --policy build/policies`,
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
			if !report.OK() {
				if printErr := printReport(report); printErr != nil {
					return printErr
				}
				return fmt.Errorf("%d package(s) failed to parse", len(report.Failures))
			}

			checker, err := policy.NewEngine(rt.logger)
			if err != nil {
				return err
			}
			paths := policyPaths
			if len(paths) == 0 {
				paths = rt.profile.Policy.Paths
			}
			if len(paths) > 0 {
				if err := checker.LoadPolicies(cmd.Context(), paths); err != nil {
					return err
				}
			}

			result, err := checker.EvaluateGraph(cmd.Context(), rt.host.Graph())
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				printResult(result)
			}
			if !result.Allowed {
				return fmt.Errorf("%d blocking policy violation(s)", len(result.Blocking()))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego policy files or directories")
	return cmd
}

// printResult writes a policy result to stdout.
func printResult(result *policy.Result) {
	if len(result.Violations) == 0 {
		fmt.Printf("ok: %d policies, no violations\n", len(result.Evaluated))
		return
	}
	for _, v := range result.Violations {
		fmt.Printf("%s: %s: %s (%s)\n", v.Severity, v.Target, v.Message, v.Policy)
	}
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
