package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsforge/envctl/pkg/engine"
	"github.com/opsforge/envctl/pkg/engine/planner"
)

func newPlanCmd() *cobra.Command {
	var (
		file          string
		variables     []string
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "plan <environment>...",
		Short: "Show the changes an apply would make",
		Long: `Builds each environment's composition, resolves its resource graph, and
diffs it against applied state without touching the provisioning backend.

All validation failures (undefined parameters, unresolved bindings,
dependency cycles, ...) surface here; apply never starts on an invalid
composition.

Examples:
  envctl plan dev
  envctl plan dev stage prod
  envctl plan dev -f environments.hcl --var node_count=5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := context.Background()

			schema, err := loadSchema(file)
			if err != nil {
				return err
			}

			mgr, err := createStateManager(backendType, backendConfig)
			if err != nil {
				return err
			}

			eng, err := createEngine(mgr)
			if err != nil {
				return err
			}

			for _, env := range args {
				store, err := buildStore(ctx, schema, env, variables)
				if err != nil {
					return err
				}

				result, err := eng.Plan(ctx, env, store)
				if err != nil {
					return err
				}

				printWarnings(result.Warnings)
				printPlan(env, result)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Environment definition file (defaults to built-in environments)")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Parameter overrides (key=value)")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}

func printPlan(env string, result *engine.PlanResult) {
	plan := result.Plan

	fmt.Printf("Plan for environment %q:\n", env)

	if plan.IsEmpty() {
		fmt.Println("  No changes. Applied state matches the composition.")
		fmt.Println()
		return
	}

	for _, change := range plan.Changes {
		switch change.Action {
		case planner.ActionCreate:
			fmt.Printf("  + %s\n", change.NodeID)
		case planner.ActionUpdate:
			fmt.Printf("  ~ %s\n", change.NodeID)
			fmt.Fprint(os.Stdout, indent(planner.FormatChanges(change.AttributeChanges)))
		}
	}
	for _, change := range plan.Destroys {
		fmt.Printf("  - %s\n", change.NodeID)
	}

	fmt.Printf("\n  %d to create, %d to update, %d to destroy, %d unchanged.\n\n",
		plan.ToCreate, plan.ToUpdate, plan.ToDestroy, plan.NoChange)
}

func indent(s string) string {
	if s == "" {
		return s
	}
	return "    " + s
}
