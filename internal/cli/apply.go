package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
)

func newApplyCmd() *cobra.Command {
	var (
		file          string
		variables     []string
		autoApprove   bool
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "apply <environment>...",
		Short: "Apply environment compositions",
		Long: `Plans each environment and reconciles the changes against the
provisioning backend. Unchanged resources are skipped; a failed node halts
scheduling of its dependents while independent nodes finish.

Multiple environments share no state and are applied concurrently.

Examples:
  envctl apply dev
  envctl apply dev stage prod --auto-approve
  envctl apply dev -f environments.hcl --var node_count=3`,
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

			// Plan everything up front so validation failures and the
			// confirmation prompt happen before any backend call.
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

			if !autoApprove {
				if !confirm(os.Stdin, os.Stdout, "Apply these changes?") {
					fmt.Println("Apply cancelled.")
					return nil
				}
			}

			// Environments are independent compositions; apply concurrently
			var wg sync.WaitGroup
			applyErrs := make([]error, len(args))

			for i, env := range args {
				wg.Add(1)
				go func(i int, env string) {
					defer wg.Done()

					store, err := buildStore(ctx, schema, env, variables)
					if err != nil {
						applyErrs[i] = err
						return
					}

					if _, _, err := eng.Apply(ctx, env, store); err != nil {
						applyErrs[i] = err
						return
					}
					fmt.Printf("Environment %q applied.\n", env)
				}(i, env)
			}

			wg.Wait()

			for _, err := range applyErrs {
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Environment definition file (defaults to built-in environments)")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Parameter overrides (key=value)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive approval")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}
