package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newDestroyCmd() *cobra.Command {
	var (
		autoApprove   bool
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "destroy <environment>",
		Short: "Destroy an applied environment",
		Long: `Destroys every applied resource of the environment, dependents before
dependencies, and removes its state once nothing remains.

Examples:
  envctl destroy dev
  envctl destroy stage --auto-approve`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			env := args[0]
			ctx := context.Background()

			mgr, err := createStateManager(backendType, backendConfig)
			if err != nil {
				return err
			}

			eng, err := createEngine(mgr)
			if err != nil {
				return err
			}

			current, err := eng.State(ctx, env)
			if err != nil {
				return err
			}

			fmt.Printf("Environment: %s\n", env)
			fmt.Printf("Status:      %s\n\n", current.Status)
			fmt.Println("The following resources will be destroyed:")

			ids := make([]string, 0, len(current.Resources))
			for id := range current.Resources {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("  - %s\n", id)
			}
			fmt.Println()

			if !autoApprove {
				if !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Destroy environment %q?", env)) {
					fmt.Println("Destroy cancelled.")
					return nil
				}
			}

			result, err := eng.Destroy(ctx, env)
			if err != nil {
				return err
			}

			fmt.Printf("Environment %q destroyed (%d resources removed).\n", env, result.Destroyed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive approval")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}
