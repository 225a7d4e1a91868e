package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsforge/envctl/pkg/graph"
	"github.com/opsforge/envctl/pkg/graph/visual"
)

func newGraphCmd() *cobra.Command {
	var (
		file      string
		variables []string
		direction string
		flat      bool
	)

	cmd := &cobra.Command{
		Use:   "graph <environment>",
		Short: "Render the environment's resource graph as Mermaid",
		Long: `Builds the environment's composition and prints its resolved resource
dependency graph as a Mermaid flowchart, grouped by module instance.

Examples:
  envctl graph dev
  envctl graph prod --direction LR`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			env := args[0]

			schema, err := loadSchema(file)
			if err != nil {
				return err
			}

			store, err := buildStore(cmd.Context(), schema, env, variables)
			if err != nil {
				return err
			}

			mgr, err := createStateManager("", nil)
			if err != nil {
				return err
			}

			eng, err := createEngine(mgr)
			if err != nil {
				return err
			}

			comp, err := eng.BuildComposition(env, store)
			if err != nil {
				return err
			}

			g, err := graph.Build(comp)
			if err != nil {
				return err
			}

			rendered, err := visual.RenderMermaid(g, visual.MermaidOptions{
				GroupByModule: !flat,
				Direction:     direction,
				Title:         fmt.Sprintf("environment: %s", env),
			})
			if err != nil {
				return err
			}

			fmt.Print(rendered)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Environment definition file (defaults to built-in environments)")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Parameter overrides (key=value)")
	cmd.Flags().StringVar(&direction, "direction", "TD", "Flowchart direction (TD, LR)")
	cmd.Flags().BoolVar(&flat, "flat", false, "Do not group nodes by module instance")

	return cmd
}
