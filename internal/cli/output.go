package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newOutputCmd() *cobra.Command {
	var (
		format        string
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "output <environment> [name]",
		Short: "Read exported outputs of an applied environment",
		Long: `Prints the composition-level outputs recorded by the last successful
apply, either all of them or a single named one.

Examples:
  envctl output dev
  envctl output dev ecr_repository_url
  envctl output prod -o yaml`,
		Args: cobra.RangeArgs(1, 2),
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

			if len(args) == 2 {
				value, err := eng.Output(ctx, env, args[1])
				if err != nil {
					return err
				}
				return printValue(value, format)
			}

			outputs, err := eng.Outputs(ctx, env)
			if err != nil {
				return err
			}
			return printOutputs(outputs, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format (text, json, yaml)")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}

func printValue(value interface{}, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(value)
	default:
		fmt.Println(formatScalar(value))
		return nil
	}
}

func printOutputs(outputs map[string]interface{}, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(outputs)
	default:
		names := make([]string, 0, len(outputs))
		for name := range outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s = %s\n", name, formatScalar(outputs[name]))
		}
		return nil
	}
}

func formatScalar(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []interface{}:
		data, _ := json.Marshal(v)
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
