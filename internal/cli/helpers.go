package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/zclconf/go-cty/cty"

	"github.com/opsforge/envctl/internal/logging"
	"github.com/opsforge/envctl/pkg/engine"
	"github.com/opsforge/envctl/pkg/engine/executor"
	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/params"
	"github.com/opsforge/envctl/pkg/provider"
	"github.com/opsforge/envctl/pkg/schema/environment"
	"github.com/opsforge/envctl/pkg/secrets"
	"github.com/opsforge/envctl/pkg/state"
	"github.com/opsforge/envctl/pkg/state/backend"
)

// createStateManager builds a state manager from the --backend and
// --backend-config flags, falling back to viper-bound config.
func createStateManager(backendType string, backendConfig []string) (state.Manager, error) {
	if backendType == "" {
		backendType = viper.GetString("backend")
	}
	if backendType == "" {
		backendType = "local"
	}

	cfg := make(map[string]string)
	for _, entry := range backendConfig {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid backend config %q (want key=value)", entry)
		}
		cfg[key] = value
	}

	mgr, err := state.NewManagerFromConfig(backend.Config{
		Type:   backendType,
		Config: cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}
	return mgr, nil
}

// createEngine wires the state manager, provisioning provider, and logger.
func createEngine(mgr state.Manager) (*engine.Engine, error) {
	providerName := viper.GetString("provider")
	if providerName == "" {
		providerName = "sim"
	}

	p, err := provider.Get(providerName)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(os.Stderr, logging.ParseLevel(viper.GetString("log-level")))

	return engine.New(mgr, p, logger, executor.DefaultOptions()), nil
}

// loadSchema parses an environment definition file, or returns the
// built-in dev/stage/prod definitions when no file is given.
func loadSchema(file string) (*environment.Schema, error) {
	if file == "" {
		return environment.Builtin(), nil
	}

	schema, _, err := environment.NewParser().Parse(file)
	if err != nil {
		return nil, errors.ParseError(file, err)
	}
	return schema, nil
}

// buildStore creates a fresh parameter store for one invocation, layering
// --var overrides on top of the schema's values and resolving secret
// references through the provider chain. Each call returns an independent
// store; the engine freezes it during composition construction.
func buildStore(ctx context.Context, schema *environment.Schema, env string, variables []string) (*params.Store, error) {
	if _, ok := schema.Get(env); !ok {
		return nil, errors.NotFoundError("environment", env)
	}

	store := schema.Store()
	for _, entry := range variables {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid variable %q (want key=value)", entry)
		}
		if err := store.Set(env, key, parseVarValue(value)); err != nil {
			return nil, err
		}
	}

	if err := store.ResolveSecrets(ctx, secrets.DefaultManager()); err != nil {
		return nil, err
	}

	return store, nil
}

// parseVarValue interprets a --var value: numbers become numbers,
// comma-separated values become string lists, everything else stays a
// string.
func parseVarValue(value string) cty.Value {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return cty.NumberIntVal(n)
	}
	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		vals := make([]cty.Value, len(parts))
		for i, p := range parts {
			vals[i] = cty.StringVal(strings.TrimSpace(p))
		}
		return cty.ListVal(vals)
	}
	return cty.StringVal(value)
}

// confirm prompts for a y/N answer on the given reader.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(in)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// printWarnings writes composition warnings to stderr.
func printWarnings(warnings []errors.Warning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
}
