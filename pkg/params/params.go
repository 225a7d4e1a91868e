// Package params provides the per-environment parameter store.
package params

import (
	"context"
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/secrets"
)

// Store holds per-environment parameter values plus global defaults.
// Lookups consult the environment's explicit values first, then defaults.
// Once frozen, the store rejects writes; composition construction freezes
// it so no component can mutate parameters mid-resolution.
type Store struct {
	defaults map[string]cty.Value
	values   map[string]map[string]cty.Value
	frozen   bool
}

// New creates an empty parameter store.
func New() *Store {
	return &Store{
		defaults: make(map[string]cty.Value),
		values:   make(map[string]map[string]cty.Value),
	}
}

// Set records a value for one environment.
func (s *Store) Set(environment, name string, value cty.Value) error {
	if s.frozen {
		return errors.New(errors.ErrCodeState, "parameter store is frozen")
	}
	env, ok := s.values[environment]
	if !ok {
		env = make(map[string]cty.Value)
		s.values[environment] = env
	}
	env[name] = value
	return nil
}

// SetDefault records a fallback value shared by all environments.
func (s *Store) SetDefault(name string, value cty.Value) error {
	if s.frozen {
		return errors.New(errors.ErrCodeState, "parameter store is frozen")
	}
	s.defaults[name] = value
	return nil
}

// Freeze makes the store read-only.
func (s *Store) Freeze() {
	s.frozen = true
}

// Get returns the value of a parameter for an environment. A parameter
// with neither an explicit value nor a default fails with
// UndefinedParameter.
func (s *Store) Get(environment, name string) (cty.Value, error) {
	if env, ok := s.values[environment]; ok {
		if value, ok := env[name]; ok {
			return value, nil
		}
	}
	if value, ok := s.defaults[name]; ok {
		return value, nil
	}
	return cty.NilVal, errors.UndefinedParameter(environment, name)
}

// Lookup is like Get without the error, for optional parameters.
func (s *Store) Lookup(environment, name string) (cty.Value, bool) {
	if env, ok := s.values[environment]; ok {
		if value, ok := env[name]; ok {
			return value, true
		}
	}
	value, ok := s.defaults[name]
	return value, ok
}

// Environments returns the environment names with explicit values, sorted.
func (s *Store) Environments() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names returns every parameter name visible to an environment, sorted.
func (s *Store) Names(environment string) []string {
	seen := make(map[string]bool)
	for name := range s.defaults {
		seen[name] = true
	}
	for name := range s.values[environment] {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveSecrets rewrites string parameter values containing secret
// references through the given manager. Must run before Freeze.
func (s *Store) ResolveSecrets(ctx context.Context, mgr *secrets.Manager) error {
	if s.frozen {
		return errors.New(errors.ErrCodeState, "parameter store is frozen")
	}

	resolve := func(scope string, m map[string]cty.Value) error {
		for name, value := range m {
			if value.Type() != cty.String || value.IsNull() {
				continue
			}
			resolved, err := mgr.ResolveSecrets(ctx, map[string]interface{}{name: value.AsString()})
			if err != nil {
				return fmt.Errorf("resolving %s parameter %q: %w", scope, name, err)
			}
			m[name] = cty.StringVal(resolved[name].(string))
		}
		return nil
	}

	if err := resolve("default", s.defaults); err != nil {
		return err
	}
	for env, m := range s.values {
		if err := resolve(env, m); err != nil {
			return err
		}
	}
	return nil
}
