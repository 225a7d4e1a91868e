// Package environment parses environment definition files: HCL documents
// declaring per-environment parameter sets consumed by the parameter store.
package environment

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/opsforge/envctl/pkg/params"
)

// Definition is one environment's declared parameters.
type Definition struct {
	Name   string
	Params map[string]cty.Value
}

// Schema is a parsed environment definition document.
type Schema struct {
	Environments []*Definition

	byName map[string]*Definition
}

// NewSchema creates a schema from definitions.
func NewSchema(defs ...*Definition) *Schema {
	s := &Schema{byName: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		s.Environments = append(s.Environments, def)
		s.byName[def.Name] = def
	}
	return s
}

// Get returns the named environment definition.
func (s *Schema) Get(name string) (*Definition, bool) {
	def, ok := s.byName[name]
	return def, ok
}

// Names returns the defined environment names, sorted.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Environments))
	for _, def := range s.Environments {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return names
}

// Store builds a parameter store from the schema. The store is not yet
// frozen so callers can layer overrides before composition construction.
func (s *Schema) Store() *params.Store {
	store := params.New()
	for _, def := range s.Environments {
		for name, value := range def.Params {
			// Set only fails on a frozen store; this one is freshly created.
			_ = store.Set(def.Name, name, value)
		}
	}
	return store
}

// Validate checks that parameter values stay within the supported
// taxonomy: string, number, or list of string.
func (s *Schema) Validate() error {
	for _, def := range s.Environments {
		for name, value := range def.Params {
			if err := validateValue(value); err != nil {
				return fmt.Errorf("environment %q parameter %q: %w", def.Name, name, err)
			}
		}
	}
	return nil
}

func validateValue(value cty.Value) error {
	ty := value.Type()
	switch {
	case ty == cty.String, ty == cty.Number:
		return nil
	case ty.IsListType() || ty.IsTupleType():
		if value.IsNull() {
			return nil
		}
		for it := value.ElementIterator(); it.Next(); {
			_, element := it.Element()
			if element.Type() != cty.String {
				return fmt.Errorf("list elements must be strings, got %s", element.Type().FriendlyName())
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %s (want string, number, or list of string)", ty.FriendlyName())
	}
}

// Builtin returns the built-in dev/stage/prod environment definitions used
// when no definition file is supplied. Each environment gets its own
// non-overlapping /16 and a node count that grows toward production.
func Builtin() *Schema {
	return NewSchema(
		&Definition{
			Name: "dev",
			Params: map[string]cty.Value{
				"region":     cty.StringVal("us-east-1"),
				"cidr_block": cty.StringVal("10.0.0.0/16"),
				"public_subnet_cidrs": cty.ListVal([]cty.Value{
					cty.StringVal("10.0.1.0/24"),
					cty.StringVal("10.0.2.0/24"),
				}),
				"availability_zones": cty.ListVal([]cty.Value{
					cty.StringVal("us-east-1a"),
					cty.StringVal("us-east-1b"),
				}),
				"node_count": cty.NumberIntVal(2),
			},
		},
		&Definition{
			Name: "stage",
			Params: map[string]cty.Value{
				"region":     cty.StringVal("us-east-1"),
				"cidr_block": cty.StringVal("10.1.0.0/16"),
				"public_subnet_cidrs": cty.ListVal([]cty.Value{
					cty.StringVal("10.1.1.0/24"),
					cty.StringVal("10.1.2.0/24"),
				}),
				"availability_zones": cty.ListVal([]cty.Value{
					cty.StringVal("us-east-1a"),
					cty.StringVal("us-east-1b"),
				}),
				"node_count": cty.NumberIntVal(3),
			},
		},
		&Definition{
			Name: "prod",
			Params: map[string]cty.Value{
				"region":     cty.StringVal("us-east-1"),
				"cidr_block": cty.StringVal("10.2.0.0/16"),
				"public_subnet_cidrs": cty.ListVal([]cty.Value{
					cty.StringVal("10.2.1.0/24"),
					cty.StringVal("10.2.2.0/24"),
				}),
				"availability_zones": cty.ListVal([]cty.Value{
					cty.StringVal("us-east-1a"),
					cty.StringVal("us-east-1b"),
				}),
				"node_count": cty.NumberIntVal(4),
			},
		},
	)
}
