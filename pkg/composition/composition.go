// Package composition binds module instances together for one named
// environment and wires their outputs to other instances' inputs.
//
// Compositions are independent units: a binding may only name an instance
// within the same composition, so environments never share state.
package composition

import (
	"fmt"

	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/module"
)

// InstanceSpec declares one module instance and its input wiring.
type InstanceSpec struct {
	Name   string
	Kind   module.Kind
	Inputs map[string]module.Value
}

// Export re-exports a module instance output at the composition level.
type Export struct {
	Instance string
	Output   string
}

// Composition is a named, independent bundle of module instances plus
// their wiring.
type Composition struct {
	Name      string
	Instances []*module.Instance
	Exports   map[string]Export
	Warnings  []errors.Warning

	byName map[string]*module.Instance
}

// Compose instantiates and wires the declared module instances.
//
// Declared inputs left without a literal, binding, or default fail with
// DanglingInput. Bindings naming a nonexistent instance or output fail
// with UnresolvedBinding. Binding cycles are not detected here; they
// surface as CyclicDependency when the resource graph is resolved.
func Compose(name string, specs []InstanceSpec, exports map[string]Export) (*Composition, error) {
	comp := &Composition{
		Name:    name,
		Exports: exports,
		byName:  make(map[string]*module.Instance, len(specs)),
	}

	for _, spec := range specs {
		if _, exists := comp.byName[spec.Name]; exists {
			return nil, errors.Newf(errors.ErrCodeState,
				"composition %q declares module instance %q twice", name, spec.Name)
		}

		def, err := module.Get(spec.Kind)
		if err != nil {
			return nil, err
		}

		// Check input coverage up front so an unbound input surfaces as
		// DanglingInput rather than the instantiation-level MissingInput.
		for _, p := range def.Inputs {
			if _, ok := spec.Inputs[p.Name]; !ok && p.Default == nil {
				return nil, errors.DanglingInput(spec.Name, p.Name)
			}
		}

		instance, err := module.Instantiate(def, spec.Name, spec.Inputs)
		if err != nil {
			return nil, err
		}

		comp.Instances = append(comp.Instances, instance)
		comp.byName[spec.Name] = instance
		comp.Warnings = append(comp.Warnings, instance.Warnings...)
	}

	if err := comp.wire(); err != nil {
		return nil, err
	}

	for exportName, export := range exports {
		if _, err := comp.resolveExport(export); err != nil {
			return nil, errors.UnresolvedBinding(
				fmt.Sprintf("export %q", exportName), exportName, export.Instance, export.Output)
		}
	}

	return comp, nil
}

// Instance returns the named module instance.
func (c *Composition) Instance(name string) (*module.Instance, bool) {
	inst, ok := c.byName[name]
	return inst, ok
}

// ExportValue resolves an exported output to its underlying value, which
// is typically a Reference (or list of References) into the resource set.
func (c *Composition) ExportValue(name string) (interface{}, error) {
	export, ok := c.Exports[name]
	if !ok {
		return nil, errors.NotFoundError("export", name)
	}
	return c.resolveExport(export)
}

func (c *Composition) resolveExport(export Export) (interface{}, error) {
	instance, ok := c.byName[export.Instance]
	if !ok {
		return nil, errors.NotFoundError("module instance", export.Instance)
	}
	value, ok := instance.Output(export.Output)
	if !ok {
		return nil, errors.NotFoundError("output", export.Instance+"."+export.Output)
	}
	return value, nil
}

// wire replaces pending output bindings inside resource attributes with
// the producing instance's output values.
func (c *Composition) wire() error {
	for _, instance := range c.Instances {
		for _, resource := range instance.Resources {
			consumer := instance.Name
			err := module.ReplacePending(resource.Attributes, func(p *module.Pending) (interface{}, bool, error) {
				producer, ok := c.byName[p.Instance]
				if !ok {
					return nil, false, errors.UnresolvedBinding(consumer, "", p.Instance, p.Output)
				}
				value, ok := producer.Output(p.Output)
				if !ok {
					return nil, false, errors.UnresolvedBinding(consumer, "", p.Instance, p.Output)
				}
				return value, true, nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
