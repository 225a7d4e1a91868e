// Package module defines reusable declarative infrastructure modules.
//
// A Definition is a template: declared typed inputs plus a recipe for the
// concrete resources and outputs a module produces. Instantiate binds a
// definition to input values within one composition and yields an Instance
// owning its ResourceSpecs. Cross-module data flow is expressed with typed
// references, never string interpolation, so the graph resolver can order
// and cycle-check every edge.
package module

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/opsforge/envctl/pkg/errors"
)

// Kind identifies a module definition.
type Kind string

const (
	KindNetwork  Kind = "network"
	KindCluster  Kind = "cluster"
	KindRegistry Kind = "registry"
)

// ResourceType identifies the type of a declared resource.
type ResourceType string

const (
	TypeNetwork               ResourceType = "network"
	TypeSubnet                ResourceType = "subnet"
	TypeGateway               ResourceType = "gateway"
	TypeRouteTable            ResourceType = "route-table"
	TypeRouteTableAssociation ResourceType = "route-table-association"
	TypeIAMRole               ResourceType = "iam-role"
	TypeIAMPolicyAttachment   ResourceType = "iam-policy-attachment"
	TypeSecurityGroup         ResourceType = "security-group"
	TypeManagedCluster        ResourceType = "managed-cluster"
	TypeNodePool              ResourceType = "node-pool"
	TypeImageRepository       ResourceType = "image-repository"
)

// Parameter declares a typed module input.
type Parameter struct {
	Name    string
	Type    cty.Type
	Default *cty.Value
}

// Reference points at an attribute of a resource node. It is the only way
// one resource may consume another resource's data.
type Reference struct {
	Node      string
	Attribute string
}

func (r Reference) String() string {
	return fmt.Sprintf("${%s.%s}", r.Node, r.Attribute)
}

// Pending marks an attribute value produced by another module instance's
// output. It is substituted with the producer's output during composition
// wiring; an instance handed directly to the graph must contain none.
type Pending struct {
	Instance string
	Output   string
}

// ResourceSpec is a concrete resource declaration produced by instantiation.
// Attribute values may be literals, References, or lists containing either.
type ResourceSpec struct {
	Type       ResourceType
	Name       string
	Module     string
	Attributes map[string]interface{}
	DependsOn  []string
}

// ID returns the node identifier for this resource: module/type/name.
func (s *ResourceSpec) ID() string {
	return fmt.Sprintf("%s/%s/%s", s.Module, s.Type, s.Name)
}

// Ref returns a typed reference to one of this resource's attributes.
func (s *ResourceSpec) Ref(attribute string) Reference {
	return Reference{Node: s.ID(), Attribute: attribute}
}

// Instance is a Definition bound to concrete input values. It is owned
// exclusively by its composition.
type Instance struct {
	Name      string
	Kind      Kind
	Resources []*ResourceSpec
	Outputs   map[string]interface{}
	Warnings  []errors.Warning
}

// Output returns the named output value.
func (i *Instance) Output(name string) (interface{}, bool) {
	v, ok := i.Outputs[name]
	return v, ok
}

// Definition is a module template. It owns no live state.
type Definition struct {
	Kind    Kind
	Inputs  []Parameter
	compose func(b *builder, in Inputs) error
}

// definitions holds the built-in module kinds.
var definitions = map[Kind]*Definition{}

func register(def *Definition) {
	definitions[def.Kind] = def
}

// Get returns the definition for a module kind.
func Get(kind Kind) (*Definition, error) {
	def, ok := definitions[kind]
	if !ok {
		return nil, errors.NotFoundError("module definition", string(kind))
	}
	return def, nil
}

// Kinds returns all registered module kinds.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(definitions))
	for k := range definitions {
		kinds = append(kinds, k)
	}
	return kinds
}

// Value is a module input: either a literal or a binding to another
// instance's output.
type Value struct {
	literal cty.Value
	binding *Pending
}

// Lit wraps a literal cty value.
func Lit(v cty.Value) Value {
	return Value{literal: v}
}

// String wraps a literal string input.
func String(s string) Value {
	return Lit(cty.StringVal(s))
}

// Number wraps a literal numeric input.
func Number(n int) Value {
	return Lit(cty.NumberIntVal(int64(n)))
}

// StringList wraps a literal list-of-string input.
func StringList(items []string) Value {
	if len(items) == 0 {
		return Lit(cty.ListValEmpty(cty.String))
	}
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(s)
	}
	return Lit(cty.ListVal(vals))
}

// FromOutput binds the input to another module instance's output.
func FromOutput(instance, output string) Value {
	return Value{binding: &Pending{Instance: instance, Output: output}}
}

// IsBinding reports whether the value is an output binding.
func (v Value) IsBinding() bool {
	return v.binding != nil
}

// Binding returns the output binding, or nil for literals.
func (v Value) Binding() *Pending {
	return v.binding
}

// Instantiate binds a definition to concrete input values.
//
// Every declared input must be supplied or carry a default; literal types
// must match the declared types. Bindings are type-checked structurally at
// wiring time instead, since the producing output is not yet resolved.
func Instantiate(def *Definition, instanceName string, inputs map[string]Value) (*Instance, error) {
	resolved := make(map[string]interface{}, len(def.Inputs))

	for _, p := range def.Inputs {
		v, ok := inputs[p.Name]
		if !ok {
			if p.Default == nil {
				return nil, errors.MissingInput(instanceName, p.Name)
			}
			v = Lit(*p.Default)
		}

		if v.binding != nil {
			resolved[p.Name] = v.binding
			continue
		}

		converted, err := convert.Convert(v.literal, p.Type)
		if err != nil {
			return nil, errors.TypeMismatch(instanceName, p.Name, p.Type.FriendlyName(), err)
		}
		resolved[p.Name] = ctyToGo(converted)
	}

	for name := range inputs {
		if !declaresInput(def, name) {
			return nil, errors.Newf(errors.ErrCodeMissingInput,
				"module %q does not declare input %q", instanceName, name)
		}
	}

	b := &builder{
		instance: instanceName,
		outputs:  make(map[string]interface{}),
	}

	if err := def.compose(b, Inputs{module: instanceName, values: resolved}); err != nil {
		return nil, err
	}

	return &Instance{
		Name:      instanceName,
		Kind:      def.Kind,
		Resources: b.specs,
		Outputs:   b.outputs,
		Warnings:  b.warnings,
	}, nil
}

func declaresInput(def *Definition, name string) bool {
	for _, p := range def.Inputs {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Inputs provides typed access to resolved input values inside compose
// recipes.
type Inputs struct {
	module string
	values map[string]interface{}
}

// Value returns the raw resolved value: a Go literal or a *Pending binding.
func (in Inputs) Value(name string) interface{} {
	return in.values[name]
}

// String returns a literal string input. Structural inputs cannot be bound
// to outputs.
func (in Inputs) String(name string) (string, error) {
	v := in.values[name]
	s, ok := v.(string)
	if !ok {
		return "", errors.TypeMismatch(in.module, name, "string",
			fmt.Errorf("got %T", v))
	}
	return s, nil
}

// Int returns a literal numeric input.
func (in Inputs) Int(name string) (int, error) {
	v := in.values[name]
	n, ok := v.(int)
	if !ok {
		return 0, errors.TypeMismatch(in.module, name, "number",
			fmt.Errorf("got %T", v))
	}
	return n, nil
}

// StringList returns a literal list-of-string input.
func (in Inputs) StringList(name string) ([]string, error) {
	v := in.values[name]
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.TypeMismatch(in.module, name, "list of string",
			fmt.Errorf("got %T", v))
	}
	items := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errors.TypeMismatch(in.module, name, "list of string",
				fmt.Errorf("element %d is %T", i, item))
		}
		items[i] = s
	}
	return items, nil
}

// builder accumulates resources and outputs in declaration order.
type builder struct {
	instance string
	specs    []*ResourceSpec
	outputs  map[string]interface{}
	warnings []errors.Warning
}

func (b *builder) resource(t ResourceType, name string, attrs map[string]interface{}, deps ...*ResourceSpec) *ResourceSpec {
	spec := &ResourceSpec{
		Type:       t,
		Name:       name,
		Module:     b.instance,
		Attributes: attrs,
	}
	for _, dep := range deps {
		spec.DependsOn = append(spec.DependsOn, dep.ID())
	}
	b.specs = append(b.specs, spec)
	return spec
}

func (b *builder) output(name string, value interface{}) {
	b.outputs[name] = value
}

func (b *builder) warn(w errors.Warning) {
	b.warnings = append(b.warnings, w)
}

// ctyToGo converts a cty literal to its Go representation: string, int,
// or []interface{}.
func ctyToGo(v cty.Value) interface{} {
	switch {
	case v.Type() == cty.String:
		return v.AsString()
	case v.Type() == cty.Number:
		n, _ := v.AsBigFloat().Int64()
		return int(n)
	case v.Type().IsListType() || v.Type().IsTupleType():
		var items []interface{}
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			items = append(items, ctyToGo(ev))
		}
		if items == nil {
			items = []interface{}{}
		}
		return items
	case v.Type() == cty.Bool:
		return v.True()
	default:
		return v.GoString()
	}
}
