package module

import (
	"fmt"
	"sort"
)

// CanonicalAttributes renders attributes into a stable, JSON-safe form:
// References become their ${node.attr} string, lists are walked
// recursively, literals pass through. Plans and persisted state diff this
// form, so a plan re-run over unchanged declarations is always a noop.
func CanonicalAttributes(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = canonicalValue(v)
	}
	return out
}

func canonicalValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Reference:
		return val.String()
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = canonicalValue(item)
		}
		return items
	default:
		return v
	}
}

// CollectReferences returns every Reference reachable from the given
// attributes, in deterministic order.
func CollectReferences(attrs map[string]interface{}) []Reference {
	var refs []Reference

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		refs = append(refs, collectValueRefs(attrs[k])...)
	}
	return refs
}

func collectValueRefs(v interface{}) []Reference {
	switch val := v.(type) {
	case Reference:
		return []Reference{val}
	case []interface{}:
		var refs []Reference
		for _, item := range val {
			refs = append(refs, collectValueRefs(item)...)
		}
		return refs
	default:
		return nil
	}
}

// ResolveAttributes replaces every Reference with the concrete value
// reported by its producing node. The lookup receives a node ID and
// attribute name and returns the produced value.
func ResolveAttributes(attrs map[string]interface{}, lookup func(node, attribute string) (interface{}, bool)) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		resolved, err := resolveValue(v, lookup)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v interface{}, lookup func(node, attribute string) (interface{}, bool)) (interface{}, error) {
	switch val := v.(type) {
	case Reference:
		resolved, ok := lookup(val.Node, val.Attribute)
		if !ok {
			return nil, fmt.Errorf("reference %s is not resolvable", val)
		}
		return resolved, nil
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, lookup)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return items, nil
	case *Pending:
		return nil, fmt.Errorf("unresolved binding to %s.%s", val.Instance, val.Output)
	default:
		return v, nil
	}
}

// ReplacePending substitutes *Pending markers with producer output values.
// The lookup returns the producing instance's output value; a false return
// means the binding target does not exist.
func ReplacePending(attrs map[string]interface{}, lookup func(p *Pending) (interface{}, bool, error)) error {
	for k, v := range attrs {
		replaced, err := replacePendingValue(v, lookup)
		if err != nil {
			return err
		}
		attrs[k] = replaced
	}
	return nil
}

func replacePendingValue(v interface{}, lookup func(p *Pending) (interface{}, bool, error)) (interface{}, error) {
	switch val := v.(type) {
	case *Pending:
		resolved, ok, err := lookup(val)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("binding to %s.%s is unresolved", val.Instance, val.Output)
		}
		return resolved, nil
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			replaced, err := replacePendingValue(item, lookup)
			if err != nil {
				return nil, err
			}
			items[i] = replaced
		}
		return items, nil
	default:
		return v, nil
	}
}
