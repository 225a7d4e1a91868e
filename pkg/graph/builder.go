package graph

import (
	"github.com/opsforge/envctl/pkg/composition"
	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/module"
)

// Build constructs the resource dependency graph for a composition.
//
// One node is created per declared resource, in declaration order. Edges
// come from attribute references (including wired cross-module bindings,
// which at this point are references to the producing instance's backing
// resources) and from explicit depends_on hints.
func Build(comp *composition.Composition) (*Graph, error) {
	g := NewGraph(comp.Name)

	seq := 0
	for _, instance := range comp.Instances {
		for _, spec := range instance.Resources {
			if err := g.AddNode(NewNode(spec, seq)); err != nil {
				return nil, errors.Wrap(errors.ErrCodeState, "failed to build graph", err)
			}
			seq++
		}
	}

	for _, node := range g.Nodes {
		for _, ref := range module.CollectReferences(node.Spec.Attributes) {
			if err := g.AddEdge(node.ID, ref.Node); err != nil {
				return nil, errors.Wrap(errors.ErrCodeUnresolvedBinding,
					"attribute reference targets unknown resource", err).
					WithDetail("node", node.ID).
					WithDetail("reference", ref.String())
			}
		}

		for _, depID := range node.Spec.DependsOn {
			if err := g.AddEdge(node.ID, depID); err != nil {
				return nil, errors.Wrap(errors.ErrCodeUnresolvedBinding,
					"depends_on targets unknown resource", err).
					WithDetail("node", node.ID).
					WithDetail("depends_on", depID)
			}
		}
	}

	// Surface cycles at build time so planning never starts on an
	// unorderable graph.
	if _, err := g.TopologicalSort(); err != nil {
		return nil, err
	}

	return g, nil
}
