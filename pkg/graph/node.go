// Package graph provides dependency graph construction and traversal for envctl.
package graph

import (
	"github.com/opsforge/envctl/pkg/module"
)

// Node represents a resource in the dependency graph.
type Node struct {
	// Unique identifier within the graph: module/type/name
	ID string

	// Type of resource
	Type module.ResourceType

	// Module instance this node belongs to
	Module string

	// Name of the resource within the module instance
	Name string

	// Seq is the declaration order index across the composition. Ties in
	// the topological sort are broken by Seq to keep plans reproducible.
	Seq int

	// Spec is the declared resource, attributes still in reference form
	Spec *module.ResourceSpec

	// Inputs is the canonical (reference-rendered) attribute form used
	// for diffing against applied state
	Inputs map[string]interface{}

	// Outputs produced by this node (populated after execution, or from
	// applied state for unchanged nodes)
	Outputs map[string]interface{}

	// Dependencies - IDs of nodes this node depends on
	DependsOn []string

	// Dependents - IDs of nodes that depend on this node
	DependedOnBy []string

	// State tracking
	State NodeState
}

// NodeState tracks the execution state of a node.
type NodeState string

const (
	NodeStatePending   NodeState = "pending"
	NodeStateRunning   NodeState = "running"
	NodeStateCompleted NodeState = "completed"
	NodeStateFailed    NodeState = "failed"
	NodeStateSkipped   NodeState = "skipped"
)

// NewNode creates a graph node from a declared resource.
func NewNode(spec *module.ResourceSpec, seq int) *Node {
	return &Node{
		ID:           spec.ID(),
		Type:         spec.Type,
		Module:       spec.Module,
		Name:         spec.Name,
		Seq:          seq,
		Spec:         spec,
		Inputs:       module.CanonicalAttributes(spec.Attributes),
		Outputs:      make(map[string]interface{}),
		DependsOn:    []string{},
		DependedOnBy: []string{},
		State:        NodeStatePending,
	}
}

// AddDependency adds a dependency to this node.
func (n *Node) AddDependency(nodeID string) {
	for _, dep := range n.DependsOn {
		if dep == nodeID {
			return
		}
	}
	n.DependsOn = append(n.DependsOn, nodeID)
}

// AddDependent adds a dependent to this node.
func (n *Node) AddDependent(nodeID string) {
	for _, dep := range n.DependedOnBy {
		if dep == nodeID {
			return
		}
	}
	n.DependedOnBy = append(n.DependedOnBy, nodeID)
}

// SetOutput sets an output value.
func (n *Node) SetOutput(key string, value interface{}) {
	n.Outputs[key] = value
}

// IsReady returns true if all dependencies are completed.
func (n *Node) IsReady(graph *Graph) bool {
	if n.State != NodeStatePending {
		return false
	}

	for _, depID := range n.DependsOn {
		dep := graph.GetNode(depID)
		if dep == nil || dep.State != NodeStateCompleted {
			return false
		}
	}

	return true
}
