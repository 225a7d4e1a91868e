package graph

import (
	"fmt"
	"sort"

	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/module"
)

// Graph represents the dependency graph of one composition's resources.
type Graph struct {
	// All nodes in the graph
	Nodes map[string]*Node

	// Composition name
	Composition string
}

// NewGraph creates a new empty graph.
func NewGraph(composition string) *Graph {
	return &Graph{
		Nodes:       make(map[string]*Node),
		Composition: composition,
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(node *Node) error {
	if _, exists := g.Nodes[node.ID]; exists {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	g.Nodes[node.ID] = node
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// AddEdge adds a dependency edge from dependent to dependency.
func (g *Graph) AddEdge(dependentID, dependencyID string) error {
	dependent := g.GetNode(dependentID)
	if dependent == nil {
		return fmt.Errorf("dependent node %s not found", dependentID)
	}

	dependency := g.GetNode(dependencyID)
	if dependency == nil {
		return fmt.Errorf("dependency node %s not found", dependencyID)
	}

	dependent.AddDependency(dependencyID)
	dependency.AddDependent(dependentID)

	return nil
}

// TopologicalSort returns nodes in topological order (dependencies first).
// Nodes with no ordering edge between them are emitted in declaration
// order so plans are reproducible across runs. A cycle fails with
// CyclicDependency, reporting the cycle's node sequence.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	// Kahn's algorithm
	inDegree := make(map[string]int)
	for id := range g.Nodes {
		inDegree[id] = len(g.Nodes[id].DependsOn)
	}

	var queue []*Node
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, g.Nodes[id])
		}
	}
	sortBySeq(queue)

	var result []*Node
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		result = append(result, node)

		for _, dependentID := range node.DependedOnBy {
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				queue = append(queue, g.Nodes[dependentID])
				sortBySeq(queue)
			}
		}
	}

	if len(result) != len(g.Nodes) {
		return nil, errors.CyclicDependency(g.findCycle(result))
	}

	return result, nil
}

// ReverseTopologicalSort returns nodes in reverse order (dependents first).
// This is the destruction order: dependents are destroyed before their
// dependencies.
func (g *Graph) ReverseTopologicalSort() ([]*Node, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}

	return sorted, nil
}

// findCycle walks the unprocessed remainder of a failed sort and returns
// the node sequence of one cycle.
func (g *Graph) findCycle(processed []*Node) []string {
	done := make(map[string]bool, len(processed))
	for _, n := range processed {
		done[n.ID] = true
	}

	var remaining []string
	for id := range g.Nodes {
		if !done[id] {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)

	// DFS from any remaining node; every remaining strongly connected
	// region contains a cycle reachable this way.
	state := make(map[string]int) // 0 unvisited, 1 on stack, 2 finished
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = 1
		stack = append(stack, id)

		for _, depID := range g.Nodes[id].DependsOn {
			if done[depID] {
				continue
			}
			switch state[depID] {
			case 0:
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			case 1:
				// Back edge: extract the cycle from the stack
				for i, sid := range stack {
					if sid == depID {
						cycle := make([]string, len(stack)-i)
						copy(cycle, stack[i:])
						return cycle
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = 2
		return nil
	}

	for _, id := range remaining {
		if state[id] == 0 {
			stack = stack[:0]
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}

	return remaining
}

// GetReadyNodes returns all nodes that are ready to execute.
func (g *Graph) GetReadyNodes() []*Node {
	var ready []*Node
	for _, node := range g.Nodes {
		if node.IsReady(g) {
			ready = append(ready, node)
		}
	}
	sortBySeq(ready)
	return ready
}

// GetNodesByModule returns all nodes belonging to a module instance.
func (g *Graph) GetNodesByModule(instance string) []*Node {
	var nodes []*Node
	for _, node := range g.Nodes {
		if node.Module == instance {
			nodes = append(nodes, node)
		}
	}
	sortBySeq(nodes)
	return nodes
}

// GetNodesByType returns all nodes of a specific resource type.
func (g *Graph) GetNodesByType(resourceType module.ResourceType) []*Node {
	var nodes []*Node
	for _, node := range g.Nodes {
		if node.Type == resourceType {
			nodes = append(nodes, node)
		}
	}
	sortBySeq(nodes)
	return nodes
}

// AllCompleted returns true if all nodes are completed or skipped.
func (g *Graph) AllCompleted() bool {
	for _, node := range g.Nodes {
		if node.State != NodeStateCompleted && node.State != NodeStateSkipped {
			return false
		}
	}
	return true
}

// HasFailed returns true if any node has failed.
func (g *Graph) HasFailed() bool {
	for _, node := range g.Nodes {
		if node.State == NodeStateFailed {
			return true
		}
	}
	return false
}

func sortBySeq(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Seq < nodes[j].Seq
	})
}
