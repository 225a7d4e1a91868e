package graph

import (
	"testing"

	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/module"
)

func testNode(id string, seq int) *Node {
	return &Node{
		ID:           id,
		Seq:          seq,
		Outputs:      make(map[string]interface{}),
		DependsOn:    []string{},
		DependedOnBy: []string{},
		State:        NodeStatePending,
	}
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph("dev")
	node := testNode("network/network/main", 0)

	if err := g.AddNode(node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddNode(node); err == nil {
		t.Error("expected error for duplicate node")
	}
	if g.GetNode("network/network/main") != node {
		t.Error("GetNode should return the added node")
	}
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph("dev")
	a := testNode("a", 0)
	b := testNode("b", 1)
	_ = g.AddNode(a)
	_ = g.AddNode(b)

	if err := g.AddEdge("b", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.DependsOn) != 1 || b.DependsOn[0] != "a" {
		t.Errorf("unexpected dependencies: %v", b.DependsOn)
	}
	if len(a.DependedOnBy) != 1 || a.DependedOnBy[0] != "b" {
		t.Errorf("unexpected dependents: %v", a.DependedOnBy)
	}

	// Duplicate edges collapse
	_ = g.AddEdge("b", "a")
	if len(b.DependsOn) != 1 {
		t.Errorf("duplicate edge recorded: %v", b.DependsOn)
	}

	if err := g.AddEdge("b", "missing"); err == nil {
		t.Error("expected error for unknown dependency")
	}
	if err := g.AddEdge("missing", "a"); err == nil {
		t.Error("expected error for unknown dependent")
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := NewGraph("dev")
	// c -> b -> a, d independent
	for i, id := range []string{"a", "b", "c", "d"} {
		_ = g.AddNode(testNode(id, i))
	}
	_ = g.AddEdge("b", "a")
	_ = g.AddEdge("c", "b")

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int, len(sorted))
	for i, n := range sorted {
		pos[n.ID] = i
	}

	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("dependencies must sort before dependents: %v", ids(sorted))
	}
}

func TestGraph_TopologicalSort_DeclarationOrderTieBreak(t *testing.T) {
	g := NewGraph("dev")
	// All independent; order must follow Seq, not map iteration
	_ = g.AddNode(testNode("zeta", 0))
	_ = g.AddNode(testNode("alpha", 1))
	_ = g.AddNode(testNode("mid", 2))

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"zeta", "alpha", "mid"}
	got := ids(sorted)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected declaration order %v, got %v", want, got)
		}
	}
}

func TestGraph_TopologicalSort_Cycle(t *testing.T) {
	g := NewGraph("dev")
	for i, id := range []string{"a", "b", "c"} {
		_ = g.AddNode(testNode(id, i))
	}
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "c")
	_ = g.AddEdge("c", "a")

	_, err := g.TopologicalSort()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, errors.ErrCodeCyclicDependency) {
		t.Fatalf("expected CYCLIC_DEPENDENCY, got %v", err)
	}

	var envErr *errors.Error
	if e, ok := err.(*errors.Error); ok {
		envErr = e
	} else {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	cycle, ok := envErr.Details["cycle"].([]string)
	if !ok || len(cycle) != 3 {
		t.Errorf("cycle should name all three nodes, got %v", envErr.Details["cycle"])
	}
}

func TestGraph_ReverseTopologicalSort(t *testing.T) {
	g := NewGraph("dev")
	for i, id := range []string{"a", "b"} {
		_ = g.AddNode(testNode(id, i))
	}
	_ = g.AddEdge("b", "a")

	sorted, err := g.ReverseTopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sorted[0].ID != "b" || sorted[1].ID != "a" {
		t.Errorf("dependents must come first: %v", ids(sorted))
	}
}

func TestGraph_GetReadyNodes(t *testing.T) {
	g := NewGraph("dev")
	a := testNode("a", 0)
	b := testNode("b", 1)
	_ = g.AddNode(a)
	_ = g.AddNode(b)
	_ = g.AddEdge("b", "a")

	ready := g.GetReadyNodes()
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("only the root should be ready, got %v", ids(ready))
	}

	a.State = NodeStateCompleted
	ready = g.GetReadyNodes()
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("dependent should be ready once its dependency completed, got %v", ids(ready))
	}
}

func TestNewNode_CanonicalInputs(t *testing.T) {
	spec := &module.ResourceSpec{
		Type:   module.TypeGateway,
		Name:   "main",
		Module: "network",
		Attributes: map[string]interface{}{
			"network_id": module.Reference{Node: "network/network/main", Attribute: "id"},
		},
	}

	node := NewNode(spec, 3)

	if node.ID != "network/gateway/main" {
		t.Errorf("unexpected node ID: %s", node.ID)
	}
	if node.Seq != 3 {
		t.Errorf("Seq = %d, want 3", node.Seq)
	}
	if node.Inputs["network_id"] != "${network/network/main.id}" {
		t.Errorf("inputs not canonicalized: %v", node.Inputs["network_id"])
	}
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
