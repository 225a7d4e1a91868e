package planner

import (
	"strings"
	"testing"
	"time"

	"github.com/opsforge/envctl/pkg/composition"
	"github.com/opsforge/envctl/pkg/graph"
	"github.com/opsforge/envctl/pkg/module"
	"github.com/opsforge/envctl/pkg/state/types"
)

func networkGraph(t *testing.T, cidr string) *graph.Graph {
	t.Helper()

	comp, err := composition.Compose("dev", []composition.InstanceSpec{
		{
			Name: "network",
			Kind: module.KindNetwork,
			Inputs: map[string]module.Value{
				"cidr_block":          module.String(cidr),
				"public_subnet_cidrs": module.StringList([]string{"10.0.1.0/24", "10.0.2.0/24"}),
				"availability_zones":  module.StringList([]string{"us-east-1a", "us-east-1b"}),
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("failed to compose: %v", err)
	}

	g, err := graph.Build(comp)
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	return g
}

// appliedState fabricates the state an apply of the graph would leave
// behind: one applied record per node with the node's canonical inputs.
func appliedState(t *testing.T, g *graph.Graph) *types.CompositionState {
	t.Helper()

	now := time.Now()
	state := &types.CompositionState{
		Name:      g.Composition,
		Status:    types.CompositionStatusApplied,
		CreatedAt: now,
		UpdatedAt: now,
		Resources: make(map[string]*types.ResourceRecord),
	}
	for id, node := range g.Nodes {
		state.Resources[id] = &types.ResourceRecord{
			Name:      node.Name,
			Type:      string(node.Type),
			Module:    node.Module,
			CreatedAt: now,
			UpdatedAt: now,
			Seq:       node.Seq,
			DependsOn: node.DependsOn,
			Inputs:    node.Inputs,
			Outputs:   map[string]interface{}{"id": "sim-" + node.Name},
			Status:    types.ResourceStatusApplied,
		}
	}
	return state
}

func TestPlan_FreshState(t *testing.T) {
	g := networkGraph(t, "10.0.0.0/16")

	plan, err := NewPlanner().Plan(g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.ToCreate != len(g.Nodes) {
		t.Errorf("ToCreate = %d, want %d", plan.ToCreate, len(g.Nodes))
	}
	if plan.ToUpdate != 0 || plan.ToDestroy != 0 || plan.NoChange != 0 {
		t.Errorf("fresh plan should only create: %+v", plan)
	}
	if plan.IsEmpty() {
		t.Error("fresh plan should not be empty")
	}

	for _, change := range plan.Changes {
		if change.Action != ActionCreate {
			t.Errorf("%s: action = %s, want create", change.NodeID, change.Action)
		}
	}
}

func TestPlan_UnchangedIsNoop(t *testing.T) {
	g := networkGraph(t, "10.0.0.0/16")
	current := appliedState(t, g)

	// Rebuild the graph as a fresh plan run would
	g2 := networkGraph(t, "10.0.0.0/16")

	plan, err := NewPlanner().Plan(g2, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !plan.IsEmpty() {
		t.Errorf("unchanged declarations should plan no work: create=%d update=%d destroy=%d",
			plan.ToCreate, plan.ToUpdate, plan.ToDestroy)
	}
	if plan.NoChange != len(g2.Nodes) {
		t.Errorf("NoChange = %d, want %d", plan.NoChange, len(g2.Nodes))
	}

	// Noop nodes carry the applied outputs so dependents can resolve
	node := g2.GetNode("network/network/main")
	if node.Outputs["id"] != "sim-main" {
		t.Errorf("outputs not prepopulated from state: %v", node.Outputs)
	}
}

func TestPlan_ChangedInputIsUpdate(t *testing.T) {
	g := networkGraph(t, "10.0.0.0/16")
	current := appliedState(t, g)

	g2 := networkGraph(t, "10.9.0.0/16")

	plan, err := NewPlanner().Plan(g2, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.ToUpdate != 1 {
		t.Fatalf("ToUpdate = %d, want 1", plan.ToUpdate)
	}

	var update *Change
	for _, change := range plan.Changes {
		if change.Action == ActionUpdate {
			update = change
		}
	}
	if update.NodeID != "network/network/main" {
		t.Errorf("wrong node updated: %s", update.NodeID)
	}
	if len(update.AttributeChanges) != 1 {
		t.Fatalf("expected 1 attribute change, got %d", len(update.AttributeChanges))
	}
	ac := update.AttributeChanges[0]
	if ac.Path != "cidr_block" || ac.OldValue != "10.0.0.0/16" || ac.NewValue != "10.9.0.0/16" {
		t.Errorf("unexpected attribute change: %+v", ac)
	}
}

func TestPlan_IncompleteRecordIsRecreated(t *testing.T) {
	g := networkGraph(t, "10.0.0.0/16")
	current := appliedState(t, g)
	current.Resources["network/network/main"].Status = types.ResourceStatusFailed

	g2 := networkGraph(t, "10.0.0.0/16")

	plan, err := NewPlanner().Plan(g2, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.ToCreate != 1 {
		t.Fatalf("ToCreate = %d, want 1", plan.ToCreate)
	}
	for _, change := range plan.Changes {
		if change.NodeID != "network/network/main" {
			continue
		}
		if change.Action != ActionCreate {
			t.Errorf("action = %s, want create", change.Action)
		}
		if change.Reason != "previous apply did not complete" {
			t.Errorf("unexpected reason: %q", change.Reason)
		}
	}
}

func TestPlan_OrphanedRecordIsDestroyed(t *testing.T) {
	g := networkGraph(t, "10.0.0.0/16")
	current := appliedState(t, g)
	current.Resources["orphan/network/old"] = &types.ResourceRecord{
		Name:   "old",
		Type:   "network",
		Module: "orphan",
		Status: types.ResourceStatusApplied,
	}

	g2 := networkGraph(t, "10.0.0.0/16")

	plan, err := NewPlanner().Plan(g2, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.ToDestroy != 1 {
		t.Fatalf("ToDestroy = %d, want 1", plan.ToDestroy)
	}
	destroy := plan.Destroys[0]
	if destroy.NodeID != "orphan/network/old" {
		t.Errorf("wrong node destroyed: %s", destroy.NodeID)
	}
	if destroy.Action != ActionDestroy {
		t.Errorf("action = %s, want destroy", destroy.Action)
	}
	if destroy.Reason != "resource no longer declared" {
		t.Errorf("unexpected reason: %q", destroy.Reason)
	}
}

func TestPlanDestroy_DependentsFirst(t *testing.T) {
	g := networkGraph(t, "10.0.0.0/16")
	current := appliedState(t, g)

	plan, err := NewPlanner().PlanDestroy(current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.ToDestroy != len(g.Nodes) {
		t.Fatalf("ToDestroy = %d, want %d", plan.ToDestroy, len(g.Nodes))
	}

	pos := make(map[string]int, len(plan.Destroys))
	for i, change := range plan.Destroys {
		pos[change.NodeID] = i
	}
	for id, record := range current.Resources {
		for _, dep := range record.DependsOn {
			if pos[id] > pos[dep] {
				t.Errorf("%s must be destroyed before its dependency %s", id, dep)
			}
		}
	}
}

func TestPlanDestroy_ReversesDeclarationOrder(t *testing.T) {
	now := time.Now()
	// zeta was declared and created before alpha; alphabetical order
	// disagrees with creation order.
	current := &types.CompositionState{
		Name:   "dev",
		Status: types.CompositionStatusApplied,
		Resources: map[string]*types.ResourceRecord{
			"registry/image-repository/zeta": {
				Name: "zeta", Type: "image-repository", Module: "registry",
				CreatedAt: now, UpdatedAt: now, Seq: 0,
				Status: types.ResourceStatusApplied,
			},
			"registry/image-repository/alpha": {
				Name: "alpha", Type: "image-repository", Module: "registry",
				CreatedAt: now, UpdatedAt: now, Seq: 1,
				Status: types.ResourceStatusApplied,
			},
		},
	}

	plan, err := NewPlanner().PlanDestroy(current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Destroys[0].NodeID != "registry/image-repository/alpha" ||
		plan.Destroys[1].NodeID != "registry/image-repository/zeta" {
		t.Errorf("destroy order should be the exact reverse of creation order, got %s then %s",
			plan.Destroys[0].NodeID, plan.Destroys[1].NodeID)
	}
}

func TestPlanDestroy_NoState(t *testing.T) {
	plan, err := NewPlanner().PlanDestroy(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ToDestroy != 0 {
		t.Errorf("expected empty destroy plan, got %d", plan.ToDestroy)
	}
}

func TestCompareInputs_NumericJSONRoundTrip(t *testing.T) {
	// Applied inputs round-trip through JSON, turning ints into float64.
	// The diff must treat those as equal.
	desired := map[string]interface{}{"min_size": 2, "max_size": 4}
	current := map[string]interface{}{"min_size": float64(2), "max_size": float64(4)}

	if diffs := compareInputs(desired, current); len(diffs) != 0 {
		t.Errorf("expected no diffs, got %v", diffs)
	}
}

func TestCompareInputs_AddedAndRemovedKeys(t *testing.T) {
	desired := map[string]interface{}{"a": 1, "b": 2}
	current := map[string]interface{}{"b": 2, "c": 3}

	diffs := compareInputs(desired, current)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %d", len(diffs))
	}
	// Sorted by key
	if diffs[0].Path != "a" || diffs[1].Path != "c" {
		t.Errorf("unexpected diff order: %v", diffs)
	}
}

func TestFormatChanges(t *testing.T) {
	out := FormatChanges(nil)
	if out != "no changes" {
		t.Errorf("unexpected empty rendering: %q", out)
	}

	out = FormatChanges([]AttributeChange{
		{Path: "cidr_block", OldValue: "10.0.0.0/16", NewValue: "10.9.0.0/16"},
	})
	if !strings.Contains(out, "cidr_block") || !strings.Contains(out, "->") {
		t.Errorf("unexpected rendering: %q", out)
	}
}
