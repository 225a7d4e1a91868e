package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opsforge/envctl/pkg/composition"
	"github.com/opsforge/envctl/pkg/engine/planner"
	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/graph"
	"github.com/opsforge/envctl/pkg/module"
	"github.com/opsforge/envctl/pkg/provider/sim"
	"github.com/opsforge/envctl/pkg/state"
	"github.com/opsforge/envctl/pkg/state/backend/local"
	"github.com/opsforge/envctl/pkg/state/types"
)

func testManager(t *testing.T) state.Manager {
	t.Helper()
	b, err := local.NewBackend(map[string]string{"path": t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return state.NewManager(b)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func devGraph(t *testing.T) *graph.Graph {
	t.Helper()

	comp, err := composition.Compose("dev", []composition.InstanceSpec{
		{
			Name: "network",
			Kind: module.KindNetwork,
			Inputs: map[string]module.Value{
				"cidr_block":          module.String("10.0.0.0/16"),
				"public_subnet_cidrs": module.StringList([]string{"10.0.1.0/24", "10.0.2.0/24"}),
				"availability_zones":  module.StringList([]string{"us-east-1a", "us-east-1b"}),
			},
		},
		{
			Name: "cluster",
			Kind: module.KindCluster,
			Inputs: map[string]module.Value{
				"name":       module.String("dev-cluster"),
				"network_id": module.FromOutput("network", "network_id"),
				"subnet_ids": module.FromOutput("network", "public_subnet_ids"),
				"node_count": module.Number(2),
			},
		},
		{
			Name: "registry",
			Kind: module.KindRegistry,
			Inputs: map[string]module.Value{
				"name": module.String("dev-apps"),
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

func TestApply_FreshComposition(t *testing.T) {
	ctx := context.Background()
	mgr := testManager(t)
	provider := sim.New()

	g := devGraph(t)
	plan, err := planner.NewPlanner().Plan(g, nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	exec := NewExecutor(mgr, provider, testLogger(), DefaultOptions())
	compState, result, err := exec.Apply(ctx, plan, g, nil)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if !result.Success {
		t.Error("apply should succeed")
	}
	if result.Created != len(g.Nodes) {
		t.Errorf("Created = %d, want %d", result.Created, len(g.Nodes))
	}
	if compState.Status != types.CompositionStatusApplied {
		t.Errorf("status = %s, want applied", compState.Status)
	}
	if len(compState.Resources) != len(g.Nodes) {
		t.Errorf("expected %d records, got %d", len(g.Nodes), len(compState.Resources))
	}

	for id, record := range compState.Resources {
		if record.Status != types.ResourceStatusApplied {
			t.Errorf("%s: status = %s, want applied", id, record.Status)
		}
		if record.Outputs["id"] == nil {
			t.Errorf("%s: no id output recorded", id)
		}
	}

	// State survived the round trip through the backend
	saved, err := mgr.GetComposition(ctx, "dev")
	if err != nil {
		t.Fatalf("failed to reload state: %v", err)
	}
	if len(saved.Resources) != len(g.Nodes) {
		t.Errorf("persisted state has %d records, want %d", len(saved.Resources), len(g.Nodes))
	}
}

// registryFleet builds a composition of independent repositories so every
// node lands in one scheduling round.
func registryFleet(t *testing.T, n int, renamed bool) *graph.Graph {
	t.Helper()

	specs := make([]composition.InstanceSpec, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("app-%02d", i)
		if renamed && i%2 == 1 {
			name += "-v2"
		}
		specs = append(specs, composition.InstanceSpec{
			Name:   fmt.Sprintf("repo-%02d", i),
			Kind:   module.KindRegistry,
			Inputs: map[string]module.Value{"name": module.String(name)},
		})
	}

	comp, err := composition.Compose("fleet", specs, nil)
	if err != nil {
		t.Fatalf("failed to compose: %v", err)
	}
	g, err := graph.Build(comp)
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	return g
}

func TestApply_MixedNoopAndUpdateRound(t *testing.T) {
	ctx := context.Background()
	mgr := testManager(t)
	provider := sim.New()
	exec := NewExecutor(mgr, provider, testLogger(), DefaultOptions())

	g := registryFleet(t, 40, false)
	plan, err := planner.NewPlanner().Plan(g, nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if _, _, err := exec.Apply(ctx, plan, g, nil); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	current, err := mgr.GetComposition(ctx, "fleet")
	if err != nil {
		t.Fatalf("failed to reload state: %v", err)
	}

	// Rename every other repository: unchanged and changed nodes now share
	// the same scheduling round.
	g2 := registryFleet(t, 40, true)
	plan2, err := planner.NewPlanner().Plan(g2, current)
	if err != nil {
		t.Fatalf("replan failed: %v", err)
	}
	if plan2.ToUpdate != 20 || plan2.NoChange != 20 {
		t.Fatalf("plan = %d updates, %d unchanged, want 20/20", plan2.ToUpdate, plan2.NoChange)
	}

	_, result, err := exec.Apply(ctx, plan2, g2, current)
	if err != nil {
		t.Fatalf("re-apply failed: %v", err)
	}
	if result.Updated != 20 || result.NoChange != 20 {
		t.Errorf("result = %d updated, %d unchanged, want 20/20", result.Updated, result.NoChange)
	}
	if n := provider.ReconcileCount("repo-00/image-repository/main"); n != 1 {
		t.Errorf("unchanged node reconciled %d times, want 1", n)
	}
	if n := provider.ReconcileCount("repo-01/image-repository/main"); n != 2 {
		t.Errorf("renamed node reconciled %d times, want 2", n)
	}
}

func TestApply_FailureHaltsScheduling(t *testing.T) {
	ctx := context.Background()
	mgr := testManager(t)
	provider := sim.New()
	provider.FailNode("cluster/iam-role/node", fmt.Errorf("quota exceeded"))

	g := devGraph(t)
	plan, err := planner.NewPlanner().Plan(g, nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	exec := NewExecutor(mgr, provider, testLogger(), DefaultOptions())
	compState, result, err := exec.Apply(ctx, plan, g, nil)
	if err == nil {
		t.Fatal("expected partial apply failure")
	}
	if !errors.Is(err, errors.ErrCodePartialApply) {
		t.Fatalf("expected PARTIAL_APPLY_FAILURE, got %v", err)
	}

	if len(result.Failed) != 1 || result.Failed[0] != "cluster/iam-role/node" {
		t.Errorf("unexpected failed set: %v", result.Failed)
	}

	// The failing node shares its scheduling round with the other three
	// root nodes; everything later is skipped.
	if len(result.Succeeded) != 3 {
		t.Errorf("expected 3 succeeded, got %v", result.Succeeded)
	}
	if len(result.Skipped) != len(g.Nodes)-4 {
		t.Errorf("expected %d skipped, got %d", len(g.Nodes)-4, len(result.Skipped))
	}

	if compState.Status != types.CompositionStatusFailed {
		t.Errorf("status = %s, want failed", compState.Status)
	}

	failedRecord := compState.Resources["cluster/iam-role/node"]
	if failedRecord == nil || failedRecord.Status != types.ResourceStatusFailed {
		t.Error("failed node should leave a failed record")
	}

	// Successful siblings keep their applied records
	if rec := compState.Resources["network/network/main"]; rec == nil || rec.Status != types.ResourceStatusApplied {
		t.Error("successful sibling should leave an applied record")
	}
}

func TestApply_ResumeRetriesOnlyIncompleteNodes(t *testing.T) {
	ctx := context.Background()
	mgr := testManager(t)
	provider := sim.New()
	provider.FailNode("cluster/iam-role/node", fmt.Errorf("quota exceeded"))

	g := devGraph(t)
	plan, _ := planner.NewPlanner().Plan(g, nil)

	exec := NewExecutor(mgr, provider, testLogger(), DefaultOptions())
	if _, _, err := exec.Apply(ctx, plan, g, nil); err == nil {
		t.Fatal("expected first apply to fail")
	}

	provider.ClearFailures()

	current, err := mgr.GetComposition(ctx, "dev")
	if err != nil {
		t.Fatalf("failed to reload state: %v", err)
	}

	g2 := devGraph(t)
	plan2, err := planner.NewPlanner().Plan(g2, current)
	if err != nil {
		t.Fatalf("replan failed: %v", err)
	}

	if plan2.NoChange != 3 {
		t.Errorf("NoChange = %d, want 3", plan2.NoChange)
	}
	if plan2.ToCreate != len(g2.Nodes)-3 {
		t.Errorf("ToCreate = %d, want %d", plan2.ToCreate, len(g2.Nodes)-3)
	}

	if _, _, err := exec.Apply(ctx, plan2, g2, current); err != nil {
		t.Fatalf("resume apply failed: %v", err)
	}

	// Nodes applied the first time are not touched again
	if n := provider.ReconcileCount("network/network/main"); n != 1 {
		t.Errorf("network reconciled %d times, want 1", n)
	}
	if n := provider.ReconcileCount("cluster/iam-role/node"); n != 2 {
		t.Errorf("failed node reconciled %d times, want 2", n)
	}
}

func TestApply_NodeTimeout(t *testing.T) {
	ctx := context.Background()
	mgr := testManager(t)
	provider := sim.New()
	provider.Latency = 100 * time.Millisecond

	g := devGraph(t)
	plan, _ := planner.NewPlanner().Plan(g, nil)

	exec := NewExecutor(mgr, provider, testLogger(), Options{
		Parallelism: 4,
		NodeTimeout: 10 * time.Millisecond,
	})

	_, result, err := exec.Apply(ctx, plan, g, nil)
	if err == nil {
		t.Fatal("expected apply to fail on timeouts")
	}

	if len(result.Failed) == 0 {
		t.Fatal("expected at least one failed node")
	}
	nodeResult := result.NodeResults[result.Failed[0]]
	if !errors.Is(nodeResult.Error, errors.ErrCodeBackendTimeout) {
		t.Errorf("expected BACKEND_TIMEOUT, got %v", nodeResult.Error)
	}
}

func TestDestroy_DependentsFirst(t *testing.T) {
	ctx := context.Background()
	mgr := testManager(t)
	provider := sim.New()

	g := devGraph(t)
	plan, _ := planner.NewPlanner().Plan(g, nil)

	exec := NewExecutor(mgr, provider, testLogger(), DefaultOptions())
	compState, _, err := exec.Apply(ctx, plan, g, nil)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	records := make(map[string][]string, len(compState.Resources))
	for id, record := range compState.Resources {
		records[id] = record.DependsOn
	}

	destroyPlan, err := planner.NewPlanner().PlanDestroy(compState)
	if err != nil {
		t.Fatalf("destroy plan failed: %v", err)
	}

	finalState, result, err := exec.Destroy(ctx, destroyPlan, compState)
	if err != nil {
		t.Fatalf("destroy failed: %v", err)
	}

	if result.Destroyed != len(records) {
		t.Errorf("Destroyed = %d, want %d", result.Destroyed, len(records))
	}
	if len(finalState.Resources) != 0 {
		t.Errorf("expected no records left, got %d", len(finalState.Resources))
	}

	// Every dependent is destroyed strictly before its dependencies
	order := provider.Destroyed()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for id, deps := range records {
		for _, dep := range deps {
			if pos[id] > pos[dep] {
				t.Errorf("%s destroyed after its dependency %s", id, dep)
			}
		}
	}
}

func TestDestroy_FailureStopsSequence(t *testing.T) {
	ctx := context.Background()
	mgr := testManager(t)
	provider := sim.New()

	g := devGraph(t)
	plan, _ := planner.NewPlanner().Plan(g, nil)

	exec := NewExecutor(mgr, provider, testLogger(), DefaultOptions())
	compState, _, err := exec.Apply(ctx, plan, g, nil)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	destroyPlan, _ := planner.NewPlanner().PlanDestroy(compState)
	failID := destroyPlan.Destroys[2].NodeID
	provider.FailNode(failID, fmt.Errorf("still in use"))

	finalState, result, err := exec.Destroy(ctx, destroyPlan, compState)
	if err == nil {
		t.Fatal("expected destroy to fail")
	}
	if !errors.Is(err, errors.ErrCodePartialApply) {
		t.Fatalf("expected PARTIAL_APPLY_FAILURE, got %v", err)
	}

	if result.Destroyed != 2 {
		t.Errorf("Destroyed = %d, want 2", result.Destroyed)
	}
	if len(result.Skipped) != len(destroyPlan.Destroys)-3 {
		t.Errorf("expected %d skipped, got %d", len(destroyPlan.Destroys)-3, len(result.Skipped))
	}
	if finalState.Status != types.CompositionStatusFailed {
		t.Errorf("status = %s, want failed", finalState.Status)
	}

	// The resource that refused to destroy stays recorded
	if finalState.Resources[failID] == nil {
		t.Error("failed destroy should keep its record")
	}
}
