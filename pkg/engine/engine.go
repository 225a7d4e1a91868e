// Package engine orchestrates the full lifecycle of environment
// compositions: parameter lookup, module instantiation, graph resolution,
// planning, and plan execution against a provisioning provider.
package engine

import (
	"context"
	errs "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/opsforge/envctl/pkg/composition"
	"github.com/opsforge/envctl/pkg/engine/executor"
	"github.com/opsforge/envctl/pkg/engine/planner"
	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/graph"
	"github.com/opsforge/envctl/pkg/module"
	"github.com/opsforge/envctl/pkg/params"
	"github.com/opsforge/envctl/pkg/provider"
	"github.com/opsforge/envctl/pkg/state"
	"github.com/opsforge/envctl/pkg/state/backend"
	"github.com/opsforge/envctl/pkg/state/types"
)

// Engine coordinates planning and applying environment compositions.
type Engine struct {
	stateManager state.Manager
	provider     provider.Provider
	logger       *slog.Logger
	planner      *planner.Planner
	execOptions  executor.Options
}

// New creates an engine.
func New(stateManager state.Manager, p provider.Provider, logger *slog.Logger, execOptions executor.Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		stateManager: stateManager,
		provider:     p,
		logger:       logger,
		planner:      planner.NewPlanner(),
		execOptions:  execOptions,
	}
}

// PlanResult bundles everything produced by planning one environment.
type PlanResult struct {
	Composition *composition.Composition
	Graph       *graph.Graph
	Plan        *planner.Plan
	State       *types.CompositionState
	Warnings    []errors.Warning
}

// BuildComposition instantiates the environment's module instances and
// wires them: the cluster consumes the network's identifier and subnet
// list, and the registry's repository URL is re-exported at composition
// level. Parameters are frozen afterwards; nothing mutates them
// mid-resolution.
func (e *Engine) BuildComposition(environment string, store *params.Store) (*composition.Composition, error) {
	cidr, err := store.Get(environment, "cidr_block")
	if err != nil {
		return nil, err
	}
	subnets, err := store.Get(environment, "public_subnet_cidrs")
	if err != nil {
		return nil, err
	}
	zones, err := store.Get(environment, "availability_zones")
	if err != nil {
		return nil, err
	}
	nodeCount, err := store.Get(environment, "node_count")
	if err != nil {
		return nil, err
	}

	clusterName := module.String(environment + "-cluster")
	if v, ok := store.Lookup(environment, "cluster_name"); ok {
		clusterName = module.Lit(v)
	}
	repositoryName := module.String(environment + "-apps")
	if v, ok := store.Lookup(environment, "repository_name"); ok {
		repositoryName = module.Lit(v)
	}

	store.Freeze()

	specs := []composition.InstanceSpec{
		{
			Name: "network",
			Kind: module.KindNetwork,
			Inputs: map[string]module.Value{
				"cidr_block":          module.Lit(cidr),
				"public_subnet_cidrs": module.Lit(subnets),
				"availability_zones":  module.Lit(zones),
			},
		},
		{
			Name: "cluster",
			Kind: module.KindCluster,
			Inputs: map[string]module.Value{
				"name":       clusterName,
				"network_id": module.FromOutput("network", "network_id"),
				"subnet_ids": module.FromOutput("network", "public_subnet_ids"),
				"node_count": module.Lit(nodeCount),
			},
		},
		{
			Name: "registry",
			Kind: module.KindRegistry,
			Inputs: map[string]module.Value{
				"name": repositoryName,
			},
		},
	}

	exports := map[string]composition.Export{
		"ecr_repository_url": {Instance: "registry", Output: "repository_url"},
		"cluster_name":       {Instance: "cluster", Output: "cluster_name"},
		"network_id":         {Instance: "network", Output: "network_id"},
		"public_subnet_ids":  {Instance: "network", Output: "public_subnet_ids"},
	}

	return composition.Compose(environment, specs, exports)
}

// Plan builds the environment's composition and diffs it against applied
// state. All validation failures surface here; apply never starts on an
// invalid composition.
func (e *Engine) Plan(ctx context.Context, environment string, store *params.Store) (*PlanResult, error) {
	comp, err := e.BuildComposition(environment, store)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(comp)
	if err != nil {
		return nil, err
	}

	current, err := e.loadState(ctx, environment)
	if err != nil {
		return nil, err
	}

	plan, err := e.planner.Plan(g, current)
	if err != nil {
		return nil, err
	}

	e.logger.Info("plan complete",
		"environment", environment,
		"create", plan.ToCreate,
		"update", plan.ToUpdate,
		"destroy", plan.ToDestroy,
		"noop", plan.NoChange)

	return &PlanResult{
		Composition: comp,
		Graph:       g,
		Plan:        plan,
		State:       current,
		Warnings:    comp.Warnings,
	}, nil
}

// Apply plans and executes the environment under the composition lock.
// After a fully successful run, the composition's exported outputs are
// resolved against reconciled resource outputs and persisted alongside the
// resource records.
func (e *Engine) Apply(ctx context.Context, environment string, store *params.Store) (*types.CompositionState, *executor.Result, error) {
	lock, err := e.lock(ctx, environment, "apply")
	if err != nil {
		return nil, nil, err
	}
	defer lock.Unlock(ctx)

	result, err := e.Plan(ctx, environment, store)
	if err != nil {
		return nil, nil, err
	}

	return e.ApplyPlan(ctx, result)
}

// ApplyPlan executes an already-computed plan. The caller is expected to
// hold the composition lock when calling this directly.
func (e *Engine) ApplyPlan(ctx context.Context, result *PlanResult) (*types.CompositionState, *executor.Result, error) {
	exec := executor.NewExecutor(e.stateManager, e.provider, e.logger, e.execOptions)

	compState, execResult, err := exec.Apply(ctx, result.Plan, result.Graph, result.State)
	if err != nil {
		return compState, execResult, err
	}

	exports, err := e.resolveExports(result.Composition, result.Graph)
	if err != nil {
		return compState, execResult, err
	}
	compState.Exports = exports

	if err := e.stateManager.SaveComposition(ctx, compState); err != nil {
		return compState, execResult, errors.Wrap(errors.ErrCodeState, "failed to save exports", err)
	}

	return compState, execResult, nil
}

// Destroy removes every applied resource of the environment, dependents
// first, and deletes the composition's state once nothing remains.
func (e *Engine) Destroy(ctx context.Context, environment string) (*executor.Result, error) {
	lock, err := e.lock(ctx, environment, "destroy")
	if err != nil {
		return nil, err
	}
	defer lock.Unlock(ctx)

	current, err := e.loadState(ctx, environment)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.NotFoundError("composition", environment)
	}

	plan, err := e.planner.PlanDestroy(current)
	if err != nil {
		return nil, err
	}
	plan.Composition = environment

	exec := executor.NewExecutor(e.stateManager, e.provider, e.logger, e.execOptions)
	_, execResult, err := exec.Destroy(ctx, plan, current)
	if err != nil {
		return execResult, err
	}

	if err := e.stateManager.DeleteComposition(ctx, environment); err != nil {
		return execResult, errors.Wrap(errors.ErrCodeState, "failed to remove composition state", err)
	}

	e.logger.Info("composition destroyed",
		"environment", environment,
		"resources", execResult.Destroyed)

	return execResult, nil
}

// Output returns one exported output of a previously applied environment.
func (e *Engine) Output(ctx context.Context, environment, name string) (interface{}, error) {
	outputs, err := e.Outputs(ctx, environment)
	if err != nil {
		return nil, err
	}

	value, ok := outputs[name]
	if !ok {
		return nil, errors.NotFoundError("output", name)
	}
	return value, nil
}

// Outputs returns all exported outputs of a previously applied environment.
func (e *Engine) Outputs(ctx context.Context, environment string) (map[string]interface{}, error) {
	current, err := e.loadState(ctx, environment)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.NotFoundError("composition", environment)
	}
	if current.Status != types.CompositionStatusApplied {
		return nil, errors.Newf(errors.ErrCodeState,
			"composition %q is %s, outputs require a successful apply", environment, current.Status)
	}
	return current.Exports, nil
}

// State returns the applied state record for an environment.
func (e *Engine) State(ctx context.Context, environment string) (*types.CompositionState, error) {
	current, err := e.loadState(ctx, environment)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.NotFoundError("composition", environment)
	}
	return current, nil
}

// List returns every known composition.
func (e *Engine) List(ctx context.Context) ([]types.CompositionRef, error) {
	refs, err := e.stateManager.ListCompositions(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeState, "failed to list compositions", err)
	}
	return refs, nil
}

// resolveExports replaces the references behind each exported output with
// the concrete values reconciled onto graph nodes.
func (e *Engine) resolveExports(comp *composition.Composition, g *graph.Graph) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(comp.Exports))
	for name := range comp.Exports {
		raw, err := comp.ExportValue(name)
		if err != nil {
			return nil, err
		}
		values[name] = raw
	}

	resolved, err := module.ResolveAttributes(values, func(nodeID, attribute string) (interface{}, bool) {
		node := g.GetNode(nodeID)
		if node == nil {
			return nil, false
		}
		v, ok := node.Outputs[attribute]
		return v, ok
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeState, "failed to resolve exports", err)
	}

	return resolved, nil
}

func (e *Engine) loadState(ctx context.Context, environment string) (*types.CompositionState, error) {
	current, err := e.stateManager.GetComposition(ctx, environment)
	if err != nil {
		if errs.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeState,
			fmt.Sprintf("failed to read state for composition %q", environment), err)
	}
	return current, nil
}

func (e *Engine) lock(ctx context.Context, environment, operation string) (backend.Lock, error) {
	who, _ := os.Hostname()

	lock, err := e.stateManager.Lock(ctx, state.LockScope{
		Composition: environment,
		Operation:   operation,
		Who:         who,
	})
	if err != nil {
		var lockErr *backend.LockError
		if errs.As(err, &lockErr) {
			return nil, errors.Newf(errors.ErrCodeLocked,
				"composition %q is locked by %s for %s since %s",
				environment, lockErr.Info.Who, lockErr.Info.Operation, lockErr.Info.Created.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil, errors.Wrap(errors.ErrCodeState, "failed to acquire composition lock", err)
	}
	return lock, nil
}
