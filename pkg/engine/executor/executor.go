// Package executor runs execution plans against a provisioning provider.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opsforge/envctl/pkg/engine/planner"
	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/graph"
	"github.com/opsforge/envctl/pkg/module"
	"github.com/opsforge/envctl/pkg/provider"
	"github.com/opsforge/envctl/pkg/state"
	"github.com/opsforge/envctl/pkg/state/types"
)

// Result summarizes one apply or destroy run.
type Result struct {
	Success  bool
	Duration time.Duration

	Created   int
	Updated   int
	Destroyed int
	NoChange  int

	// Node IDs bucketed by outcome, each sorted for stable reporting
	Succeeded []string
	Failed    []string
	Skipped   []string

	NodeResults map[string]*NodeResult
}

// NodeResult is the outcome of executing a single node.
type NodeResult struct {
	NodeID   string
	Action   planner.Action
	Success  bool
	Duration time.Duration
	Error    error
	Outputs  map[string]interface{}
}

// Options configures the executor.
type Options struct {
	// Parallelism caps concurrent backend calls within one composition
	Parallelism int

	// NodeTimeout bounds each backend call. Exceeding it fails the node
	// with BackendTimeout.
	NodeTimeout time.Duration
}

// DefaultOptions returns default executor options.
func DefaultOptions() Options {
	return Options{
		Parallelism: 10,
		NodeTimeout: 5 * time.Minute,
	}
}

// Executor applies plans node by node. Applied state is written exactly
// once per node completion, so a crash mid-apply leaves state accurate for
// finished nodes and silent for the in-flight one.
type Executor struct {
	stateManager state.Manager
	provider     provider.Provider
	logger       *slog.Logger
	options      Options
}

// NewExecutor creates a new executor.
func NewExecutor(stateManager state.Manager, p provider.Provider, logger *slog.Logger, options Options) *Executor {
	if options.Parallelism <= 0 {
		options.Parallelism = 10
	}
	if options.NodeTimeout <= 0 {
		options.NodeTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		stateManager: stateManager,
		provider:     p,
		logger:       logger,
		options:      options,
	}
}

// Apply executes a plan: removals of no-longer-declared resources first,
// then creations and updates in dependency order, independent nodes in
// parallel. Once a node fails, no new nodes are scheduled; in-flight nodes
// finish on their own and their results are recorded. A partially applied
// plan returns PartialApplyFailure listing every node by outcome.
func (e *Executor) Apply(ctx context.Context, plan *planner.Plan, g *graph.Graph, current *types.CompositionState) (*types.CompositionState, *Result, error) {
	startTime := time.Now()

	result := &Result{
		Success:     true,
		NodeResults: make(map[string]*NodeResult),
	}

	compState := e.ensureState(plan.Composition, current)
	compState.Status = types.CompositionStatusApplying
	compState.UpdatedAt = time.Now()

	var mu sync.Mutex

	// Orphans go first so their names are free before creations run
	for _, change := range plan.Destroys {
		nodeResult := e.destroyRecord(ctx, change, compState, &mu)
		result.NodeResults[change.NodeID] = nodeResult
		if !nodeResult.Success {
			result.Success = false
			result.Failed = append(result.Failed, change.NodeID)
			break
		}
		result.Destroyed++
		result.Succeeded = append(result.Succeeded, change.NodeID)
	}

	if result.Success {
		e.runForward(ctx, plan, g, compState, result, &mu)
	} else {
		for _, change := range plan.Changes {
			change.Node.State = graph.NodeStateSkipped
			result.Skipped = append(result.Skipped, change.NodeID)
		}
	}

	if result.Success {
		compState.Status = types.CompositionStatusApplied
		compState.StatusReason = ""
	} else {
		compState.Status = types.CompositionStatusFailed
		compState.StatusReason = fmt.Sprintf("%d of %d nodes failed",
			len(result.Failed), len(result.NodeResults))
	}
	compState.UpdatedAt = time.Now()

	if err := e.stateManager.SaveComposition(ctx, compState); err != nil {
		return compState, result, errors.Wrap(errors.ErrCodeState, "failed to save applied state", err)
	}

	result.Duration = time.Since(startTime)
	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)
	sort.Strings(result.Skipped)

	if !result.Success {
		return compState, result, errors.PartialApplyFailure(
			plan.Composition, result.Succeeded, result.Failed, result.Skipped)
	}

	return compState, result, nil
}

// runForward schedules creations and updates by readiness: a node runs
// once every dependency completed. Scheduling happens in rounds; a failure
// recorded in one round stops later rounds while the round's siblings run
// to completion.
func (e *Executor) runForward(ctx context.Context, plan *planner.Plan, g *graph.Graph, compState *types.CompositionState, result *Result, mu *sync.Mutex) {
	pending := make(map[string]*planner.Change, len(plan.Changes))
	for _, change := range plan.Changes {
		pending[change.NodeID] = change
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	halted := false

	sem := make(chan struct{}, e.options.Parallelism)
	var wg sync.WaitGroup

	for len(pending) > 0 {
		var ready []*planner.Change

		// Stable iteration keeps sibling launch order reproducible
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		sort.SliceStable(ids, func(i, j int) bool {
			return pending[ids[i]].Node.Seq < pending[ids[j]].Node.Seq
		})

		for _, id := range ids {
			change := pending[id]

			skip := halted
			blocked := false
			for _, depID := range change.Node.DependsOn {
				if failed[depID] {
					skip = true
					break
				}
				if !completed[depID] {
					blocked = true
				}
			}

			if skip {
				delete(pending, id)
				change.Node.State = graph.NodeStateSkipped
				failed[id] = true // dependents of a skipped node are skipped too
				mu.Lock()
				result.Skipped = append(result.Skipped, id)
				result.Success = false
				mu.Unlock()
				continue
			}
			if blocked {
				continue
			}

			ready = append(ready, change)
		}

		if len(ready) == 0 {
			if halted {
				continue
			}
			break
		}

		for _, change := range ready {
			delete(pending, change.NodeID)

			if change.Action == planner.ActionNoop {
				// Outputs were prepopulated from applied state during
				// planning; nothing to reconcile. Workers launched earlier
				// in this round also write completed, so take the lock.
				mu.Lock()
				change.Node.State = graph.NodeStateCompleted
				completed[change.NodeID] = true
				result.NoChange++
				result.NodeResults[change.NodeID] = &NodeResult{
					NodeID: change.NodeID, Action: planner.ActionNoop, Success: true,
				}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			sem <- struct{}{}

			go func(c *planner.Change) {
				defer wg.Done()
				defer func() { <-sem }()

				nodeResult := e.reconcileNode(ctx, c, g, compState, mu)

				mu.Lock()
				result.NodeResults[c.NodeID] = nodeResult
				if nodeResult.Success {
					completed[c.NodeID] = true
					c.Node.State = graph.NodeStateCompleted
					result.Succeeded = append(result.Succeeded, c.NodeID)
					if c.Action == planner.ActionCreate {
						result.Created++
					} else {
						result.Updated++
					}
				} else {
					failed[c.NodeID] = true
					c.Node.State = graph.NodeStateFailed
					result.Failed = append(result.Failed, c.NodeID)
					result.Success = false
				}
				mu.Unlock()
			}(change)
		}

		wg.Wait()

		if len(failed) > 0 {
			halted = true
		}
	}
}

// reconcileNode resolves the node's references against dependency outputs,
// invokes the backend with the per-node timeout, and writes the resource
// record once on completion.
func (e *Executor) reconcileNode(ctx context.Context, change *planner.Change, g *graph.Graph, compState *types.CompositionState, mu *sync.Mutex) *NodeResult {
	startTime := time.Now()
	node := change.Node

	nodeResult := &NodeResult{
		NodeID: node.ID,
		Action: change.Action,
	}

	e.logger.Info("reconciling resource",
		"node", node.ID,
		"action", string(change.Action))

	resolved, err := module.ResolveAttributes(node.Spec.Attributes, func(nodeID, attribute string) (interface{}, bool) {
		dep := g.GetNode(nodeID)
		if dep == nil {
			return nil, false
		}
		mu.Lock()
		v, ok := dep.Outputs[attribute]
		mu.Unlock()
		return v, ok
	})
	if err != nil {
		nodeResult.Error = errors.BackendError(node.ID, err)
		e.recordFailure(ctx, node, compState, nodeResult.Error, mu)
		nodeResult.Duration = time.Since(startTime)
		return nodeResult
	}

	var existing map[string]interface{}
	if change.Record != nil {
		existing = change.Record.Outputs
	}

	nodeCtx, cancel := context.WithTimeout(ctx, e.options.NodeTimeout)
	defer cancel()

	reconciled, err := e.provider.Reconcile(nodeCtx, provider.Request{
		Node:       node.ID,
		Type:       string(node.Type),
		Name:       node.Name,
		Module:     node.Module,
		Attributes: resolved,
		Existing:   existing,
	})
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded {
			nodeResult.Error = errors.BackendTimeout(node.ID, err)
		} else {
			nodeResult.Error = errors.BackendError(node.ID, err)
		}
		e.logger.Error("resource reconciliation failed",
			"node", node.ID,
			"error", nodeResult.Error)
		e.recordFailure(ctx, node, compState, nodeResult.Error, mu)
		nodeResult.Duration = time.Since(startTime)
		return nodeResult
	}

	mu.Lock()
	for k, v := range reconciled.Outputs {
		node.SetOutput(k, v)
	}

	now := time.Now()
	record := &types.ResourceRecord{
		Name:       node.Name,
		Type:       string(node.Type),
		Module:     node.Module,
		CreatedAt:  now,
		UpdatedAt:  now,
		Seq:        node.Seq,
		DependsOn:  node.DependsOn,
		Inputs:     node.Inputs,
		Attributes: module.CanonicalAttributes(resolved),
		Outputs:    reconciled.Outputs,
		Status:     types.ResourceStatusApplied,
	}
	if prev, ok := compState.Resources[node.ID]; ok {
		record.CreatedAt = prev.CreatedAt
	}
	compState.Resources[node.ID] = record
	compState.UpdatedAt = now

	err = e.stateManager.SaveComposition(ctx, compState)
	mu.Unlock()

	if err != nil {
		nodeResult.Error = errors.Wrap(errors.ErrCodeState, "failed to persist resource record", err)
		nodeResult.Duration = time.Since(startTime)
		return nodeResult
	}

	nodeResult.Success = true
	nodeResult.Outputs = reconciled.Outputs
	nodeResult.Duration = time.Since(startTime)
	return nodeResult
}

func (e *Executor) recordFailure(ctx context.Context, node *graph.Node, compState *types.CompositionState, cause error, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	record := &types.ResourceRecord{
		Name:         node.Name,
		Type:         string(node.Type),
		Module:       node.Module,
		CreatedAt:    now,
		UpdatedAt:    now,
		Seq:          node.Seq,
		DependsOn:    node.DependsOn,
		Inputs:       node.Inputs,
		Status:       types.ResourceStatusFailed,
		StatusReason: cause.Error(),
	}
	if prev, ok := compState.Resources[node.ID]; ok {
		record.CreatedAt = prev.CreatedAt
		record.Attributes = prev.Attributes
		record.Outputs = prev.Outputs
	}
	compState.Resources[node.ID] = record
	compState.UpdatedAt = now

	if err := e.stateManager.SaveComposition(ctx, compState); err != nil {
		e.logger.Error("failed to persist failure record",
			"node", node.ID,
			"error", err)
	}
}

// Destroy executes a destroy plan. Destroys run strictly in plan order,
// which the planner built dependents-first from recorded edges; each
// removal is persisted before the next begins.
func (e *Executor) Destroy(ctx context.Context, plan *planner.Plan, current *types.CompositionState) (*types.CompositionState, *Result, error) {
	startTime := time.Now()

	result := &Result{
		Success:     true,
		NodeResults: make(map[string]*NodeResult),
	}

	compState := e.ensureState(plan.Composition, current)
	compState.Status = types.CompositionStatusDestroying
	compState.UpdatedAt = time.Now()

	var mu sync.Mutex

	for i, change := range plan.Destroys {
		if ctx.Err() != nil {
			result.Success = false
			break
		}

		nodeResult := e.destroyRecord(ctx, change, compState, &mu)
		result.NodeResults[change.NodeID] = nodeResult

		if !nodeResult.Success {
			result.Success = false
			result.Failed = append(result.Failed, change.NodeID)
			for _, remaining := range plan.Destroys[i+1:] {
				result.Skipped = append(result.Skipped, remaining.NodeID)
			}
			break
		}
		result.Destroyed++
		result.Succeeded = append(result.Succeeded, change.NodeID)
	}

	result.Duration = time.Since(startTime)

	if !result.Success {
		compState.Status = types.CompositionStatusFailed
		compState.StatusReason = "destroy did not complete"
		compState.UpdatedAt = time.Now()
		if err := e.stateManager.SaveComposition(ctx, compState); err != nil {
			return compState, result, errors.Wrap(errors.ErrCodeState, "failed to save applied state", err)
		}
		return compState, result, errors.PartialApplyFailure(
			plan.Composition, result.Succeeded, result.Failed, result.Skipped)
	}

	return compState, result, nil
}

// destroyRecord invokes the backend destroy for one applied record and
// removes it from state.
func (e *Executor) destroyRecord(ctx context.Context, change *planner.Change, compState *types.CompositionState, mu *sync.Mutex) *NodeResult {
	startTime := time.Now()

	nodeResult := &NodeResult{
		NodeID: change.NodeID,
		Action: planner.ActionDestroy,
	}

	record := change.Record
	if record == nil {
		nodeResult.Success = true
		return nodeResult
	}

	e.logger.Info("destroying resource", "node", change.NodeID)

	nodeCtx, cancel := context.WithTimeout(ctx, e.options.NodeTimeout)
	defer cancel()

	err := e.provider.Destroy(nodeCtx, provider.Request{
		Node:       change.NodeID,
		Type:       record.Type,
		Name:       record.Name,
		Module:     record.Module,
		Attributes: record.Attributes,
		Existing:   record.Outputs,
	})
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded {
			nodeResult.Error = errors.BackendTimeout(change.NodeID, err)
		} else {
			nodeResult.Error = errors.BackendError(change.NodeID, err)
		}
		e.logger.Error("resource destroy failed",
			"node", change.NodeID,
			"error", nodeResult.Error)
		nodeResult.Duration = time.Since(startTime)
		return nodeResult
	}

	mu.Lock()
	delete(compState.Resources, change.NodeID)
	compState.UpdatedAt = time.Now()
	err = e.stateManager.SaveComposition(ctx, compState)
	mu.Unlock()

	if err != nil {
		nodeResult.Error = errors.Wrap(errors.ErrCodeState, "failed to persist resource removal", err)
		nodeResult.Duration = time.Since(startTime)
		return nodeResult
	}

	nodeResult.Success = true
	nodeResult.Duration = time.Since(startTime)
	return nodeResult
}

func (e *Executor) ensureState(composition string, current *types.CompositionState) *types.CompositionState {
	if current != nil {
		if current.Resources == nil {
			current.Resources = make(map[string]*types.ResourceRecord)
		}
		return current
	}
	now := time.Now()
	return &types.CompositionState{
		Name:      composition,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    types.CompositionStatusPending,
		Resources: make(map[string]*types.ResourceRecord),
	}
}
