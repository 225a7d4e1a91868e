// Package planner diffs a composition's desired resource graph against its
// applied state and produces an ordered execution plan.
package planner

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opsforge/envctl/pkg/graph"
	"github.com/opsforge/envctl/pkg/state/types"
)

// Action represents the type of operation to perform on a resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
	ActionNoop    Action = "noop"
)

// Change describes one planned operation.
type Change struct {
	// Node being changed. Nil for destroys of resources that exist only
	// in applied state; those carry Record instead.
	Node *graph.Node

	// NodeID identifies the resource in both graph and state
	NodeID string

	// Action to take
	Action Action

	// Record is the applied state record, nil when creating
	Record *types.ResourceRecord

	// Reason for the change
	Reason string

	// AttributeChanges lists the attribute-level differences for updates
	AttributeChanges []AttributeChange
}

// AttributeChange describes a change to a single attribute.
type AttributeChange struct {
	Path     string
	OldValue interface{}
	NewValue interface{}
}

// Plan is an ordered set of changes for one composition. Changes holds
// creates/updates/noops in resolver order; Destroys holds removals in
// reverse dependency order (dependents destroyed first).
type Plan struct {
	Composition string

	Changes  []*Change
	Destroys []*Change

	ToCreate  int
	ToUpdate  int
	ToDestroy int
	NoChange  int
}

// IsEmpty returns true if the plan changes nothing.
func (p *Plan) IsEmpty() bool {
	return p.ToCreate == 0 && p.ToUpdate == 0 && p.ToDestroy == 0
}

// Planner generates execution plans.
type Planner struct{}

// NewPlanner creates a new planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan diffs the desired graph against applied state. Each desired node is
// tagged create (no applied record), update (canonical inputs differ), or
// noop (unchanged). Records with no desired node become destroys.
//
// Noop nodes get their Outputs prepopulated from applied state so
// dependents can resolve references without waiting on a backend call.
func (p *Planner) Plan(g *graph.Graph, currentState *types.CompositionState) (*Plan, error) {
	plan := &Plan{Composition: g.Composition}

	sortedNodes, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	records := make(map[string]*types.ResourceRecord)
	if currentState != nil {
		for id, record := range currentState.Resources {
			records[id] = record
		}
	}

	for _, node := range sortedNodes {
		change := p.planNodeChange(node, records[node.ID])
		plan.Changes = append(plan.Changes, change)
		delete(records, node.ID)

		switch change.Action {
		case ActionCreate:
			plan.ToCreate++
		case ActionUpdate:
			plan.ToUpdate++
		case ActionNoop:
			plan.NoChange++
			for k, v := range change.Record.Outputs {
				node.SetOutput(k, v)
			}
		}
	}

	// Records left over exist in state but not in the declarations
	plan.Destroys = orderDestroys(records)
	plan.ToDestroy = len(plan.Destroys)
	for _, d := range plan.Destroys {
		d.Reason = "resource no longer declared"
	}

	return plan, nil
}

// PlanDestroy plans the removal of every applied resource, ordered so
// dependents are destroyed before their dependencies.
func (p *Planner) PlanDestroy(currentState *types.CompositionState) (*Plan, error) {
	plan := &Plan{}
	if currentState == nil {
		return plan, nil
	}
	plan.Composition = currentState.Name

	records := make(map[string]*types.ResourceRecord, len(currentState.Resources))
	for id, record := range currentState.Resources {
		records[id] = record
	}

	plan.Destroys = orderDestroys(records)
	plan.ToDestroy = len(plan.Destroys)
	for _, d := range plan.Destroys {
		d.Reason = "destroying composition"
	}

	return plan, nil
}

func (p *Planner) planNodeChange(node *graph.Node, record *types.ResourceRecord) *Change {
	change := &Change{
		Node:   node,
		NodeID: node.ID,
		Record: record,
	}

	if record == nil || record.Status != types.ResourceStatusApplied {
		change.Action = ActionCreate
		if record != nil {
			change.Reason = "previous apply did not complete"
		} else {
			change.Reason = "resource does not exist"
		}
		return change
	}

	diffs := compareInputs(node.Inputs, record.Inputs)
	if len(diffs) > 0 {
		change.Action = ActionUpdate
		change.AttributeChanges = diffs
		change.Reason = "resource configuration changed"
		return change
	}

	change.Action = ActionNoop
	change.Reason = "resource is up to date"
	return change
}

// orderDestroys sorts records into reverse dependency order using the
// edges persisted on each record, so destroy ordering needs no graph.
func orderDestroys(records map[string]*types.ResourceRecord) []*Change {
	// Kahn over the recorded edges, restricted to the records at hand,
	// then reversed: creation order forward, destruction order backward.
	remaining := make(map[string]bool, len(records))
	for id := range records {
		remaining[id] = true
	}

	inDegree := make(map[string]int, len(records))
	dependents := make(map[string][]string, len(records))
	for id, record := range records {
		for _, depID := range record.DependsOn {
			if remaining[depID] {
				inDegree[id]++
				dependents[depID] = append(dependents[depID], id)
			}
		}
	}

	// Ties among independent records follow the recorded declaration
	// sequence, so the forward walk reproduces creation order exactly.
	sortQueue := func(queue []string) {
		sort.Slice(queue, func(i, j int) bool {
			a, b := records[queue[i]], records[queue[j]]
			if a.Seq != b.Seq {
				return a.Seq < b.Seq
			}
			return queue[i] < queue[j]
		})
	}

	var queue []string
	for id := range records {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sortQueue(queue)

	var forward []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		forward = append(forward, id)

		for _, depID := range dependents[id] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				queue = append(queue, depID)
				sortQueue(queue)
			}
		}
	}

	// Recorded edges never cycle (they came from an ordered apply), but
	// append any stragglers so nothing is silently dropped.
	seen := make(map[string]bool, len(forward))
	for _, id := range forward {
		seen[id] = true
	}
	for id := range records {
		if !seen[id] {
			forward = append(forward, id)
		}
	}

	changes := make([]*Change, 0, len(forward))
	for i := len(forward) - 1; i >= 0; i-- {
		id := forward[i]
		changes = append(changes, &Change{
			NodeID: id,
			Action: ActionDestroy,
			Record: records[id],
		})
	}
	return changes
}

// compareInputs diffs two canonical attribute maps. Both sides are
// JSON-normalized before comparison: desired inputs are in-memory Go
// values while applied inputs round-tripped through the state file.
func compareInputs(desired, current map[string]interface{}) []AttributeChange {
	var changes []AttributeChange

	keys := make(map[string]bool, len(desired)+len(current))
	for k := range desired {
		keys[k] = true
	}
	for k := range current {
		keys[k] = true
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		desiredVal, inDesired := desired[key]
		currentVal, inCurrent := current[key]

		switch {
		case !inCurrent:
			changes = append(changes, AttributeChange{Path: key, NewValue: desiredVal})
		case !inDesired:
			changes = append(changes, AttributeChange{Path: key, OldValue: currentVal})
		case !canonicalEqual(desiredVal, currentVal):
			changes = append(changes, AttributeChange{Path: key, OldValue: currentVal, NewValue: desiredVal})
		}
	}

	return changes
}

func canonicalEqual(a, b interface{}) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

// FormatChanges renders attribute changes for plan output.
func FormatChanges(changes []AttributeChange) string {
	if len(changes) == 0 {
		return "no changes"
	}

	result := ""
	for _, c := range changes {
		result += fmt.Sprintf("  %s: %v -> %v\n", c.Path, c.OldValue, c.NewValue)
	}
	return result
}
