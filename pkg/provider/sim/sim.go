// Package sim implements an in-memory simulation provider. It assigns
// deterministic IDs derived from node identity, so repeated applies of the
// same declarations converge on identical state.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/opsforge/envctl/pkg/provider"
)

func init() {
	provider.Register(New())
}

// idPrefixes gives each resource type a short, recognizable ID prefix.
var idPrefixes = map[string]string{
	"network":                 "net",
	"subnet":                  "subnet",
	"gateway":                 "igw",
	"route-table":             "rtb",
	"route-table-association": "rtbassoc",
	"iam-role":                "role",
	"iam-policy-attachment":   "attach",
	"security-group":          "sg",
	"managed-cluster":         "cluster",
	"node-pool":               "pool",
	"image-repository":        "repo",
}

// Sim is the simulation provider. Zero value is not usable; call New.
type Sim struct {
	mu sync.Mutex

	// Latency delays every call, for timeout testing
	Latency time.Duration

	failNodes  map[string]error
	failTypes  map[string]error
	reconciled map[string]int
	destroyed  []string
}

// New creates a simulation provider.
func New() *Sim {
	return &Sim{
		failNodes:  make(map[string]error),
		failTypes:  make(map[string]error),
		reconciled: make(map[string]int),
	}
}

func (s *Sim) Name() string {
	return "sim"
}

// FailNode makes every reconcile of the given node fail with err until
// ClearFailures is called.
func (s *Sim) FailNode(node string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNodes[node] = err
}

// FailType makes every reconcile of the given resource type fail with err.
func (s *Sim) FailType(resourceType string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTypes[resourceType] = err
}

// ClearFailures removes all injected failures.
func (s *Sim) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNodes = make(map[string]error)
	s.failTypes = make(map[string]error)
}

// ReconcileCount reports how many times the given node has been reconciled.
func (s *Sim) ReconcileCount(node string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciled[node]
}

// Destroyed returns the node IDs destroyed so far, in destruction order.
func (s *Sim) Destroyed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.destroyed))
	copy(out, s.destroyed)
	return out
}

// Reset clears all recorded activity and injected failures.
func (s *Sim) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNodes = make(map[string]error)
	s.failTypes = make(map[string]error)
	s.reconciled = make(map[string]int)
	s.destroyed = nil
}

func (s *Sim) Reconcile(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.reconciled[req.Node]++
	if err, ok := s.failNodes[req.Node]; ok {
		s.mu.Unlock()
		return nil, err
	}
	if err, ok := s.failTypes[req.Type]; ok {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	id := s.resourceID(req)
	outputs := map[string]interface{}{
		"id": id,
	}
	if name, ok := req.Attributes["name"].(string); ok && name != "" {
		outputs["name"] = name
	}

	switch req.Type {
	case "image-repository":
		outputs["url"] = fmt.Sprintf("%s.registry.internal/%s", id, attrString(req.Attributes, "name", req.Module))
	case "managed-cluster":
		outputs["endpoint"] = fmt.Sprintf("https://%s.cluster.internal", id)
	case "iam-role":
		outputs["arn"] = fmt.Sprintf("arn:sim:iam::role/%s", id)
	}

	return &provider.Result{Outputs: outputs}, nil
}

func (s *Sim) Destroy(ctx context.Context, req provider.Request) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failNodes[req.Node]; ok {
		return err
	}
	s.destroyed = append(s.destroyed, req.Node)
	return nil
}

func (s *Sim) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resourceID derives a stable ID from node identity. Hashing the node ID
// instead of generating randomness keeps repeated applies convergent.
func (s *Sim) resourceID(req provider.Request) string {
	prefix, ok := idPrefixes[req.Type]
	if !ok {
		prefix = "res"
	}

	h := fnv.New64a()
	h.Write([]byte(req.Node))
	return fmt.Sprintf("%s-%08x", prefix, h.Sum64()&0xffffffff)
}

func attrString(attrs map[string]interface{}, key, fallback string) string {
	if v, ok := attrs[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

var _ provider.Provider = (*Sim)(nil)
