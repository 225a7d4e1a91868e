package sim

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/opsforge/envctl/pkg/provider"
)

func TestReconcile_DeterministicIDs(t *testing.T) {
	ctx := context.Background()
	s := New()

	req := provider.Request{
		Node:   "network/network/main",
		Type:   "network",
		Name:   "main",
		Module: "network",
	}

	first, err := s.Reconcile(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.Reconcile(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Outputs["id"] != second.Outputs["id"] {
		t.Errorf("IDs should be stable across calls: %v vs %v",
			first.Outputs["id"], second.Outputs["id"])
	}
	if !strings.HasPrefix(first.Outputs["id"].(string), "net-") {
		t.Errorf("network ID should carry the net prefix: %v", first.Outputs["id"])
	}
}

func TestReconcile_TypeOutputs(t *testing.T) {
	ctx := context.Background()
	s := New()

	repo, err := s.Reconcile(ctx, provider.Request{
		Node:       "registry/image-repository/main",
		Type:       "image-repository",
		Name:       "main",
		Module:     "registry",
		Attributes: map[string]interface{}{"name": "dev-apps"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	url := repo.Outputs["url"].(string)
	if !strings.HasPrefix(url, "repo-") || !strings.HasSuffix(url, ".registry.internal/dev-apps") {
		t.Errorf("unexpected repository URL: %s", url)
	}

	cluster, err := s.Reconcile(ctx, provider.Request{
		Node:       "cluster/managed-cluster/main",
		Type:       "managed-cluster",
		Name:       "main",
		Module:     "cluster",
		Attributes: map[string]interface{}{"name": "dev-cluster"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cluster.Outputs["name"] != "dev-cluster" {
		t.Errorf("declared name should be echoed: %v", cluster.Outputs["name"])
	}
	if _, ok := cluster.Outputs["endpoint"].(string); !ok {
		t.Error("managed cluster should report an endpoint")
	}

	role, err := s.Reconcile(ctx, provider.Request{
		Node:       "cluster/iam-role/cluster",
		Type:       "iam-role",
		Name:       "cluster",
		Module:     "cluster",
		Attributes: map[string]interface{}{"name": "dev-cluster-role"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(role.Outputs["arn"].(string), "arn:sim:iam::role/") {
		t.Errorf("unexpected role ARN: %v", role.Outputs["arn"])
	}
}

func TestFailNode(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := fmt.Errorf("boom")
	s.FailNode("network/network/main", boom)

	_, err := s.Reconcile(ctx, provider.Request{Node: "network/network/main", Type: "network"})
	if err != boom {
		t.Errorf("expected injected error, got %v", err)
	}

	// Other nodes are unaffected
	if _, err := s.Reconcile(ctx, provider.Request{Node: "network/gateway/main", Type: "gateway"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	s.ClearFailures()
	if _, err := s.Reconcile(ctx, provider.Request{Node: "network/network/main", Type: "network"}); err != nil {
		t.Errorf("failure should be cleared: %v", err)
	}
}

func TestFailType(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := fmt.Errorf("boom")
	s.FailType("subnet", boom)

	_, err := s.Reconcile(ctx, provider.Request{Node: "network/subnet/public-0", Type: "subnet"})
	if err != boom {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestReconcileCountAndDestroyed(t *testing.T) {
	ctx := context.Background()
	s := New()

	req := provider.Request{Node: "network/network/main", Type: "network"}
	s.Reconcile(ctx, req)
	s.Reconcile(ctx, req)

	if n := s.ReconcileCount("network/network/main"); n != 2 {
		t.Errorf("ReconcileCount = %d, want 2", n)
	}

	s.Destroy(ctx, provider.Request{Node: "a"})
	s.Destroy(ctx, provider.Request{Node: "b"})

	destroyed := s.Destroyed()
	if len(destroyed) != 2 || destroyed[0] != "a" || destroyed[1] != "b" {
		t.Errorf("unexpected destroy order: %v", destroyed)
	}

	s.Reset()
	if s.ReconcileCount("network/network/main") != 0 || len(s.Destroyed()) != 0 {
		t.Error("Reset should clear recorded activity")
	}
}

func TestLatency_HonorsContext(t *testing.T) {
	s := New()
	s.Latency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Reconcile(ctx, provider.Request{Node: "network/network/main", Type: "network"})
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	p, err := provider.Get("sim")
	if err != nil {
		t.Fatalf("sim provider should self-register: %v", err)
	}
	if p.Name() != "sim" {
		t.Errorf("unexpected provider name: %s", p.Name())
	}

	if _, err := provider.Get("nonexistent"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
