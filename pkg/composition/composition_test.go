package composition

import (
	"testing"

	"github.com/opsforge/envctl/pkg/errors"
	"github.com/opsforge/envctl/pkg/module"
)

func devSpecs() []InstanceSpec {
	return []InstanceSpec{
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
	}
}

func TestCompose(t *testing.T) {
	comp, err := Compose("dev", devSpecs(), map[string]Export{
		"ecr_repository_url": {Instance: "registry", Output: "repository_url"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(comp.Instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(comp.Instances))
	}

	cluster, ok := comp.Instance("cluster")
	if !ok {
		t.Fatal("cluster instance missing")
	}

	// The cluster's binding to the network's output must be wired through
	// to a reference into the network's backing resource.
	var sg *module.ResourceSpec
	for _, r := range cluster.Resources {
		if r.Type == module.TypeSecurityGroup {
			sg = r
		}
	}
	if sg == nil {
		t.Fatal("security group resource missing")
	}

	ref, ok := sg.Attributes["network_id"].(module.Reference)
	if !ok {
		t.Fatalf("network_id should be wired to a Reference, got %T", sg.Attributes["network_id"])
	}
	if ref.Node != "network/network/main" {
		t.Errorf("wired to wrong producer: %s", ref.Node)
	}

	// Warnings from instances bubble up to the composition
	if len(comp.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %d", len(comp.Warnings))
	}
}

func TestCompose_DanglingInput(t *testing.T) {
	specs := devSpecs()
	delete(specs[1].Inputs, "name")

	_, err := Compose("dev", specs, nil)
	if err == nil {
		t.Fatal("expected error for unbound input")
	}
	if !errors.Is(err, errors.ErrCodeDanglingInput) {
		t.Errorf("expected DANGLING_INPUT, got %v", err)
	}
}

func TestCompose_UnresolvedBinding_UnknownInstance(t *testing.T) {
	specs := devSpecs()
	specs[1].Inputs["network_id"] = module.FromOutput("nonexistent", "network_id")

	_, err := Compose("dev", specs, nil)
	if err == nil {
		t.Fatal("expected error for binding to unknown instance")
	}
	if !errors.Is(err, errors.ErrCodeUnresolvedBinding) {
		t.Errorf("expected UNRESOLVED_BINDING, got %v", err)
	}
}

func TestCompose_UnresolvedBinding_UnknownOutput(t *testing.T) {
	specs := devSpecs()
	specs[1].Inputs["network_id"] = module.FromOutput("network", "no_such_output")

	_, err := Compose("dev", specs, nil)
	if err == nil {
		t.Fatal("expected error for binding to unknown output")
	}
	if !errors.Is(err, errors.ErrCodeUnresolvedBinding) {
		t.Errorf("expected UNRESOLVED_BINDING, got %v", err)
	}
}

func TestCompose_DuplicateInstance(t *testing.T) {
	specs := devSpecs()
	specs = append(specs, specs[2])

	_, err := Compose("dev", specs, nil)
	if err == nil {
		t.Fatal("expected error for duplicate instance name")
	}
	if !errors.Is(err, errors.ErrCodeState) {
		t.Errorf("expected STATE_ERROR, got %v", err)
	}
}

func TestCompose_UnresolvableExport(t *testing.T) {
	_, err := Compose("dev", devSpecs(), map[string]Export{
		"bogus": {Instance: "registry", Output: "no_such_output"},
	})
	if err == nil {
		t.Fatal("expected error for unresolvable export")
	}
	if !errors.Is(err, errors.ErrCodeUnresolvedBinding) {
		t.Errorf("expected UNRESOLVED_BINDING, got %v", err)
	}
}

func TestComposition_ExportValue(t *testing.T) {
	comp, err := Compose("dev", devSpecs(), map[string]Export{
		"cluster_name": {Instance: "cluster", Output: "cluster_name"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, err := comp.ExportValue("cluster_name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref, ok := value.(module.Reference)
	if !ok {
		t.Fatalf("export should resolve to a Reference, got %T", value)
	}
	if ref.Node != "cluster/managed-cluster/main" {
		t.Errorf("unexpected export target: %s", ref.Node)
	}

	if _, err := comp.ExportValue("missing"); err == nil {
		t.Error("expected error for unknown export")
	}
}
