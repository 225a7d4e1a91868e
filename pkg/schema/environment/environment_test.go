package environment

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestBuiltin(t *testing.T) {
	schema := Builtin()

	assert.Equal(t, []string{"dev", "prod", "stage"}, schema.Names())

	nodeCounts := map[string]int64{"dev": 2, "stage": 3, "prod": 4}
	for env, want := range nodeCounts {
		def, ok := schema.Get(env)
		require.True(t, ok, "environment %s missing", env)

		count, _ := def.Params["node_count"].AsBigFloat().Int64()
		assert.Equal(t, want, count, "node_count for %s", env)
	}
}

func TestBuiltin_NonOverlappingCIDRs(t *testing.T) {
	schema := Builtin()

	var networks []*net.IPNet
	for _, def := range schema.Environments {
		_, ipnet, err := net.ParseCIDR(def.Params["cidr_block"].AsString())
		require.NoError(t, err, "environment %s", def.Name)
		networks = append(networks, ipnet)
	}

	for i := 0; i < len(networks); i++ {
		for j := i + 1; j < len(networks); j++ {
			overlap := networks[i].Contains(networks[j].IP) || networks[j].Contains(networks[i].IP)
			assert.False(t, overlap, "%s and %s overlap", networks[i], networks[j])
		}
	}
}

func TestBuiltin_SubnetsMatchZones(t *testing.T) {
	schema := Builtin()

	for _, def := range schema.Environments {
		subnets := def.Params["public_subnet_cidrs"]
		zones := def.Params["availability_zones"]
		assert.Equal(t, subnets.LengthInt(), zones.LengthInt(),
			"environment %s declares mismatched subnet and zone lists", def.Name)
	}
}

func TestSchema_Store(t *testing.T) {
	store := Builtin().Store()

	v, err := store.Get("dev", "cidr_block")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/16", v.AsString())

	v, err = store.Get("prod", "node_count")
	require.NoError(t, err)
	count, _ := v.AsBigFloat().Int64()
	assert.Equal(t, int64(4), count)

	// The store is returned unfrozen so callers can layer overrides
	assert.NoError(t, store.Set("dev", "cluster_name", cty.StringVal("custom")))
}

func TestSchema_Validate(t *testing.T) {
	good := NewSchema(&Definition{
		Name: "dev",
		Params: map[string]cty.Value{
			"cidr_block": cty.StringVal("10.0.0.0/16"),
			"node_count": cty.NumberIntVal(2),
			"zones":      cty.ListVal([]cty.Value{cty.StringVal("us-east-1a")}),
		},
	})
	assert.NoError(t, good.Validate())

	bad := NewSchema(&Definition{
		Name: "dev",
		Params: map[string]cty.Value{
			"flag": cty.BoolVal(true),
		},
	})
	assert.Error(t, bad.Validate())

	badList := NewSchema(&Definition{
		Name: "dev",
		Params: map[string]cty.Value{
			"mixed": cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.NumberIntVal(1)}),
		},
	})
	assert.Error(t, badList.Validate())
}

func TestSchema_Get(t *testing.T) {
	schema := Builtin()

	_, ok := schema.Get("dev")
	assert.True(t, ok)

	_, ok = schema.Get("ghost")
	assert.False(t, ok)
}
