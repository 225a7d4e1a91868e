package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDefinition = `
environment "dev" {
  region              = "us-east-1"
  cidr_block          = "10.0.0.0/16"
  public_subnet_cidrs = ["10.0.1.0/24", "10.0.2.0/24"]
  availability_zones  = ["us-east-1a", "us-east-1b"]
  node_count          = 2
}

environment "prod" {
  region              = "us-east-1"
  cidr_block          = "10.2.0.0/16"
  public_subnet_cidrs = ["10.2.1.0/24", "10.2.2.0/24"]
  availability_zones  = ["us-east-1a", "us-east-1b"]
  node_count          = 4
}
`

func TestParseBytes(t *testing.T) {
	schema, diags, err := NewParser().ParseBytes([]byte(validDefinition), "envs.hcl")
	require.NoError(t, err)
	assert.False(t, diags.HasErrors())

	assert.Equal(t, []string{"dev", "prod"}, schema.Names())

	dev, ok := schema.Get("dev")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/16", dev.Params["cidr_block"].AsString())
	assert.Equal(t, 2, dev.Params["public_subnet_cidrs"].LengthInt())

	count, _ := dev.Params["node_count"].AsBigFloat().Int64()
	assert.Equal(t, int64(2), count)
}

func TestParseBytes_DuplicateEnvironment(t *testing.T) {
	input := `
environment "dev" {
  cidr_block = "10.0.0.0/16"
}

environment "dev" {
  cidr_block = "10.1.0.0/16"
}
`
	_, _, err := NewParser().ParseBytes([]byte(input), "envs.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined twice")
}

func TestParseBytes_InvalidSyntax(t *testing.T) {
	_, diags, err := NewParser().ParseBytes([]byte(`environment "dev" {`), "envs.hcl")
	require.Error(t, err)
	assert.True(t, diags.HasErrors())
}

func TestParseBytes_UnsupportedType(t *testing.T) {
	input := `
environment "dev" {
  cidr_block = "10.0.0.0/16"
  debug      = true
}
`
	_, _, err := NewParser().ParseBytes([]byte(input), "envs.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestParseBytes_UnknownBlock(t *testing.T) {
	input := `
datacenter "dev" {
  cidr_block = "10.0.0.0/16"
}
`
	_, _, err := NewParser().ParseBytes([]byte(input), "envs.hcl")
	require.Error(t, err)
}

func TestParse_MissingFile(t *testing.T) {
	_, _, err := NewParser().Parse("/nonexistent/envs.hcl")
	require.Error(t, err)
}
