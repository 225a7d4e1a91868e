package environment

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Parser parses environment definition files.
//
// The format is a sequence of labeled blocks, one per environment:
//
//	environment "dev" {
//	  cidr_block          = "10.0.0.0/16"
//	  public_subnet_cidrs = ["10.0.1.0/24", "10.0.2.0/24"]
//	  availability_zones  = ["us-east-1a", "us-east-1b"]
//	  node_count          = 2
//	}
type Parser struct {
	parser *hclparse.Parser
}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{parser: hclparse.NewParser()}
}

// Parse parses an environment definition from the given file path.
func (p *Parser) Parse(path string) (*Schema, hcl.Diagnostics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseBytes(data, path)
}

// ParseBytes parses an environment definition from raw bytes.
func (p *Parser) ParseBytes(data []byte, filename string) (*Schema, hcl.Diagnostics, error) {
	file, diags := p.parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}

	bodySchema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "environment", LabelNames: []string{"name"}},
		},
	}

	content, moreDiags := file.Body.Content(bodySchema)
	diags = append(diags, moreDiags...)
	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("invalid environment definition: %s", diags.Error())
	}

	schema := NewSchema()
	for _, block := range content.Blocks.OfType("environment") {
		def, blockDiags := p.parseEnvironment(block)
		diags = append(diags, blockDiags...)
		if def == nil {
			continue
		}
		if _, exists := schema.byName[def.Name]; exists {
			return nil, diags, fmt.Errorf("environment %q defined twice", def.Name)
		}
		schema.Environments = append(schema.Environments, def)
		schema.byName[def.Name] = def
	}

	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("invalid environment definition: %s", diags.Error())
	}

	if err := schema.Validate(); err != nil {
		return nil, diags, err
	}

	return schema, diags, nil
}

func (p *Parser) parseEnvironment(block *hcl.Block) (*Definition, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	attrs, moreDiags := block.Body.JustAttributes()
	diags = append(diags, moreDiags...)

	def := &Definition{
		Name:   block.Labels[0],
		Params: make(map[string]cty.Value),
	}

	for name, attr := range attrs {
		value, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if valDiags.HasErrors() {
			continue
		}
		def.Params[name] = value
	}

	return def, diags
}
