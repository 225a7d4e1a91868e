package module

import (
	"github.com/zclconf/go-cty/cty"
)

func init() {
	register(registryDefinition())
}

// registryDefinition produces a single image repository with mutable
// tagging and scan-on-push enabled.
//
// Outputs: repository_url.
func registryDefinition() *Definition {
	return &Definition{
		Kind: KindRegistry,
		Inputs: []Parameter{
			{Name: "name", Type: cty.String},
		},
		compose: func(b *builder, in Inputs) error {
			name, err := in.String("name")
			if err != nil {
				return err
			}

			repository := b.resource(TypeImageRepository, "main", map[string]interface{}{
				"name":                 name,
				"image_tag_mutability": "MUTABLE",
				"scan_on_push":         true,
			})

			b.output("repository_url", repository.Ref("url"))
			return nil
		},
	}
}
