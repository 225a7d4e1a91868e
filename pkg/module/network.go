package module

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/opsforge/envctl/pkg/errors"
)

func init() {
	register(networkDefinition())
}

// networkDefinition produces one network, N public subnets spread across
// the supplied availability zones, a gateway, and a route table sending
// 0.0.0.0/0 through the gateway with one association per subnet.
//
// Outputs: network_id, public_subnet_ids (ordered to match the CIDR list).
func networkDefinition() *Definition {
	return &Definition{
		Kind: KindNetwork,
		Inputs: []Parameter{
			{Name: "cidr_block", Type: cty.String},
			{Name: "public_subnet_cidrs", Type: cty.List(cty.String)},
			{Name: "availability_zones", Type: cty.List(cty.String)},
		},
		compose: func(b *builder, in Inputs) error {
			cidr, err := in.String("cidr_block")
			if err != nil {
				return err
			}
			subnetCIDRs, err := in.StringList("public_subnet_cidrs")
			if err != nil {
				return err
			}
			zones, err := in.StringList("availability_zones")
			if err != nil {
				return err
			}

			if len(subnetCIDRs) != len(zones) {
				return errors.SubnetZoneMismatch(b.instance, len(subnetCIDRs), len(zones))
			}

			network := b.resource(TypeNetwork, "main", map[string]interface{}{
				"cidr_block": cidr,
			})

			gateway := b.resource(TypeGateway, "main", map[string]interface{}{
				"network_id": network.Ref("id"),
			})

			routeTable := b.resource(TypeRouteTable, "public", map[string]interface{}{
				"network_id":       network.Ref("id"),
				"destination_cidr": "0.0.0.0/0",
				"gateway_id":       gateway.Ref("id"),
			})

			subnetIDs := make([]interface{}, 0, len(subnetCIDRs))
			for i := range subnetCIDRs {
				subnet := b.resource(TypeSubnet, fmt.Sprintf("public-%d", i), map[string]interface{}{
					"network_id":        network.Ref("id"),
					"cidr_block":        subnetCIDRs[i],
					"availability_zone": zones[i],
				})

				b.resource(TypeRouteTableAssociation, fmt.Sprintf("public-%d", i), map[string]interface{}{
					"subnet_id":      subnet.Ref("id"),
					"route_table_id": routeTable.Ref("id"),
				})

				subnetIDs = append(subnetIDs, subnet.Ref("id"))
			}

			b.output("network_id", network.Ref("id"))
			b.output("public_subnet_ids", subnetIDs)
			return nil
		},
	}
}
