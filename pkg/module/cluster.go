package module

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/opsforge/envctl/pkg/errors"
)

func init() {
	register(clusterDefinition())
}

// clusterDefinition produces a managed cluster over the supplied subnets,
// a node pool scaling between node_count and node_count+2, the cluster and
// node IAM roles with one policy attachment each, and the cluster security
// group.
//
// The security group permits unrestricted ingress and egress. That default
// is inherited from the original scaffold and is surfaced as a non-fatal
// PolicyWarning rather than silently accepted.
//
// Outputs: cluster_name.
func clusterDefinition() *Definition {
	return &Definition{
		Kind: KindCluster,
		Inputs: []Parameter{
			{Name: "name", Type: cty.String},
			{Name: "network_id", Type: cty.String},
			{Name: "subnet_ids", Type: cty.List(cty.String)},
			{Name: "node_count", Type: cty.Number},
		},
		compose: func(b *builder, in Inputs) error {
			name, err := in.String("name")
			if err != nil {
				return err
			}
			nodeCount, err := in.Int("node_count")
			if err != nil {
				return err
			}
			networkID := in.Value("network_id")
			subnetIDs := in.Value("subnet_ids")

			clusterRole := b.resource(TypeIAMRole, "cluster", map[string]interface{}{
				"name":    name + "-cluster-role",
				"service": "cluster.provisioner.internal",
			})

			clusterAttachment := b.resource(TypeIAMPolicyAttachment, "cluster", map[string]interface{}{
				"role":   clusterRole.Ref("name"),
				"policy": "managed-cluster-policy",
			})

			nodeRole := b.resource(TypeIAMRole, "node", map[string]interface{}{
				"name":    name + "-node-role",
				"service": "nodes.provisioner.internal",
			})

			nodeAttachment := b.resource(TypeIAMPolicyAttachment, "node", map[string]interface{}{
				"role":   nodeRole.Ref("name"),
				"policy": "node-pool-policy",
			})

			securityGroup := b.resource(TypeSecurityGroup, "cluster", map[string]interface{}{
				"name":         name + "-cluster-sg",
				"network_id":   networkID,
				"ingress_cidr": "0.0.0.0/0",
				"egress_cidr":  "0.0.0.0/0",
			})
			b.warn(errors.PolicyWarning(securityGroup.ID(),
				"cluster security group permits unrestricted ingress and egress"))

			cluster := b.resource(TypeManagedCluster, "main", map[string]interface{}{
				"name":              name,
				"network_id":        networkID,
				"subnet_ids":        subnetIDs,
				"role":              clusterRole.Ref("name"),
				"security_group_id": securityGroup.Ref("id"),
			}, clusterAttachment)

			b.resource(TypeNodePool, "default", map[string]interface{}{
				"cluster_name": cluster.Ref("name"),
				"role":         nodeRole.Ref("name"),
				"subnet_ids":   subnetIDs,
				"min_size":     nodeCount,
				"max_size":     nodeCount + 2,
			}, nodeAttachment)

			b.output("cluster_name", cluster.Ref("name"))
			return nil
		},
	}
}
