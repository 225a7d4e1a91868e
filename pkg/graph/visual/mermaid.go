// Package visual renders dependency graphs as Mermaid flowcharts. The
// output can be embedded in Markdown or rendered by any tool that supports
// Mermaid syntax.
package visual

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opsforge/envctl/pkg/graph"
)

// MermaidOptions controls how a graph is rendered.
type MermaidOptions struct {
	// GroupByModule uses subgraphs to group nodes by module instance.
	GroupByModule bool

	// Direction is the flowchart direction: "TD" (top-down) or "LR"
	// (left-right). Defaults to "TD" if empty.
	Direction string

	// Title is an optional diagram title.
	Title string
}

// RenderMermaid generates a Mermaid flowchart from a dependency graph.
func RenderMermaid(g *graph.Graph, opts MermaidOptions) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph is nil")
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return "", fmt.Errorf("failed to sort graph: %w", err)
	}

	var b strings.Builder

	if opts.Title != "" {
		b.WriteString(fmt.Sprintf("---\ntitle: %s\n---\n", opts.Title))
	}

	b.WriteString(fmt.Sprintf("flowchart %s\n", direction))

	displayIDs := make(map[string]string, len(sorted))
	for _, node := range sorted {
		displayIDs[node.ID] = sanitizeMermaidID(node.ID)
	}

	if opts.GroupByModule {
		renderGrouped(&b, sorted, displayIDs)
	} else {
		renderFlat(&b, sorted, displayIDs)
	}

	return b.String(), nil
}

func renderFlat(b *strings.Builder, sorted []*graph.Node, displayIDs map[string]string) {
	for _, node := range sorted {
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n",
			displayIDs[node.ID], escapeMermaidLabel(nodeLabel(node))))
	}

	b.WriteString("\n")
	renderEdges(b, sorted, displayIDs)
}

func renderGrouped(b *strings.Builder, sorted []*graph.Node, displayIDs map[string]string) {
	moduleNodes := make(map[string][]*graph.Node)
	var moduleOrder []string
	seen := make(map[string]bool)
	for _, node := range sorted {
		if !seen[node.Module] {
			seen[node.Module] = true
			moduleOrder = append(moduleOrder, node.Module)
		}
		moduleNodes[node.Module] = append(moduleNodes[node.Module], node)
	}

	for _, instance := range moduleOrder {
		b.WriteString(fmt.Sprintf("    subgraph %s [\"%s\"]\n",
			sanitizeMermaidID(instance), escapeMermaidLabel(instance)))
		for _, node := range moduleNodes[instance] {
			b.WriteString(fmt.Sprintf("        %s[\"%s\"]\n",
				displayIDs[node.ID], escapeMermaidLabel(nodeLabel(node))))
		}
		b.WriteString("    end\n\n")
	}

	renderEdges(b, sorted, displayIDs)
}

func renderEdges(b *strings.Builder, sorted []*graph.Node, displayIDs map[string]string) {
	for _, node := range sorted {
		deps := make([]string, len(node.DependsOn))
		copy(deps, node.DependsOn)
		sort.Strings(deps)

		for _, depID := range deps {
			if depDID, ok := displayIDs[depID]; ok {
				b.WriteString(fmt.Sprintf("    %s --> %s\n", depDID, displayIDs[node.ID]))
			}
		}
	}
}

// nodeLabel renders the human-readable node label: "type: name".
func nodeLabel(node *graph.Node) string {
	return fmt.Sprintf("%s: %s", node.Type, node.Name)
}

// sanitizeMermaidID converts a node ID like "network/subnet/public-0" into
// a Mermaid-safe identifier.
func sanitizeMermaidID(id string) string {
	replacer := strings.NewReplacer("/", "_", "-", "_", ".", "_", " ", "_")
	return replacer.Replace(id)
}

func escapeMermaidLabel(label string) string {
	return strings.ReplaceAll(label, "\"", "#quot;")
}
