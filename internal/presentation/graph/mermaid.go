package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// GraphOverlay contains run data to visualize on the graph.
type GraphOverlay struct {
	CompletedNodes []string
	FailedNode     string
}

// OverlayFromOutcome builds an overlay from a recorded run.
func OverlayFromOutcome(o *domain.Outcome) *GraphOverlay {
	if o == nil {
		return nil
	}
	overlay := &GraphOverlay{FailedNode: o.FailedNode}
	for _, h := range o.History {
		overlay.CompletedNodes = append(overlay.CompletedNodes, h.Node)
	}
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart from node descriptions.
// It applies semantic styling:
// - External input: ([Stadium])
// - Foreign node: [[Subroutine]]
// - Native node: [Rectangle]
// Edges are labelled with the name flowing along them.
// It also applies overlay styles (Completed/Failed) if provided.
func GenerateMermaid(nodes []domain.NodeInfo, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	producers := make(map[string]string)
	for _, node := range nodes {
		for _, out := range node.Outputs {
			producers[out] = node.Name
		}
	}

	// External inputs first, in order of first use.
	externals := make(map[string]bool)
	for _, node := range nodes {
		for _, in := range node.Inputs {
			if _, produced := producers[in]; produced || externals[in] {
				continue
			}
			externals[in] = true
			fmt.Fprintf(&sb, "    %s([\"%s\"])\n", inputID(in), escapeLabel(in))
		}
	}

	for _, node := range nodes {
		safeID := sanitizeMermaidID(node.Name)

		opener, closer := "[", "]"
		if node.Kind == domain.NodeKindForeign {
			opener, closer = "[[", "]]"
		}

		label := escapeLabel(node.Name)
		if node.Timeout != "" {
			label = fmt.Sprintf("%s <br/> ⏱️ %s", label, node.Timeout)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		for _, in := range node.Inputs {
			from := inputID(in)
			if producer, ok := producers[in]; ok {
				from = sanitizeMermaidID(producer)
			}
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, escapeLabel(in), safeID)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef completed fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, name := range overlay.CompletedNodes {
			safeID := sanitizeMermaidID(name)
			if !seen[safeID] && safeID != "" {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s completed;\n", safeID)
			}
		}
		if overlay.FailedNode != "" {
			fmt.Fprintf(&sb, "    class %s failed;\n", sanitizeMermaidID(overlay.FailedNode))
		}
	}

	return sb.String()
}

func inputID(name string) string {
	return "in_" + sanitizeMermaidID(name)
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
