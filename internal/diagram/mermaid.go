package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/wfstatus/pkg/schema"
)

var stageClassDefs = []struct {
	stage schema.Stage
	style string
}{
	{schema.StagePrep, "fill:#6b6b6b,stroke:#4a4a4a,color:#fff"},
	{schema.StageSubmitted, "fill:#b7791a,stroke:#8a5c14,color:#fff"},
	{schema.StageRunning, "fill:#1a5276,stroke:#0e3a52,color:#fff"},
	{schema.StageFinished, "fill:#2d6a2d,stroke:#1a4a1a,color:#fff"},
}

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		title := model.Title
		if model.RunState != "" {
			title += " [" + model.RunState + "]"
		}
		fmt.Fprintf(&b, "    %%%% %s\n", title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidSafeID(edge.From), mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	for _, def := range stageClassDefs {
		fmt.Fprintf(&b, "    classDef %s %s\n", def.stage, def.style)
	}

	for _, node := range model.Nodes {
		if node.Status == nil || node.Status.Stage == "" {
			continue
		}
		fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), node.Status.Stage)
	}

	return b.String()
}

func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	switch node.Kind {
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, node.Label)
	default:
		return fmt.Sprintf("%s[%q]", id, node.Label)
	}
}

// mermaidSafeID maps a job name onto Mermaid's identifier alphabet.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", ":", "_", " ", "_")
	return r.Replace(id)
}
