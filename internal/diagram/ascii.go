package diagram

import (
	"fmt"
	"strings"
)

// stageTag returns a short ASCII indicator for a job stage.
func stageTag(stage string) string {
	switch stage {
	case "prep":
		return "[PREP]"
	case "submitted":
		return "[SUB]"
	case "running":
		return "[RUN]"
	case "finished":
		return "[DONE]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as boxes, one row per dependency level.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		title := model.Title
		if model.RunState != "" {
			title += " (" + model.RunState + ")"
		}
		fmt.Fprintf(&b, "=== %s ===\n\n", title)
	}

	index := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		index[n.ID] = n
	}

	for i, level := range model.Levels {
		var boxes []asciiBox
		for _, id := range level {
			if node, ok := index[id]; ok {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if i < len(model.Levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := []string{node.Label}
	if node.Status != nil {
		if tag := stageTag(node.Status.Stage); tag != "" {
			content = append(content, tag)
		}
	}

	inner := 0
	for _, line := range content {
		inner = max(inner, len(line))
	}
	width := inner + 4

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, line := range content {
		lines = append(lines, "│ "+line+strings.Repeat(" ", inner-len(line))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := range height {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
