// Package diagram renders a workflow's job graph coloured by job stage.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindJob   NodeKind = "job"
	NodeKindStart NodeKind = "start"
	NodeKindEnd   NodeKind = "end"
)

// Virtual node IDs framing the job graph.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title    string
	RunState string
	Nodes    []*Node
	Edges    []Edge
	Levels   [][]string
}

// Node is one job, or one of the virtual start and end nodes.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the tracked stage of a job.
type StatusOverlay struct {
	Stage string
}

// Edge points from a dependency to its dependent.
type Edge struct {
	From string
	To   string
}
