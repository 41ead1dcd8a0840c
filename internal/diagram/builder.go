package diagram

import (
	"github.com/rendis/wfstatus/internal/validation"
	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// Build constructs a DiagramModel from a workflow conf and an optional
// tracker snapshot. Jobs the snapshot does not mention get no overlay.
func Build(conf *schema.WorkflowConf, sn *workflow.Snapshot) (*DiagramModel, error) {
	if conf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow conf is required")
	}
	levels, ok := validation.Levels(conf)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "diagram: workflow %q has a dependency cycle", conf.Name)
	}

	stages := stageIndex(sn)

	nodes := make([]*Node, 0, len(conf.Jobs)+2)
	nodes = append(nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, level := range levels {
		for _, name := range level {
			node := &Node{ID: name, Label: name, Kind: NodeKindJob}
			if stage, ok := stages[name]; ok {
				node.Status = &StatusOverlay{Stage: string(stage)}
			}
			nodes = append(nodes, node)
		}
	}
	nodes = append(nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	model := &DiagramModel{
		Title:  titleFromConf(conf),
		Nodes:  nodes,
		Edges:  buildEdges(conf),
		Levels: buildLevels(levels),
	}
	if sn != nil {
		model.RunState = string(sn.RunState)
	}
	return model, nil
}

func stageIndex(sn *workflow.Snapshot) map[string]schema.Stage {
	idx := make(map[string]schema.Stage)
	if sn == nil {
		return idx
	}
	for _, stage := range schema.Stages {
		for _, name := range sn.Jobs(stage) {
			idx[name] = stage
		}
	}
	return idx
}

// buildEdges adds start -> roots and leaves -> end around the dependency edges.
func buildEdges(conf *schema.WorkflowConf) []Edge {
	hasDependents := make(map[string]bool, len(conf.Jobs))
	for _, job := range conf.Jobs {
		for _, dep := range job.DependsOn {
			hasDependents[dep] = true
		}
	}

	var edges []Edge
	for _, job := range conf.Jobs {
		if len(job.DependsOn) == 0 {
			edges = append(edges, Edge{From: StartID, To: job.Name})
		}
	}
	for _, job := range conf.Jobs {
		for _, dep := range job.DependsOn {
			edges = append(edges, Edge{From: dep, To: job.Name})
		}
	}
	for _, job := range conf.Jobs {
		if !hasDependents[job.Name] {
			edges = append(edges, Edge{From: job.Name, To: EndID})
		}
	}
	return edges
}

func buildLevels(levels [][]string) [][]string {
	out := make([][]string, 0, len(levels)+2)
	out = append(out, []string{StartID})
	out = append(out, levels...)
	out = append(out, []string{EndID})
	return out
}

func titleFromConf(conf *schema.WorkflowConf) string {
	if conf.Name != "" {
		return conf.Name
	}
	return "Workflow"
}
