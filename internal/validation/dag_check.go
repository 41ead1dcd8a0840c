package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/wfstatus/pkg/schema"
)

// validateDAG reports a CYCLE_DETECTED error when the dependency graph has
// a cycle, one issue per job that can never leave prep because of it.
// Unknown references are ignored here; validateReferences reports them.
func validateDAG(conf *schema.WorkflowConf) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	order, ok := topoOrder(conf)
	if ok {
		return result
	}
	resolved := make(map[string]bool, len(order))
	for _, name := range order {
		resolved[name] = true
	}
	var blocked []string
	for name := range dependencyMap(conf) {
		if !resolved[name] {
			blocked = append(blocked, name)
		}
	}
	sort.Strings(blocked)
	for _, name := range blocked {
		result.AddJobError(name, "jobs", schema.ErrCodeCycleDetected,
			fmt.Sprintf("job %q is on or behind a dependency cycle", name))
	}
	return result
}

// Levels groups jobs by dependency depth using Kahn's algorithm: level 0
// holds jobs without dependencies, level n jobs whose deepest dependency is
// at level n-1. Names within a level are sorted. ok is false on a cycle.
func Levels(conf *schema.WorkflowConf) (levels [][]string, ok bool) {
	order, ok := topoOrder(conf)
	if !ok {
		return nil, false
	}
	deps := dependencyMap(conf)
	depth := make(map[string]int, len(order))
	for _, name := range order {
		d := 0
		for _, dep := range deps[name] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], name)
	}
	for _, l := range levels {
		sort.Strings(l)
	}
	return levels, true
}

// topoOrder returns the jobs in dependency order, or false on a cycle.
func topoOrder(conf *schema.WorkflowConf) ([]string, bool) {
	deps := dependencyMap(conf)
	dependents := make(map[string][]string, len(deps))
	inDegree := make(map[string]int, len(deps))
	for name, ds := range deps {
		inDegree[name] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], name)
		}
	}

	queue := make([]string, 0, len(deps))
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(deps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		next := dependents[node]
		sort.Strings(next)
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	return order, len(order) == len(deps)
}

// dependencyMap maps each job to its distinct, known dependencies.
func dependencyMap(conf *schema.WorkflowConf) map[string][]string {
	deps := make(map[string][]string, len(conf.Jobs))
	for _, j := range conf.Jobs {
		if _, ok := deps[j.Name]; !ok {
			deps[j.Name] = nil
		}
	}
	for _, j := range conf.Jobs {
		seen := make(map[string]bool, len(j.DependsOn))
		for _, d := range j.DependsOn {
			if _, known := deps[d]; !known || seen[d] {
				continue
			}
			seen[d] = true
			deps[j.Name] = append(deps[j.Name], d)
		}
	}
	return deps
}
