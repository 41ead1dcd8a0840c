package schema

// WorkflowConf is the JSON-serializable workflow configuration: a named
// collection of jobs and the dependencies between them.
type WorkflowConf struct {
	Name     string         `json:"name"`
	Jobs     []JobConf      `json:"jobs"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// JobConf describes a single job of a workflow.
type JobConf struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"` // job names that must finish first
}

// JobNames returns the configured job names in declaration order.
func (c *WorkflowConf) JobNames() []string {
	names := make([]string, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		names = append(names, j.Name)
	}
	return names
}

// HasJob reports whether name is a configured job.
func (c *WorkflowConf) HasJob(name string) bool {
	for _, j := range c.Jobs {
		if j.Name == name {
			return true
		}
	}
	return false
}
