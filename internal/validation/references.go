package validation

import (
	"fmt"

	"github.com/rendis/wfstatus/pkg/schema"
)

// validateReferences checks job names are unique and every dependency names
// a configured job. Repeated dependencies are only a warning.
func validateReferences(conf *schema.WorkflowConf) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]int, len(conf.Jobs))
	for i, j := range conf.Jobs {
		if first, dup := names[j.Name]; dup {
			result.AddJobError(j.Name, fmt.Sprintf("jobs[%d].name", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate job name %q (first declared at jobs[%d])", j.Name, first))
			continue
		}
		names[j.Name] = i
	}

	for i, j := range conf.Jobs {
		seen := make(map[string]bool, len(j.DependsOn))
		for k, dep := range j.DependsOn {
			path := fmt.Sprintf("jobs[%d].depends_on[%d]", i, k)
			if _, ok := names[dep]; !ok {
				result.AddJobError(j.Name, path, schema.ErrCodeValidation,
					fmt.Sprintf("unknown dependency %q", dep))
				continue
			}
			if seen[dep] {
				result.AddJobWarning(j.Name, path, schema.ErrCodeValidation,
					fmt.Sprintf("dependency %q listed more than once", dep))
			}
			seen[dep] = true
		}
	}
	return result
}
