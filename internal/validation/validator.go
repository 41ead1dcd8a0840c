package validation

import "github.com/rendis/wfstatus/pkg/schema"

// Validator checks workflow configurations before a tracker is created for them.
type Validator interface {
	ValidateConf(conf *schema.WorkflowConf) error
}
