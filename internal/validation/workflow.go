package validation

import "github.com/rendis/wfstatus/pkg/schema"

// WorkflowValidator runs the three-stage pipeline:
// 1. Structural (JSON Schema, plus the optional metadata schema)
// 2. References (duplicate names, unknown dependencies)
// 3. DAG (cycles)
type WorkflowValidator struct {
	jsonSchema     *JSONSchemaValidator
	metadataSchema []byte
}

// NewWorkflowValidator creates a WorkflowValidator. metadataSchema may be
// empty to accept any metadata object.
func NewWorkflowValidator(metadataSchema []byte) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, metadataSchema: metadataSchema}, nil
}

// Validate runs every stage and returns the aggregated result.
// Structural errors short-circuit the later stages.
func (wv *WorkflowValidator) Validate(conf *schema.WorkflowConf) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if conf == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow conf is nil")
		return result
	}

	result.Merge(issuesOf(wv.jsonSchema.ValidateConf(conf), "/"))
	result.Merge(issuesOf(wv.jsonSchema.ValidateMetadata(conf.Metadata, wv.metadataSchema), "/metadata"))
	if !result.Valid() {
		return result
	}

	result.Merge(validateReferences(conf))
	if result.Valid() {
		result.Merge(validateDAG(conf))
	}
	return result
}

// ValidateConf satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateConf(conf *schema.WorkflowConf) error {
	return wv.Validate(conf).ToError()
}

// issuesOf turns a structural error into result entries, one per violation.
func issuesOf(err error, path string) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}
	se, ok := err.(*schema.Error)
	if !ok {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := se.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError(path, schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError(path, schema.ErrCodeValidation, se.Message)
	return result
}
