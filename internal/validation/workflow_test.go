package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/pkg/schema"
)

func etlConf() *schema.WorkflowConf {
	return &schema.WorkflowConf{
		Name: "nightly-etl",
		Jobs: []schema.JobConf{
			{Name: "extract"},
			{Name: "transform", DependsOn: []string{"extract"}},
			{Name: "load", DependsOn: []string{"transform"}},
		},
	}
}

// --- Interface compliance ---

func TestValidatorsImplementValidator(t *testing.T) {
	var _ Validator = (*WorkflowValidator)(nil)
	var _ Validator = (*JSONSchemaValidator)(nil)
}

// --- Full pipeline ---

func TestWorkflowValidator_Valid(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(etlConf())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, wv.ValidateConf(etlConf()))
}

func TestWorkflowValidator_NilConf(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_Structural(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		conf *schema.WorkflowConf
	}{
		{"missing name", &schema.WorkflowConf{Jobs: []schema.JobConf{{Name: "a"}}}},
		{"no jobs", &schema.WorkflowConf{Name: "wf"}},
		{"empty job name", &schema.WorkflowConf{Name: "wf", Jobs: []schema.JobConf{{Name: ""}}}},
		{"job name with space", &schema.WorkflowConf{Name: "wf", Jobs: []schema.JobConf{{Name: "bad name"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wv.ValidateConf(tt.conf)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestWorkflowValidator_StructuralShortCircuits(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	conf := &schema.WorkflowConf{Jobs: []schema.JobConf{
		{Name: "a", DependsOn: []string{"missing"}},
	}}
	result := wv.Validate(conf)
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.NotContains(t, issue.Message, "unknown dependency")
	}
}

func TestWorkflowValidator_DuplicateJob(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	conf := etlConf()
	conf.Jobs = append(conf.Jobs, schema.JobConf{Name: "extract"})

	result := wv.Validate(conf)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "jobs[3].name", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, `duplicate job name "extract"`)
}

func TestWorkflowValidator_UnknownDependency(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	conf := etlConf()
	conf.Jobs[2].DependsOn = []string{"transform", "publish"}

	result := wv.Validate(conf)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "jobs[2].depends_on[1]", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, "unknown dependency")
}

func TestWorkflowValidator_RepeatedDependencyWarns(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	conf := etlConf()
	conf.Jobs[1].DependsOn = []string{"extract", "extract"}

	result := wv.Validate(conf)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "jobs[1].depends_on[1]", result.Warnings[0].Path)
}

func TestWorkflowValidator_Cycle(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	conf := etlConf()
	conf.Jobs[0].DependsOn = []string{"load"}

	err = wv.ValidateConf(conf)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}

func TestWorkflowValidator_MetadataSchema(t *testing.T) {
	metaSchema := []byte(`{
		"type": "object",
		"required": ["owner"],
		"properties": {"owner": {"type": "string", "format": "email"}}
	}`)
	wv, err := NewWorkflowValidator(metaSchema)
	require.NoError(t, err)

	conf := etlConf()
	err = wv.ValidateConf(conf)
	require.Error(t, err, "metadata missing owner")

	conf.Metadata = map[string]any{"owner": "not-an-email"}
	require.Error(t, wv.ValidateConf(conf))

	conf.Metadata = map[string]any{"owner": "ops@example.com"}
	assert.NoError(t, wv.ValidateConf(conf))
}

func TestWorkflowValidator_BadMetadataSchema(t *testing.T) {
	wv, err := NewWorkflowValidator([]byte(`{not json`))
	require.NoError(t, err)

	err = wv.ValidateConf(etlConf())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestWorkflowValidator_Concurrent(t *testing.T) {
	wv, err := NewWorkflowValidator([]byte(`{"type":"object"}`))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, wv.ValidateConf(etlConf()))
		}()
	}
	wg.Wait()
}
