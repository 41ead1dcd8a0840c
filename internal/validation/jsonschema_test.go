package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/pkg/schema"
)

func TestJSONSchemaValidator_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateConf(nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestJSONSchemaValidator_ErrorDetails(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateConf(&schema.WorkflowConf{Jobs: []schema.JobConf{{Name: "-bad"}}})
	require.Error(t, err)

	se, ok := err.(*schema.Error)
	require.True(t, ok)
	violations, ok := se.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2, "missing name and bad job name")
	for _, msg := range violations {
		assert.True(t, msg[0] == '/', "violation %q should start with its location", msg)
	}
}

func TestJSONSchemaValidator_MetadataCache(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	s := []byte(`{"type":"object","properties":{"retries":{"type":"integer","minimum":0}}}`)
	require.NoError(t, v.ValidateMetadata(map[string]any{"retries": 3}, s))
	require.Error(t, v.ValidateMetadata(map[string]any{"retries": -1}, s))

	v.mu.RLock()
	assert.Len(t, v.cache, 1)
	v.mu.RUnlock()

	assert.NoError(t, v.ValidateMetadata(nil, nil))
}
