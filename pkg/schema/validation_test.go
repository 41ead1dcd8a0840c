package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
	assert.Empty(t, r.Jobs())
}

func TestValidationResult_AddJobError(t *testing.T) {
	r := &ValidationResult{}
	r.AddJobError("load", "jobs[2].depends_on[0]", ErrCodeValidation, `unknown dependency "stage"`)

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	issue := r.Errors[0]
	assert.Equal(t, "jobs[2].depends_on[0]", issue.Path)
	assert.Equal(t, "load", issue.Job)
	assert.Equal(t, ErrCodeValidation, issue.Code)
	assert.Equal(t, SeverityError, issue.Severity)
}

func TestValidationResult_WarningsStayValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddJobWarning("load", "jobs[2].depends_on[1]", ErrCodeValidation, "dependency listed twice")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Nil(t, r.ToError())
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "name is required")
	r1.AddJobWarning("a", "jobs[0]", ErrCodeValidation, "warn")

	r2 := &ValidationResult{}
	r2.AddJobError("b", "jobs", ErrCodeCycleDetected, "cycle")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
	assert.Equal(t, []string{"b"}, r1.Jobs())
}

func TestValidationResult_Jobs(t *testing.T) {
	r := &ValidationResult{}
	r.AddJobError("load", "jobs[2]", ErrCodeValidation, "x")
	r.AddJobError("extract", "jobs[0]", ErrCodeValidation, "y")
	r.AddJobError("load", "jobs[2]", ErrCodeValidation, "z")
	r.AddError("/", ErrCodeValidation, "conf level")

	assert.Equal(t, []string{"extract", "load"}, r.Jobs())
}

func TestValidationResult_ToError_Single(t *testing.T) {
	r := &ValidationResult{}
	r.AddJobError("load", "jobs[2].depends_on[0]", ErrCodeValidation, "unknown dependency")

	err := r.ToError()
	var wfErr *Error
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, ErrCodeValidation, wfErr.Code)
	assert.Equal(t, "unknown dependency", wfErr.Message)
	assert.Equal(t, "load", wfErr.Job)
	assert.Equal(t, 1, wfErr.Details["error_count"])
	assert.Equal(t, []string{"load"}, wfErr.Details["jobs"])
}

func TestValidationResult_ToError_SharedCode(t *testing.T) {
	r := &ValidationResult{}
	r.AddJobError("a", "jobs", ErrCodeCycleDetected, "cycle")
	r.AddJobError("b", "jobs", ErrCodeCycleDetected, "cycle")

	err := r.ToError()
	assert.True(t, HasCode(err, ErrCodeCycleDetected))
	assert.Contains(t, err.Error(), "2 errors")
}

func TestValidationResult_ToError_MixedCodes(t *testing.T) {
	r := &ValidationResult{}
	r.AddJobError("a", "jobs", ErrCodeCycleDetected, "cycle")
	r.AddError("/", ErrCodeValidation, "name is required")
	r.AddJobWarning("a", "jobs[0]", ErrCodeValidation, "warn")

	var wfErr *Error
	require.ErrorAs(t, r.ToError(), &wfErr)
	assert.Equal(t, ErrCodeValidation, wfErr.Code)
	assert.Equal(t, 2, wfErr.Details["error_count"])
	assert.Equal(t, 1, wfErr.Details["warning_count"])
}
