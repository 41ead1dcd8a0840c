package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_Literals(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	out, err = e.Evaluate(context.Background(), `"a" + "b"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestCEL_WorkflowFilters(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	doc := runningDoc()

	tests := []struct {
		expr string
		want bool
	}{
		{`workflow.run_state == "RUNNING"`, true},
		{`workflow.id == "workflow_jt_0007"`, true},
		{`"transform" in workflow.running_jobs`, true},
		{`"load" in workflow.finished_jobs`, false},
		{`workflow.counts.prep == 1 && workflow.total_jobs == 3`, true},
		{`size(workflow.finished_jobs) > 0`, true},
		{`workflow.submission_time == -1`, true},
		{`workflow.finished`, false},
		{`workflow.name.startsWith("nightly")`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Match(context.Background(), e, tt.expr, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCEL_MissingDocumentDefaultsToEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(event) == 0`, runningDoc())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "workflow.run_state ==", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation), "compile error")

	_, err = e.Evaluate(context.Background(), "unknown_var == 1", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation), "undeclared variable")

	_, err = e.Evaluate(context.Background(), "workflow.nope == 1", runningDoc())
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution), "missing key")
}

func TestCEL_CachingConcurrent(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	doc := runningDoc()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := Match(context.Background(), e, `workflow.seq == 7`, doc)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	e.cache.mu.RLock()
	assert.Equal(t, 1, e.cache.len())
	e.cache.mu.RUnlock()
}
