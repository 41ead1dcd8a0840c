package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaid_Linear(t *testing.T) {
	model, err := Build(linearConf(), nil)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.True(t, strings.HasPrefix(output, "graph TD\n"))
	assert.Contains(t, output, "%% ETL Pipeline\n")
	assert.Contains(t, output, `extract["extract"]`)
	assert.Contains(t, output, `__start__(("Start"))`)
	assert.Contains(t, output, `__end__(("End"))`)
	assert.Contains(t, output, "extract --> transform")
	assert.Contains(t, output, "load --> __end__")

	for _, stage := range []string{"prep", "submitted", "running", "finished"} {
		assert.Contains(t, output, "classDef "+stage+" ")
	}
	assert.NotContains(t, output, "    class ")
}

func TestRenderMermaid_StageClasses(t *testing.T) {
	model, err := Build(linearConf(), trackedSnapshot(t))
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, "%% ETL Pipeline [RUNNING]")
	assert.Contains(t, output, "class extract finished")
	assert.Contains(t, output, "class transform running")
	assert.Contains(t, output, "class load prep")
}

func TestRenderMermaid_SafeIDs(t *testing.T) {
	model, err := Build(diamondConf(), nil)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, `left_part["left.part"]`)
	assert.Contains(t, output, "right_part --> join")
}
