package expressions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/pkg/schema"
)

func TestEngines_Get(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	for lang, name := range map[string]string{"": "cel", "cel": "cel", "expr": "expr", "jq": "jq"} {
		e, err := engines.Get(lang)
		require.NoError(t, err)
		assert.Equal(t, name, e.Name())
	}

	_, err = engines.Get("lua")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestMatch_NonBoolean(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	_, err = Match(context.Background(), engines.CEL, "workflow.seq", runningDoc())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestEventDocument(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := EventDocument(&store.Event{
		ID: 9, WorkflowID: "workflow_jt_0001", Type: schema.EventFailureInfoSet,
		Payload: json.RawMessage(`{"failure_info":"oom"}`), Timestamp: ts, Sequence: 4,
	})
	assert.Equal(t, "2026-01-02T03:04:05Z", doc["timestamp"])
	assert.Equal(t, map[string]any{"failure_info": "oom"}, doc["payload"])

	engines, err := NewEngines()
	require.NoError(t, err)
	ok, err := Match(context.Background(), engines.CEL,
		`event.type == "failure_info_set" && event.payload.failure_info == "oom" && event.sequence == 4`,
		Root(RootEvent, doc))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSnapshotDocument(t *testing.T) {
	doc := SnapshotDocument(&store.Snapshot{
		ID: 1, WorkflowID: "workflow_jt_0001", RunState: schema.RunStateSucceeded,
		Finished: true, Data: []byte{1, 2, 3},
	})
	assert.Equal(t, int64(3), doc["size"])
	assert.NotContains(t, doc, "data")

	engines, err := NewEngines()
	require.NoError(t, err)
	ok, err := Match(context.Background(), engines.Expr, `snapshot.finished && snapshot.run_state == "SUCCEEDED"`,
		Root(RootSnapshot, doc))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordDocument(t *testing.T) {
	doc := RecordDocument(&store.Workflow{
		ID: "workflow_jt_0003", Tracker: "jt", Seq: 3, Name: "etl",
		Conf:     schema.WorkflowConf{Name: "etl", Jobs: []schema.JobConf{{Name: "a"}, {Name: "b"}}},
		RunState: schema.RunStateFailed, FailureInfo: "oom", SubmissionTime: 100,
	})
	assert.Equal(t, int64(3), doc["seq"])
	assert.Equal(t, int64(2), doc["total_jobs"])
	assert.Equal(t, true, doc["finished"])

	engines, err := NewEngines()
	require.NoError(t, err)
	ok, err := Match(context.Background(), engines.CEL,
		`workflow.run_state == "FAILED" && workflow.total_jobs > 1 && workflow.failure_info != "NA"`,
		Root(RootWorkflow, doc))
	require.NoError(t, err)
	assert.True(t, ok)
}
