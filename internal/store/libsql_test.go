package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func testConf() schema.WorkflowConf {
	return schema.WorkflowConf{
		Name: "nightly-etl",
		Jobs: []schema.JobConf{
			{Name: "extract"},
			{Name: "transform", DependsOn: []string{"extract"}},
			{Name: "load", DependsOn: []string{"transform"}},
		},
	}
}

func seedWorkflow(t *testing.T, s *LibSQLStore, seq int32) *Workflow {
	t.Helper()
	wf := &Workflow{
		ID:      fmt.Sprintf("workflow_jt_%04d", seq),
		Tracker: "jt",
		Seq:     seq,
		Name:    "nightly-etl",
		Conf:    testConf(),
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

// --- Migration Tests ---

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment;\nCREATE INDEX i ON a (x);")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)
}

// --- Workflow Tests ---

func TestCreateAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, 1)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "workflow_jt_0001", got.ID)
	assert.Equal(t, "jt", got.Tracker)
	assert.Equal(t, int32(1), got.Seq)
	assert.Equal(t, schema.RunStatePrep, got.RunState)
	assert.Equal(t, "NA", got.FailureInfo)
	assert.Equal(t, int64(-1), got.SubmissionTime)
	assert.Equal(t, []string{"extract", "transform", "load"}, got.Conf.JobNames())
	assert.Equal(t, []string{"transform"}, got.Conf.Jobs[2].DependsOn)
}

func TestCreateWorkflow_Duplicate(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s, 1)

	err := s.CreateWorkflow(context.Background(), &Workflow{ID: wf.ID, Tracker: "jt", Seq: 1, Name: "x", Conf: testConf()})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "workflow_jt_9999")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestUpdateWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, 1)

	running := schema.RunStateRunning
	info := "job load exited 137"
	submitted := int64(12345)
	require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{
		RunState: &running, FailureInfo: &info, SubmissionTime: &submitted,
	}))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateRunning, got.RunState)
	assert.Equal(t, info, got.FailureInfo)
	assert.Equal(t, int64(12345), got.SubmissionTime)

	require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{}))

	err = s.UpdateWorkflow(ctx, "workflow_jt_0404", WorkflowUpdate{RunState: &running})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestListWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := int32(1); i <= 3; i++ {
		seedWorkflow(t, s, i)
	}
	succeeded := schema.RunStateSucceeded
	require.NoError(t, s.UpdateWorkflow(ctx, "workflow_jt_0002", WorkflowUpdate{RunState: &succeeded}))

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "workflow_jt_0001", all[0].ID)

	done, err := s.ListWorkflows(ctx, WorkflowFilter{RunState: &succeeded})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "workflow_jt_0002", done[0].ID)

	page, err := s.ListWorkflows(ctx, WorkflowFilter{Tracker: "jt", Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "workflow_jt_0003", page[0].ID)

	none, err := s.ListWorkflows(ctx, WorkflowFilter{Tracker: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteWorkflow_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, 1)

	require.NoError(t, s.AppendEvent(ctx, &Event{WorkflowID: wf.ID, Type: schema.EventWorkflowRegistered}))
	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{WorkflowID: wf.ID, RunState: schema.RunStatePrep, Data: []byte{1}}))

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))

	events, err := s.GetEvents(ctx, wf.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = s.LatestSnapshot(ctx, wf.ID)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	err = s.DeleteWorkflow(ctx, wf.ID)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

// --- Event Tests ---

func TestAppendEvent_Sequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedWorkflow(t, s, 1)
	b := seedWorkflow(t, s, 2)

	for i := 0; i < 3; i++ {
		e := &Event{WorkflowID: a.ID, Job: "extract", Type: schema.EventJobSubmitted}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.NotZero(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}

	e := &Event{WorkflowID: b.ID, Type: schema.EventWorkflowSubmitted}
	require.NoError(t, s.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Sequence, "sequences are per workflow")
}

func TestAppendEvent_UnknownWorkflow(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendEvent(context.Background(), &Event{WorkflowID: "workflow_x_0001", Type: schema.EventJobPrep})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestGetEventsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedWorkflow(t, s, 1)
	b := seedWorkflow(t, s, 2)

	base := time.Now().UTC().Add(-time.Hour)
	for i, wf := range []*Workflow{a, b, a} {
		require.NoError(t, s.AppendEvent(ctx, &Event{
			WorkflowID: wf.ID, Job: "load", Type: schema.EventJobFinished,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{WorkflowID: a.ID, Job: "extract", Type: schema.EventJobRunning}))

	all, err := s.GetEventsByType(ctx, schema.EventJobFinished, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, !all[0].Timestamp.Before(all[1].Timestamp), "newest first")

	onlyA, err := s.GetEventsByType(ctx, schema.EventJobFinished, EventFilter{WorkflowID: a.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, a.ID, onlyA[0].WorkflowID)

	byJob, err := s.GetEventsByType(ctx, schema.EventJobRunning, EventFilter{Job: "extract"})
	require.NoError(t, err)
	assert.Len(t, byJob, 1)

	since := base.Add(90 * time.Second)
	recent, err := s.GetEventsByType(ctx, schema.EventJobFinished, EventFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

// --- Snapshot Tests ---

func TestSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, 1)

	base := time.Now().UTC().Add(-time.Hour)
	states := []schema.RunState{schema.RunStateSubmitted, schema.RunStateRunning, schema.RunStateSucceeded}
	for i, rs := range states {
		sn := &Snapshot{
			WorkflowID: wf.ID,
			RunState:   rs,
			Finished:   rs == schema.RunStateSucceeded,
			Data:       []byte{byte(i), 0xff},
			TakenAt:    base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveSnapshot(ctx, sn))
		assert.NotZero(t, sn.ID)
	}

	latest, err := s.LatestSnapshot(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateSucceeded, latest.RunState)
	assert.True(t, latest.Finished)
	assert.Equal(t, []byte{2, 0xff}, latest.Data)

	running := schema.RunStateRunning
	list, err := s.ListSnapshots(ctx, SnapshotFilter{WorkflowID: wf.ID, RunState: &running})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Finished)

	limited, err := s.ListSnapshots(ctx, SnapshotFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSaveSnapshot_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveSnapshot(ctx, &Snapshot{WorkflowID: "workflow_jt_0001"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = s.SaveSnapshot(ctx, &Snapshot{WorkflowID: "workflow_jt_0001", RunState: schema.RunStatePrep, Data: []byte{0}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Vacuum(context.Background()))
}
