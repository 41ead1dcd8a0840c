package expressions

import (
	"encoding/json"
	"time"

	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// Document root keys, one per queryable kind.
const (
	RootWorkflow = "workflow"
	RootEvent    = "event"
	RootSnapshot = "snapshot"
)

// WorkflowDocument renders a status snapshot as a filter document.
// Numbers are int64 so CEL sees ints.
func WorkflowDocument(sn workflow.Snapshot, name string) map[string]any {
	counts := make(map[string]any, len(schema.Stages))
	var total int64
	for _, st := range schema.Stages {
		n := int64(len(sn.Jobs(st)))
		counts[string(st)] = n
		total += n
	}
	return map[string]any{
		"id":              sn.ID.String(),
		"tracker":         sn.ID.Tracker,
		"seq":             int64(sn.ID.Seq),
		"name":            name,
		"run_state":       string(sn.RunState),
		"failure_info":    sn.FailureInfo,
		"submission_time": sn.SubmissionTime,
		"finished":        sn.Finished,
		"prep_jobs":       anyList(sn.PrepJobs),
		"submitted_jobs":  anyList(sn.SubmittedJobs),
		"running_jobs":    anyList(sn.RunningJobs),
		"finished_jobs":   anyList(sn.FinishedJobs),
		"counts":          counts,
		"total_jobs":      total,
	}
}

// RecordDocument renders an archived workflow record. Records carry no job
// membership, so only the configured job count is present.
func RecordDocument(w *store.Workflow) map[string]any {
	return map[string]any{
		"id":              w.ID,
		"tracker":         w.Tracker,
		"seq":             int64(w.Seq),
		"name":            w.Name,
		"run_state":       string(w.RunState),
		"failure_info":    w.FailureInfo,
		"submission_time": w.SubmissionTime,
		"finished":        w.RunState.Terminal(),
		"total_jobs":      int64(len(w.Conf.Jobs)),
		"created_at":      w.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// EventDocument renders a transition log entry. A JSON payload is decoded
// into "payload"; an undecodable one is left out.
func EventDocument(e *store.Event) map[string]any {
	doc := map[string]any{
		"id":          e.ID,
		"workflow_id": e.WorkflowID,
		"job":         e.Job,
		"type":        e.Type,
		"sequence":    e.Sequence,
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(e.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(e.Payload, &payload); err == nil {
			doc["payload"] = payload
		}
	}
	return doc
}

// SnapshotDocument renders an archived snapshot without its raw bytes.
func SnapshotDocument(s *store.Snapshot) map[string]any {
	return map[string]any{
		"id":          s.ID,
		"workflow_id": s.WorkflowID,
		"run_state":   string(s.RunState),
		"finished":    s.Finished,
		"size":        int64(len(s.Data)),
		"taken_at":    s.TakenAt.UTC().Format(time.RFC3339Nano),
	}
}

// JobStage returns the stage whose job list in a workflow document holds
// name, or "" when the job is not tracked.
func JobStage(doc map[string]any, name string) string {
	for _, st := range schema.Stages {
		switch jobs := doc[string(st)+"_jobs"].(type) {
		case []any:
			for _, j := range jobs {
				if j == name {
					return string(st)
				}
			}
		case []string:
			for _, j := range jobs {
				if j == name {
					return string(st)
				}
			}
		}
	}
	return ""
}

// Root wraps doc under its root key, the shape every engine evaluates.
func Root(key string, doc map[string]any) map[string]any {
	return map[string]any{key: doc}
}

func anyList(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
