package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/wfstatus/pkg/schema"
)

// Workflow is the persisted record of a registered workflow.
type Workflow struct {
	ID             string              `json:"id"`
	Tracker        string              `json:"tracker"`
	Seq            int32               `json:"seq"`
	Name           string              `json:"name"`
	Conf           schema.WorkflowConf `json:"conf"`
	RunState       schema.RunState     `json:"run_state"`
	FailureInfo    string              `json:"failure_info"`
	SubmissionTime int64               `json:"submission_time"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// WorkflowUpdate holds the mutable scalar fields. Nil fields are left alone.
type WorkflowUpdate struct {
	RunState       *schema.RunState
	FailureInfo    *string
	SubmissionTime *int64
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	RunState *schema.RunState
	Tracker  string
	Since    *time.Time
	Limit    int
	Offset   int
}

// Event is an immutable entry in the transition log.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Job        string          `json:"job,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	WorkflowID string
	Job        string
	Since      *time.Time
	Limit      int
}

// Snapshot is one archived status, Data holding the binary codec bytes.
type Snapshot struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	RunState   schema.RunState `json:"run_state"`
	Finished   bool            `json:"finished"`
	Data       []byte          `json:"data"`
	TakenAt    time.Time       `json:"taken_at"`
}

// SnapshotFilter narrows ListSnapshots.
type SnapshotFilter struct {
	WorkflowID string
	RunState   *schema.RunState
	Since      *time.Time
	Limit      int
}
