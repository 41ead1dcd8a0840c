package streaming

import "context"

// StreamEvent is a status change published by the driver: a run-state
// transition of a workflow, or a job moving between stages.
type StreamEvent struct {
	WorkflowID string `json:"workflow_id"`
	Job        string `json:"job,omitempty"`
	EventType  string `json:"event_type"`
	RunState   string `json:"run_state,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter selects events. Empty fields match everything.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
	Jobs       []string `json:"jobs,omitempty"`
}

// EventHub provides pub/sub for workflow status events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
