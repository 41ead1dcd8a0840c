package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/wfstatus/pkg/schema"
)

// EventLog is the transition-log view of a Store: it appends typed events
// and folds a workflow's log back into a history summary.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Append records one event. payload is JSON-encoded when non-nil.
func (el *EventLog) Append(ctx context.Context, workflowID, job, eventType string, payload any) (*Event, error) {
	e := &Event{WorkflowID: workflowID, Job: job, Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		e.Payload = raw
	}
	if err := el.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEvents returns events for a workflow with sequence > since.
func (el *EventLog) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, workflowID, since)
}

// FailureInfoPayload is the payload of a failure_info_set event.
type FailureInfoPayload struct {
	FailureInfo string `json:"failure_info"`
}

// History is a workflow's transition log folded into its last known state.
// It is a query result: nothing in wfstatus rebuilds a live tracker from it.
type History struct {
	WorkflowID   string                  `json:"workflow_id"`
	RunState     schema.RunState         `json:"run_state"`
	FailureInfo  string                  `json:"failure_info"`
	Jobs         map[string]schema.Stage `json:"jobs"`
	LastSequence int64                   `json:"last_sequence"`
}

// Replay folds every event of workflowID in sequence order.
// A gap in the sequence is reported as a STORE_ERROR.
func (el *EventLog) Replay(ctx context.Context, workflowID string) (*History, error) {
	events, err := el.store.GetEvents(ctx, workflowID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	h := &History{
		WorkflowID:  workflowID,
		RunState:    schema.RunStatePrep,
		FailureInfo: "NA",
		Jobs:        make(map[string]schema.Stage),
	}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in workflow %s: expected %d, got %d", workflowID, expected, e.Sequence)
		}
		h.LastSequence = e.Sequence

		switch {
		case strings.HasPrefix(e.Type, "job_"):
			if st, err := schema.ParseStage(strings.TrimPrefix(e.Type, "job_")); err == nil && e.Job != "" {
				h.Jobs[e.Job] = st
			}
		case e.Type == schema.EventFailureInfoSet:
			var p FailureInfoPayload
			if err := json.Unmarshal(e.Payload, &p); err == nil {
				h.FailureInfo = p.FailureInfo
			}
		case strings.HasPrefix(e.Type, "workflow_"):
			if rs, err := schema.ParseRunState(strings.ToUpper(strings.TrimPrefix(e.Type, "workflow_"))); err == nil {
				h.RunState = rs
			}
		}
	}
	return h, nil
}
