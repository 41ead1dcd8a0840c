package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/pkg/schema"
)

// TransitionHook runs before or after a transition. A before hook that
// returns an error vetoes the transition.
type TransitionHook func(ctx context.Context, workflowID, from, to string) error

// EventAppender is satisfied by the Store; FSMs emit their events through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// RunStatePayload is the payload of workflow_<state> events.
type RunStatePayload struct {
	From schema.RunState `json:"from"`
	To   schema.RunState `json:"to"`
}

// --- Run-state FSM ---

type runStateKey struct {
	from, to schema.RunState
}

// RunStateFSM checks and records workflow run-state changes reported by a tracker.
type RunStateFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runStateKey][]TransitionHook
	after    map[runStateKey][]TransitionHook
}

// NewRunStateFSM creates a RunStateFSM that emits events via appender.
func NewRunStateFSM(appender EventAppender) *RunStateFSM {
	return &RunStateFSM{
		appender: appender,
		before:   make(map[runStateKey][]TransitionHook),
		after:    make(map[runStateKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before from -> to.
func (f *RunStateFSM) OnBefore(from, to schema.RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runStateKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after from -> to.
func (f *RunStateFSM) OnAfter(from, to schema.RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runStateKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// OnEnter registers an after hook on every allowed transition into to.
func (f *RunStateFSM) OnEnter(to schema.RunState, hook TransitionHook) {
	for from, targets := range ValidRunStateTransitions {
		if slices.Contains(targets, to) {
			f.OnAfter(from, to, hook)
		}
	}
}

// Transition validates from -> to, runs hooks and appends the workflow_<to> event.
func (f *RunStateFSM) Transition(ctx context.Context, workflowID string, from, to schema.RunState) error {
	if !IsValidRunStateTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run state transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflow_id": workflowID, "from": string(from), "to": string(to)})
	}

	key := runStateKey{from, to}
	f.mu.Lock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(ctx, workflowID, string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := schema.RunStateEvent(to); eventType != "" {
		event := &store.Event{
			WorkflowID: workflowID,
			Type:       eventType,
			Payload:    mustPayload(RunStatePayload{From: from, To: to}),
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run state event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(ctx, workflowID, string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

// IsValidRunStateTransition reports whether from -> to is in the table.
func IsValidRunStateTransition(from, to schema.RunState) bool {
	return slices.Contains(ValidRunStateTransitions[from], to)
}

// --- Job FSM ---

type stageKey struct {
	from, to schema.Stage
}

// JobFSM records job stage moves. Validation is separate from recording so
// a permissive driver can log an illegal move and still record it.
type JobFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[stageKey][]TransitionHook
	after    map[stageKey][]TransitionHook
}

// NewJobFSM creates a JobFSM that emits events via appender.
func NewJobFSM(appender EventAppender) *JobFSM {
	return &JobFSM{
		appender: appender,
		before:   make(map[stageKey][]TransitionHook),
		after:    make(map[stageKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a job moves from -> to.
func (f *JobFSM) OnBefore(from, to schema.Stage, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stageKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a job moves from -> to.
func (f *JobFSM) OnAfter(from, to schema.Stage, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stageKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Check returns INVALID_TRANSITION unless from -> to is in the stage table.
// An empty from means the job is not tracked yet.
func (f *JobFSM) Check(workflowID, job string, from, to schema.Stage) error {
	if IsValidStageTransition(from, to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid job stage transition: %s -> %s", displayStage(from), to).
		WithJob(job).
		WithDetails(map[string]any{"workflow_id": workflowID, "from": string(from), "to": string(to)})
}

// Transition is Check followed by Record.
func (f *JobFSM) Transition(ctx context.Context, workflowID, job string, from, to schema.Stage) error {
	if err := f.Check(workflowID, job, from, to); err != nil {
		return err
	}
	return f.Record(ctx, workflowID, job, from, to)
}

// Record runs hooks and appends the job_<to> event without checking the table.
func (f *JobFSM) Record(ctx context.Context, workflowID, job string, from, to schema.Stage) error {
	key := stageKey{from, to}
	f.mu.Lock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(ctx, workflowID, string(from), string(to)); err != nil {
			return err
		}
	}

	event := &store.Event{
		WorkflowID: workflowID,
		Job:        job,
		Type:       schema.StageEvent(to),
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit job event: %s", err.Error()).
			WithJob(job).WithCause(err)
	}

	for _, hook := range after {
		if err := hook(ctx, workflowID, string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

// IsValidStageTransition reports whether from -> to is in the stage table.
func IsValidStageTransition(from, to schema.Stage) bool {
	return slices.Contains(ValidStageTransitions[from], to)
}

func displayStage(s schema.Stage) string {
	if s == "" {
		return "untracked"
	}
	return string(s)
}

// --- Transition tables ---

// ValidRunStateTransitions lists the run-state changes a tracker can report.
// Skipping stages is allowed: a job reported finished first takes a fresh
// workflow straight to SUCCEEDED.
var ValidRunStateTransitions = map[schema.RunState][]schema.RunState{
	schema.RunStatePrep:      {schema.RunStateSubmitted, schema.RunStateRunning, schema.RunStateSucceeded, schema.RunStateFailed, schema.RunStateKilled},
	schema.RunStateSubmitted: {schema.RunStateRunning, schema.RunStateSucceeded, schema.RunStateFailed, schema.RunStateKilled},
	schema.RunStateRunning:   {schema.RunStateSucceeded, schema.RunStateFailed, schema.RunStateKilled},
	schema.RunStateSucceeded: {},
	schema.RunStateFailed:    {},
	schema.RunStateKilled:    {},
}

// ValidStageTransitions is the strict job lifecycle.
var ValidStageTransitions = map[schema.Stage][]schema.Stage{
	"":                    {schema.StagePrep},
	schema.StagePrep:      {schema.StageSubmitted},
	schema.StageSubmitted: {schema.StageRunning},
	schema.StageRunning:   {schema.StageFinished},
	schema.StageFinished:  {},
}
