package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rendis/wfstatus/internal/logging"
	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/internal/streaming"
	"github.com/rendis/wfstatus/internal/validation"
	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/wire"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// DriverDeps holds the driver's collaborators. All are optional: without a
// Store nothing is persisted, without a Validator confs are taken as given.
type DriverDeps struct {
	Store     store.Store
	Hub       streaming.EventHub
	Validator validation.Validator
	Logger    *slog.Logger
	TrackerID string // defaults to a short random identifier
	Strict    bool   // reject out-of-order job moves instead of logging them
	Now       func() time.Time
	Retry     *RetryPolicy
}

// RegisteredPayload is the payload of workflow_registered events.
type RegisteredPayload struct {
	Name string   `json:"name"`
	Jobs []string `json:"jobs"`
}

// Driver owns the live trackers of one process. It registers workflows,
// checks job names against their configuration, advances jobs and records
// every change in the transition log.
type Driver struct {
	store     store.Store
	hub       streaming.EventHub
	validator validation.Validator
	logger    *slog.Logger
	trackerID string
	strict    bool
	now       func() time.Time
	retry     RetryPolicy

	events *store.EventLog
	runFSM *RunStateFSM
	jobFSM *JobFSM

	mu        sync.RWMutex
	workflows map[string]*tracked
	seq       int32
	seqLoaded bool
}

type transition struct {
	from, to schema.RunState
}

// tracked is a live workflow. mu serializes driver operations on it so the
// log order matches the order changes were applied.
type tracked struct {
	mu      sync.Mutex
	status  *workflow.Status
	conf    schema.WorkflowConf
	pmu     sync.Mutex
	pending []transition
}

func (t *tracked) onTransition(_ workflow.ID, from, to schema.RunState) {
	t.pmu.Lock()
	t.pending = append(t.pending, transition{from, to})
	t.pmu.Unlock()
}

func (t *tracked) takePending() []transition {
	t.pmu.Lock()
	defer t.pmu.Unlock()
	p := t.pending
	t.pending = nil
	return p
}

// NewDriver creates a driver. A final snapshot is archived whenever a
// workflow reaches SUCCEEDED.
func NewDriver(deps DriverDeps) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	trackerID := deps.TrackerID
	if trackerID == "" {
		trackerID = uuid.NewString()[:8]
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	retry := DefaultRetryPolicy
	if deps.Retry != nil {
		retry = *deps.Retry
	}

	d := &Driver{
		store:     deps.Store,
		hub:       deps.Hub,
		validator: deps.Validator,
		logger:    logger,
		trackerID: trackerID,
		strict:    deps.Strict,
		now:       now,
		retry:     retry,
		events:    store.NewEventLog(deps.Store),
		workflows: make(map[string]*tracked),
	}
	appender := &retryAppender{store: deps.Store, policy: retry}
	d.runFSM = NewRunStateFSM(appender)
	d.jobFSM = NewJobFSM(appender)

	d.runFSM.OnEnter(schema.RunStateSucceeded, func(ctx context.Context, workflowID, _, _ string) error {
		if _, err := d.Archive(ctx, workflowID); err != nil {
			d.logger.WarnContext(ctx, "final snapshot failed", "error", err)
		}
		return nil
	})
	return d
}

// TrackerID returns the tracker component of every ID this driver assigns.
func (d *Driver) TrackerID() string { return d.trackerID }

// RunStateFSM exposes the run-state machine so callers can add hooks.
func (d *Driver) RunStateFSM() *RunStateFSM { return d.runFSM }

// JobFSM exposes the job stage machine so callers can add hooks.
func (d *Driver) JobFSM() *JobFSM { return d.jobFSM }

// Register validates conf, assigns the next workflow ID and starts tracking
// it with every job in prep.
func (d *Driver) Register(ctx context.Context, conf *schema.WorkflowConf) (workflow.ID, error) {
	if conf == nil {
		return workflow.ID{}, schema.NewError(schema.ErrCodeValidation, "workflow conf is required")
	}
	if d.validator != nil {
		if err := d.validator.ValidateConf(conf); err != nil {
			return workflow.ID{}, err
		}
	}

	id, err := d.nextID(ctx)
	if err != nil {
		return workflow.ID{}, err
	}
	wfID := id.String()
	ctx = logging.WithWorkflowID(ctx, wfID)

	t := &tracked{conf: cloneConf(conf)}
	t.status = workflow.NewStatus(id, workflow.WithTransitionListener(t.onTransition))

	rec := &store.Workflow{
		ID:      wfID,
		Tracker: id.Tracker,
		Seq:     id.Seq,
		Name:    conf.Name,
		Conf:    t.conf,
	}
	if err := d.persist(ctx, func(ctx context.Context, s store.Store) error {
		return s.CreateWorkflow(ctx, rec)
	}); err != nil {
		return workflow.ID{}, err
	}

	if err := d.recordRegistration(ctx, t); err != nil {
		if d.store != nil {
			if derr := d.store.DeleteWorkflow(context.WithoutCancel(ctx), wfID); derr != nil {
				d.logger.WarnContext(ctx, "rollback of partial registration failed", "error", derr)
			}
		}
		return workflow.ID{}, err
	}

	d.mu.Lock()
	d.workflows[wfID] = t
	d.mu.Unlock()

	d.publish(ctx, streaming.StreamEvent{
		WorkflowID: wfID,
		EventType:  schema.EventWorkflowRegistered,
		RunState:   string(schema.RunStatePrep),
		Payload:    mustPayload(RegisteredPayload{Name: conf.Name, Jobs: conf.JobNames()}),
	})
	d.logger.InfoContext(ctx, "workflow registered", "name", conf.Name, "jobs", len(conf.Jobs))
	return id, nil
}

func (d *Driver) recordRegistration(ctx context.Context, t *tracked) error {
	wfID := t.status.ID().String()
	payload := RegisteredPayload{Name: t.conf.Name, Jobs: t.conf.JobNames()}
	if err := d.appendEvent(ctx, wfID, schema.EventWorkflowRegistered, payload); err != nil {
		return err
	}
	for _, job := range payload.Jobs {
		if err := d.jobFSM.Transition(ctx, wfID, job, "", schema.StagePrep); err != nil {
			return err
		}
		t.status.AddPrepJob(job)
	}
	return nil
}

// nextID assigns IDs in sequence per tracker. The first call resumes after
// the highest sequence already archived for this tracker.
func (d *Driver) nextID(ctx context.Context) (workflow.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.seqLoaded && d.store != nil {
		existing, err := d.store.ListWorkflows(ctx, store.WorkflowFilter{Tracker: d.trackerID})
		if err != nil {
			return workflow.ID{}, schema.NewErrorf(schema.ErrCodeStore, "load workflow sequence: %s", err.Error()).WithCause(err)
		}
		for _, wf := range existing {
			d.seq = max(d.seq, wf.Seq)
		}
		d.seqLoaded = true
	}
	d.seq++
	return workflow.ID{Tracker: d.trackerID, Seq: d.seq}, nil
}

// Submit stamps the submission time. A workflow already past PREP is left as is.
func (d *Driver) Submit(ctx context.Context, id string) error {
	t, err := d.get(id)
	if err != nil {
		return err
	}
	ctx = logging.WithWorkflowID(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.status.SubmissionTime()
	t.status.SetSubmissionTime(d.now().UnixMilli())
	after := t.status.SubmissionTime()
	if after == before {
		d.logger.DebugContext(ctx, "submit ignored", "run_state", t.status.RunState())
		return nil
	}

	if err := d.persist(ctx, func(ctx context.Context, s store.Store) error {
		return s.UpdateWorkflow(ctx, id, store.WorkflowUpdate{SubmissionTime: &after})
	}); err != nil {
		return err
	}
	return d.drain(ctx, t)
}

// AdvanceJob moves job to stage. The job must belong to the workflow's conf.
// Moves outside prep -> submitted -> running -> finished are rejected in
// strict mode and logged otherwise. Once the workflow is terminal its jobs
// no longer move.
func (d *Driver) AdvanceJob(ctx context.Context, id, job string, stage schema.Stage) error {
	if _, err := schema.ParseStage(string(stage)); err != nil {
		return err
	}
	t, err := d.get(id)
	if err != nil {
		return err
	}
	if !t.conf.HasJob(job) {
		return schema.NewErrorf(schema.ErrCodeValidation, "job %q is not part of workflow %s", job, id).WithJob(job)
	}
	ctx = logging.WithIDs(ctx, id, job)

	t.mu.Lock()
	defer t.mu.Unlock()

	from, _ := t.status.Stage(job)
	if from == stage {
		return nil
	}
	if state := t.status.RunState(); state.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is %s; job %q cannot move to %s", id, state, job, stage).
			WithJob(job).
			WithDetails(map[string]any{"run_state": string(state), "from": string(from), "to": string(stage)})
	}
	if err := d.jobFSM.Check(id, job, from, stage); err != nil {
		if d.strict {
			return err
		}
		d.logger.WarnContext(ctx, "out of order job move", "from", from, "to", stage)
	}
	if err := d.jobFSM.Record(ctx, id, job, from, stage); err != nil {
		return err
	}

	switch stage {
	case schema.StagePrep:
		t.status.AddPrepJob(job)
	case schema.StageSubmitted:
		t.status.AddSubmittedJob(job)
	case schema.StageRunning:
		t.status.AddRunningJob(job)
	case schema.StageFinished:
		t.status.AddFinishedJob(job)
	}

	d.publish(ctx, streaming.StreamEvent{
		WorkflowID: id,
		Job:        job,
		EventType:  schema.StageEvent(stage),
		RunState:   string(t.status.RunState()),
	})
	d.logger.DebugContext(ctx, "job advanced", "from", from, "to", stage)
	return d.drain(ctx, t)
}

// SetFailureInfo records a failure reason on the workflow. The text must be
// encodable as a wire string.
func (d *Driver) SetFailureInfo(ctx context.Context, id, info string) error {
	t, err := d.get(id)
	if err != nil {
		return err
	}
	if len(info) > wire.DefaultMaxStringLen || !utf8.ValidString(info) {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"failure info must be valid UTF-8 of at most %d bytes", wire.DefaultMaxStringLen).
			WithDetails(map[string]any{"length": len(info)})
	}
	ctx = logging.WithWorkflowID(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()

	payload := store.FailureInfoPayload{FailureInfo: info}
	if err := d.appendEvent(ctx, id, schema.EventFailureInfoSet, payload); err != nil {
		return err
	}
	t.status.SetFailureInfo(info)

	if err := d.persist(ctx, func(ctx context.Context, s store.Store) error {
		return s.UpdateWorkflow(ctx, id, store.WorkflowUpdate{FailureInfo: &info})
	}); err != nil {
		return err
	}
	d.publish(ctx, streaming.StreamEvent{
		WorkflowID: id,
		EventType:  schema.EventFailureInfoSet,
		RunState:   string(t.status.RunState()),
		Payload:    mustPayload(payload),
	})
	return nil
}

// drain pushes the run-state changes the tracker reported through the
// run-state FSM, the workflow record and the hub.
func (d *Driver) drain(ctx context.Context, t *tracked) error {
	id := t.status.ID().String()
	var errs []error
	for _, tr := range t.takePending() {
		if err := d.runFSM.Transition(ctx, id, tr.from, tr.to); err != nil {
			errs = append(errs, err)
			continue
		}
		state := tr.to
		if err := d.persist(ctx, func(ctx context.Context, s store.Store) error {
			return s.UpdateWorkflow(ctx, id, store.WorkflowUpdate{RunState: &state})
		}); err != nil {
			errs = append(errs, err)
			continue
		}
		d.publish(ctx, streaming.StreamEvent{
			WorkflowID: id,
			EventType:  schema.RunStateEvent(tr.to),
			RunState:   string(tr.to),
			Payload:    mustPayload(RunStatePayload{From: tr.from, To: tr.to}),
		})
		d.logger.InfoContext(ctx, "run state changed", "from", tr.from, "to", tr.to)
	}
	return errors.Join(errs...)
}

// Status returns the live tracker of id.
func (d *Driver) Status(id string) (*workflow.Status, error) {
	t, err := d.get(id)
	if err != nil {
		return nil, err
	}
	return t.status, nil
}

// Snapshot returns a consistent copy of the tracker of id.
func (d *Driver) Snapshot(id string) (workflow.Snapshot, error) {
	t, err := d.get(id)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return t.status.Snapshot(), nil
}

// Conf returns the configuration id was registered with.
func (d *Driver) Conf(id string) (schema.WorkflowConf, error) {
	t, err := d.get(id)
	if err != nil {
		return schema.WorkflowConf{}, err
	}
	return cloneConf(&t.conf), nil
}

// List returns the IDs of all live workflows in ID order.
func (d *Driver) List() []workflow.ID {
	d.mu.RLock()
	ids := make([]workflow.ID, 0, len(d.workflows))
	for _, t := range d.workflows {
		ids = append(ids, t.status.ID())
	}
	d.mu.RUnlock()

	slices.SortFunc(ids, func(a, b workflow.ID) int {
		if a.Tracker != b.Tracker {
			if a.Tracker < b.Tracker {
				return -1
			}
			return 1
		}
		return int(a.Seq) - int(b.Seq)
	})
	return ids
}

// Archive encodes the current status of id and saves it as a snapshot. With
// no store the encoded snapshot is returned unsaved.
func (d *Driver) Archive(ctx context.Context, id string) (*store.Snapshot, error) {
	t, err := d.get(id)
	if err != nil {
		return nil, err
	}
	sn := t.status.Snapshot()

	var buf bytes.Buffer
	if _, err := workflow.EncodeSnapshot(&buf, sn); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode status: %s", err.Error()).WithCause(err)
	}
	snap := &store.Snapshot{
		WorkflowID: id,
		RunState:   sn.RunState,
		Finished:   sn.Finished,
		Data:       buf.Bytes(),
		TakenAt:    d.now(),
	}
	if err := d.persist(ctx, func(ctx context.Context, s store.Store) error {
		return s.SaveSnapshot(ctx, snap)
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// Discard stops tracking id and drops its archived history.
func (d *Driver) Discard(ctx context.Context, id string) error {
	d.mu.Lock()
	t, ok := d.workflows[id]
	delete(d.workflows, id)
	d.mu.Unlock()
	if !ok {
		return notTracked(id)
	}
	ctx = logging.WithWorkflowID(ctx, id)

	if err := d.persist(ctx, func(ctx context.Context, s store.Store) error {
		return s.DeleteWorkflow(ctx, id)
	}); err != nil && !schema.HasCode(err, schema.ErrCodeNotFound) {
		return err
	}
	d.publish(ctx, streaming.StreamEvent{
		WorkflowID: id,
		EventType:  schema.EventWorkflowDiscarded,
		RunState:   string(t.status.RunState()),
	})
	d.logger.InfoContext(ctx, "workflow discarded")
	return nil
}

func (d *Driver) get(id string) (*tracked, error) {
	d.mu.RLock()
	t, ok := d.workflows[id]
	d.mu.RUnlock()
	if !ok {
		return nil, notTracked(id)
	}
	return t, nil
}

// persist runs fn against the store with retries. It is a no-op without a store.
func (d *Driver) persist(ctx context.Context, fn func(context.Context, store.Store) error) error {
	if d.store == nil {
		return nil
	}
	return withRetry(ctx, d.retry, func(ctx context.Context) error {
		return fn(ctx, d.store)
	})
}

func (d *Driver) appendEvent(ctx context.Context, id, eventType string, payload any) error {
	if d.store == nil {
		return nil
	}
	return withRetry(ctx, d.retry, func(ctx context.Context) error {
		_, err := d.events.Append(ctx, id, "", eventType, payload)
		return err
	})
}

func (d *Driver) publish(ctx context.Context, event streaming.StreamEvent) {
	if d.hub == nil {
		return
	}
	if err := d.hub.Publish(ctx, event); err != nil {
		d.logger.WarnContext(ctx, "publish failed", "event_type", event.EventType, "error", err)
	}
}

func notTracked(id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s is not tracked", id)
}

func cloneConf(conf *schema.WorkflowConf) schema.WorkflowConf {
	out := schema.WorkflowConf{Name: conf.Name, Metadata: conf.Metadata}
	out.Jobs = make([]schema.JobConf, len(conf.Jobs))
	for i, j := range conf.Jobs {
		out.Jobs[i] = schema.JobConf{Name: j.Name, DependsOn: slices.Clone(j.DependsOn)}
	}
	return out
}

func mustPayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// retryAppender retries event appends on a busy database.
type retryAppender struct {
	store  store.Store
	policy RetryPolicy
}

func (a *retryAppender) AppendEvent(ctx context.Context, event *store.Event) error {
	if a.store == nil {
		return nil
	}
	return withRetry(ctx, a.policy, func(ctx context.Context) error {
		return a.store.AppendEvent(ctx, event)
	})
}
