// Package workflow holds the in-memory status tracker of a single workflow:
// which of its jobs sit in each stage, the run state derived from that
// membership, and the binary encoding shipped to remote status queries.
package workflow

import (
	"sync"

	"github.com/rendis/wfstatus/pkg/schema"
)

const (
	// DefaultFailureInfo is reported until a failure reason is set.
	DefaultFailureInfo = "NA"
	// NotSubmitted is the submission time of a workflow not yet submitted.
	NotSubmitted int64 = -1
)

// TransitionListener observes run state changes. It is called after the
// tracker lock has been released, once per state change.
type TransitionListener func(id ID, from, to schema.RunState)

// Option configures a Status.
type Option func(*Status)

// WithTransitionListener registers fn to observe run state changes.
func WithTransitionListener(fn TransitionListener) Option {
	return func(s *Status) { s.listener = fn }
}

// Status tracks the job stages and run state of one workflow.
// All methods are safe for concurrent use; each is a single atomic unit.
// NewStatus sets the PREP defaults. The zero value is meant as a target for
// UnmarshalBinary; job moves on it still work but start from no run state.
type Status struct {
	mu             sync.Mutex
	id             ID
	state          schema.RunState
	failureInfo    string
	submissionTime int64
	jobs           map[string]schema.Stage // job name -> current stage
	listener       TransitionListener
}

// NewStatus creates an empty tracker in PREP.
func NewStatus(id ID, opts ...Option) *Status {
	s := &Status{
		id:             id,
		state:          schema.RunStatePrep,
		failureInfo:    DefaultFailureInfo,
		submissionTime: NotSubmitted,
		jobs:           make(map[string]schema.Stage),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the workflow identifier.
func (s *Status) ID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// AddPrepJob places a job in the prep stage.
func (s *Status) AddPrepJob(name string) {
	s.move(name, schema.StagePrep)
}

// AddSubmittedJob moves a job to the submitted stage. The run state
// advances to at least SUBMITTED.
func (s *Status) AddSubmittedJob(name string) {
	s.move(name, schema.StageSubmitted)
}

// AddRunningJob moves a job to the running stage. The run state advances
// to at least RUNNING.
func (s *Status) AddRunningJob(name string) {
	s.move(name, schema.StageRunning)
}

// AddFinishedJob moves a job to the finished stage. The run state advances
// to at least RUNNING, and to SUCCEEDED when no job is left in prep,
// submitted or running.
func (s *Status) AddFinishedJob(name string) {
	s.move(name, schema.StageFinished)
}

// move records name in stage and derives the new run state. A job lives in
// exactly one stage, so moving it removes it from wherever it was.
func (s *Status) move(name string, stage schema.Stage) {
	s.mu.Lock()
	from := s.state
	if s.jobs == nil {
		s.jobs = make(map[string]schema.Stage)
	}
	s.jobs[name] = stage
	switch stage {
	case schema.StageSubmitted:
		s.advance(schema.RunStateSubmitted)
	case schema.StageRunning:
		s.advance(schema.RunStateRunning)
	case schema.StageFinished:
		if s.finishedLocked() {
			s.advance(schema.RunStateSucceeded)
		} else {
			s.advance(schema.RunStateRunning)
		}
	}
	to, listener, id := s.state, s.listener, s.id
	s.mu.Unlock()

	notify(listener, id, from, to)
}

// advance moves the run state forward to target. It never goes backwards
// and never leaves a terminal state.
func (s *Status) advance(target schema.RunState) {
	if s.state.Terminal() || s.state.Rank() >= target.Rank() {
		return
	}
	s.state = target
}

func notify(fn TransitionListener, id ID, from, to schema.RunState) {
	if fn != nil && from != to {
		fn(id, from, to)
	}
}

// PrepJobs returns a copy of the jobs in the prep stage.
func (s *Status) PrepJobs() JobSet { return s.jobsIn(schema.StagePrep) }

// SubmittedJobs returns a copy of the jobs in the submitted stage.
func (s *Status) SubmittedJobs() JobSet { return s.jobsIn(schema.StageSubmitted) }

// RunningJobs returns a copy of the jobs in the running stage.
func (s *Status) RunningJobs() JobSet { return s.jobsIn(schema.StageRunning) }

// FinishedJobs returns a copy of the jobs in the finished stage.
func (s *Status) FinishedJobs() JobSet { return s.jobsIn(schema.StageFinished) }

func (s *Status) jobsIn(stage schema.Stage) JobSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsInLocked(stage)
}

func (s *Status) jobsInLocked(stage schema.Stage) JobSet {
	out := make(JobSet)
	for name, st := range s.jobs {
		if st == stage {
			out[name] = struct{}{}
		}
	}
	return out
}

// Stage returns the current stage of a job and whether it is tracked.
func (s *Status) Stage(name string) (schema.Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[name]
	return st, ok
}

// IsFinished reports whether no job is in prep, submitted or running.
// A workflow with no jobs is trivially finished.
func (s *Status) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedLocked()
}

func (s *Status) finishedLocked() bool {
	for _, st := range s.jobs {
		if st != schema.StageFinished {
			return false
		}
	}
	return true
}

// RunState returns the current run state.
func (s *Status) RunState() schema.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubmissionTime returns the submission timestamp, or NotSubmitted.
func (s *Status) SubmissionTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissionTime
}

// SetSubmissionTime records the submission time and moves the workflow to
// SUBMITTED. Calls made after the workflow left PREP are ignored.
func (s *Status) SetSubmissionTime(t int64) {
	s.mu.Lock()
	from := s.state
	if s.state == schema.RunStatePrep {
		s.submissionTime = t
		s.state = schema.RunStateSubmitted
	}
	to, listener, id := s.state, s.listener, s.id
	s.mu.Unlock()

	notify(listener, id, from, to)
}

// FailureInfo returns the diagnostic text describing a failure.
func (s *Status) FailureInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureInfo
}

// SetFailureInfo overwrites the diagnostic text.
func (s *Status) SetFailureInfo(info string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureInfo = info
}

// Snapshot is a point-in-time copy of every field of a Status.
type Snapshot struct {
	ID             ID              `json:"id"`
	RunState       schema.RunState `json:"run_state"`
	FailureInfo    string          `json:"failure_info"`
	SubmissionTime int64           `json:"submission_time"`
	PrepJobs       []string        `json:"prep_jobs"`
	SubmittedJobs  []string        `json:"submitted_jobs"`
	RunningJobs    []string        `json:"running_jobs"`
	FinishedJobs   []string        `json:"finished_jobs"`
	Finished       bool            `json:"finished"`
}

// Snapshot copies the whole tracker under a single lock hold. Job names are
// sorted.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Status) snapshotLocked() Snapshot {
	return Snapshot{
		ID:             s.id,
		RunState:       s.state,
		FailureInfo:    s.failureInfo,
		SubmissionTime: s.submissionTime,
		PrepJobs:       s.jobsInLocked(schema.StagePrep).Sorted(),
		SubmittedJobs:  s.jobsInLocked(schema.StageSubmitted).Sorted(),
		RunningJobs:    s.jobsInLocked(schema.StageRunning).Sorted(),
		FinishedJobs:   s.jobsInLocked(schema.StageFinished).Sorted(),
		Finished:       s.finishedLocked(),
	}
}

// Jobs returns the names of a snapshot stage.
func (sn Snapshot) Jobs(stage schema.Stage) []string {
	switch stage {
	case schema.StagePrep:
		return sn.PrepJobs
	case schema.StageSubmitted:
		return sn.SubmittedJobs
	case schema.StageRunning:
		return sn.RunningJobs
	case schema.StageFinished:
		return sn.FinishedJobs
	default:
		return nil
	}
}
