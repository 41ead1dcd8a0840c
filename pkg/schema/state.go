package schema

// RunState is the coarse lifecycle phase of a whole workflow.
type RunState string

const (
	RunStatePrep      RunState = "PREP"
	RunStateSubmitted RunState = "SUBMITTED"
	RunStateRunning   RunState = "RUNNING"
	RunStateSucceeded RunState = "SUCCEEDED"
	RunStateFailed    RunState = "FAILED"
	RunStateKilled    RunState = "KILLED"
)

// RunStates lists every run state in declaration order.
var RunStates = []RunState{
	RunStatePrep, RunStateSubmitted, RunStateRunning,
	RunStateSucceeded, RunStateFailed, RunStateKilled,
}

// Rank orders run states along the normal progression. Terminal states share
// the highest rank. Unknown values rank -1.
func (s RunState) Rank() int {
	switch s {
	case RunStatePrep:
		return 0
	case RunStateSubmitted:
		return 1
	case RunStateRunning:
		return 2
	case RunStateSucceeded, RunStateFailed, RunStateKilled:
		return 3
	default:
		return -1
	}
}

// String implements fmt.Stringer.
func (s RunState) String() string { return string(s) }

// Terminal reports whether no further progression is possible.
func (s RunState) Terminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed || s == RunStateKilled
}

// AtLeast reports whether s has progressed as far as other.
func (s RunState) AtLeast(other RunState) bool {
	return s.Rank() >= other.Rank()
}

// ParseRunState converts a string to a RunState.
func ParseRunState(v string) (RunState, error) {
	for _, s := range RunStates {
		if string(s) == v {
			return s, nil
		}
	}
	return "", NewErrorf(ErrCodeValidation, "unknown run state %q", v)
}

// Stage is the lifecycle phase of a single job within a workflow.
type Stage string

const (
	StagePrep      Stage = "prep"
	StageSubmitted Stage = "submitted"
	StageRunning   Stage = "running"
	StageFinished  Stage = "finished"
)

// Stages lists the job stages in wire order.
var Stages = []Stage{StagePrep, StageSubmitted, StageRunning, StageFinished}

// ParseStage converts a string to a Stage.
func ParseStage(v string) (Stage, error) {
	for _, s := range Stages {
		if string(s) == v {
			return s, nil
		}
	}
	return "", NewErrorf(ErrCodeValidation, "unknown job stage %q", v)
}

// String implements fmt.Stringer.
func (s Stage) String() string { return string(s) }
