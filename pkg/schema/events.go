package schema

// Event type constants for the transition log.
const (
	EventWorkflowRegistered = "workflow_registered"
	EventWorkflowSubmitted  = "workflow_submitted"
	EventWorkflowRunning    = "workflow_running"
	EventWorkflowSucceeded  = "workflow_succeeded"
	EventWorkflowFailed     = "workflow_failed"
	EventWorkflowKilled     = "workflow_killed"
	EventWorkflowDiscarded  = "workflow_discarded"
	EventFailureInfoSet     = "failure_info_set"

	EventJobPrep      = "job_prep"
	EventJobSubmitted = "job_submitted"
	EventJobRunning   = "job_running"
	EventJobFinished  = "job_finished"
)

// RunStateEvent returns the event type emitted when a workflow enters s.
func RunStateEvent(s RunState) string {
	switch s {
	case RunStateSubmitted:
		return EventWorkflowSubmitted
	case RunStateRunning:
		return EventWorkflowRunning
	case RunStateSucceeded:
		return EventWorkflowSucceeded
	case RunStateFailed:
		return EventWorkflowFailed
	case RunStateKilled:
		return EventWorkflowKilled
	default:
		return ""
	}
}

// StageEvent returns the event type emitted when a job enters s.
func StageEvent(s Stage) string {
	switch s {
	case StagePrep:
		return EventJobPrep
	case StageSubmitted:
		return EventJobSubmitted
	case StageRunning:
		return EventJobRunning
	case StageFinished:
		return EventJobFinished
	default:
		return ""
	}
}
