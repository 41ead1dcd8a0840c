package expressions

import (
	"github.com/rendis/wfstatus/pkg/workflow"
)

// runningDoc is a status halfway through a three-job workflow.
func runningDoc() map[string]any {
	st := workflow.NewStatus(workflow.ID{Tracker: "jt", Seq: 7})
	st.AddPrepJob("load")
	st.AddRunningJob("transform")
	st.AddFinishedJob("extract")
	st.SetFailureInfo("NA")
	return Root(RootWorkflow, WorkflowDocument(st.Snapshot(), "nightly-etl"))
}
