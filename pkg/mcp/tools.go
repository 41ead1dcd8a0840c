package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/wfstatus/internal/diagram"
	"github.com/rendis/wfstatus/internal/logging"
	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// statusResult is returned by wfstatus.status.
type statusResult struct {
	Source  string            `json:"source"` // live or archive
	Status  workflow.Snapshot `json:"status"`
	Encoded string            `json:"encoded"`
	TakenAt *time.Time        `json:"taken_at,omitempty"`
}

// handleRegister validates a workflow conf and starts tracking it.
func (s *WFStatusServer) handleRegister(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "conf", nil)
	if raw == nil {
		return mcp.NewToolResultError("conf is required"), nil
	}

	confBytes, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid conf: %v", err)), nil
	}
	var conf schema.WorkflowConf
	if err := json.Unmarshal(confBytes, &conf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid conf: %v", err)), nil
	}

	id, err := s.driver.Register(s.sessionCtx(ctx), &conf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("register failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": id.String(),
		"tracker":     id.Tracker,
		"seq":         id.Seq,
		"run_state":   schema.RunStatePrep,
		"jobs":        conf.JobNames(),
	})
}

// handleSubmit stamps the submission time of a workflow.
func (s *WFStatusServer) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if err := s.driver.Submit(s.sessionCtx(ctx), workflowID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}
	sn, err := s.driver.Snapshot(workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	return marshalResult(sn)
}

// handleAdvance moves a job to a new stage.
func (s *WFStatusServer) handleAdvance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	job, err := req.RequireString("job")
	if err != nil {
		return mcp.NewToolResultError("job is required"), nil
	}
	stageStr, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError("stage is required"), nil
	}
	stage, err := schema.ParseStage(stageStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.driver.AdvanceJob(s.sessionCtx(ctx), workflowID, job, stage); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("advance failed: %v", err)), nil
	}
	sn, err := s.driver.Snapshot(workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"job":         job,
		"stage":       stage,
		"run_state":   sn.RunState,
		"finished":    sn.Finished,
	})
}

// handleFailInfo records a failure reason.
func (s *WFStatusServer) handleFailInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	info, err := req.RequireString("failure_info")
	if err != nil {
		return mcp.NewToolResultError("failure_info is required"), nil
	}
	if err := s.driver.SetFailureInfo(s.sessionCtx(ctx), workflowID, info); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fail_info failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "workflow_id": workflowID, "failure_info": info})
}

// handleDiscard stops tracking a workflow.
func (s *WFStatusServer) handleDiscard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if err := s.driver.Discard(s.sessionCtx(ctx), workflowID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("discard failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "workflow_id": workflowID})
}

// handleStatus returns the live status of a workflow, or its latest archived
// snapshot once the driver no longer tracks it.
func (s *WFStatusServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	sn, liveErr := s.driver.Snapshot(workflowID)
	if liveErr == nil {
		var buf bytes.Buffer
		if _, err := workflow.EncodeSnapshot(&buf, sn); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
		}
		return marshalResult(statusResult{
			Source:  "live",
			Status:  sn,
			Encoded: base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	}
	if s.store == nil || !schema.HasCode(liveErr, schema.ErrCodeNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", liveErr)), nil
	}

	snap, err := s.store.LatestSnapshot(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	st, err := workflow.ReadStatus(bytes.NewReader(snap.Data))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("archived status is corrupt: %v", err)), nil
	}
	takenAt := snap.TakenAt
	return marshalResult(statusResult{
		Source:  "archive",
		Status:  st.Snapshot(),
		Encoded: base64.StdEncoding.EncodeToString(snap.Data),
		TakenAt: &takenAt,
	})
}

// handleDecode decodes base64 wire bytes into a status document.
func (s *WFStatusServer) handleDecode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := req.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError("data is required"), nil
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("data is not valid base64: %v", err)), nil
	}

	st := workflow.NewStatus(workflow.ID{})
	if err := st.UnmarshalBinary(raw); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decode failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"status": st.Snapshot()})
}

// handleDiagram renders the job graph of a live or archived workflow.
func (s *WFStatusServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format := req.GetString("format", "mermaid")
	if format != "mermaid" && format != "ascii" {
		return mcp.NewToolResultError("format must be mermaid or ascii"), nil
	}

	conf, sn, err := s.diagramInputs(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", err)), nil
	}
	model, err := diagram.Build(&conf, sn)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	if format == "ascii" {
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

func (s *WFStatusServer) diagramInputs(ctx context.Context, workflowID string) (schema.WorkflowConf, *workflow.Snapshot, error) {
	if conf, err := s.driver.Conf(workflowID); err == nil {
		sn, err := s.driver.Snapshot(workflowID)
		if err != nil {
			return schema.WorkflowConf{}, nil, err
		}
		return conf, &sn, nil
	} else if s.store == nil {
		return schema.WorkflowConf{}, nil, err
	}

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return schema.WorkflowConf{}, nil, err
	}
	snap, err := s.store.LatestSnapshot(ctx, workflowID)
	if err != nil {
		return wf.Conf, nil, nil
	}
	st, err := workflow.ReadStatus(bytes.NewReader(snap.Data))
	if err != nil {
		return wf.Conf, nil, nil
	}
	sn := st.Snapshot()
	return wf.Conf, &sn, nil
}

// --- Internal helpers ---

// sessionCtx tags ctx with the MCP session for log correlation.
func (s *WFStatusServer) sessionCtx(ctx context.Context) context.Context {
	if id := sessionID(ctx); id != "" {
		return logging.WithSessionID(ctx, id)
	}
	return ctx
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func extractString(filter map[string]any, key string) string {
	if filter == nil {
		return ""
	}
	v, _ := filter[key].(string)
	return v
}

// extractTime parses an RFC 3339 filter value. Unparseable values are ignored.
func extractTime(filter map[string]any, key string) *time.Time {
	v := extractString(filter, key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
