package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/wfstatus/internal/expressions"
	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/pkg/schema"
)

// handleQuery lists documents of one resource, optionally filtered by a
// where expression and reshaped by a jq projection.
func (s *WFStatusServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)
	where := req.GetString("where", "")
	project := req.GetString("project", "")

	var whereEngine expressions.Engine
	if where != "" || project != "" {
		if s.engines == nil {
			return mcp.NewToolResultError("expressions are not enabled on this server"), nil
		}
	}
	if where != "" {
		lang := req.GetString("lang", "cel")
		if lang == "jq" {
			return mcp.NewToolResultError("where must be a cel or expr expression"), nil
		}
		if whereEngine, err = s.engines.Get(lang); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	docs, root, err := s.loadDocuments(ctx, resource, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	results := make([]any, 0, len(docs))
	for _, doc := range docs {
		if whereEngine != nil {
			ok, err := expressions.Match(ctx, whereEngine, where, expressions.Root(root, doc))
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("where failed: %v", err)), nil
			}
			if !ok {
				continue
			}
		}
		if project == "" {
			results = append(results, doc)
			continue
		}
		out, err := s.engines.JQ.EvaluateAll(ctx, project, doc)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project failed: %v", err)), nil
		}
		results = append(results, out...)
	}

	return marshalResult(map[string]any{
		"resource": resource,
		"count":    len(results),
		"results":  results,
	})
}

// loadDocuments fetches the documents of resource and the root key they are
// evaluated under.
func (s *WFStatusServer) loadDocuments(ctx context.Context, resource string, filter map[string]any) ([]map[string]any, string, error) {
	if resource == "live" {
		docs, err := s.liveDocuments(filter)
		return docs, expressions.RootWorkflow, err
	}
	if s.store == nil {
		return nil, "", fmt.Errorf("resource %s needs the archive, which is not configured", resource)
	}

	switch resource {
	case "workflows":
		docs, err := s.workflowDocuments(ctx, filter)
		return docs, expressions.RootWorkflow, err
	case "events":
		docs, err := s.eventDocuments(ctx, filter)
		return docs, expressions.RootEvent, err
	case "snapshots":
		docs, err := s.snapshotDocuments(ctx, filter)
		return docs, expressions.RootSnapshot, err
	case "history":
		docs, err := s.historyDocuments(ctx, filter)
		return docs, expressions.RootWorkflow, err
	default:
		return nil, "", fmt.Errorf("unknown resource type: %s", resource)
	}
}

func (s *WFStatusServer) liveDocuments(filter map[string]any) ([]map[string]any, error) {
	runState, err := runStateFilter(filter)
	if err != nil {
		return nil, err
	}
	tracker := extractString(filter, "tracker")
	limit := extractInt(filter, "limit", 0)

	var docs []map[string]any
	for _, id := range s.driver.List() {
		if tracker != "" && id.Tracker != tracker {
			continue
		}
		sn, err := s.driver.Snapshot(id.String())
		if err != nil {
			continue // discarded since List
		}
		if runState != nil && sn.RunState != *runState {
			continue
		}
		conf, err := s.driver.Conf(id.String())
		if err != nil {
			continue
		}
		docs = append(docs, expressions.WorkflowDocument(sn, conf.Name))
		if limit > 0 && len(docs) == limit {
			break
		}
	}
	return docs, nil
}

func (s *WFStatusServer) workflowDocuments(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
	runState, err := runStateFilter(filter)
	if err != nil {
		return nil, err
	}
	wfs, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		RunState: runState,
		Tracker:  extractString(filter, "tracker"),
		Since:    extractTime(filter, "since"),
		Limit:    extractInt(filter, "limit", 50),
		Offset:   extractInt(filter, "offset", 0),
	})
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, len(wfs))
	for i, wf := range wfs {
		docs[i] = expressions.RecordDocument(wf)
	}
	return docs, nil
}

func (s *WFStatusServer) eventDocuments(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
	ef := store.EventFilter{
		WorkflowID: extractString(filter, "workflow_id"),
		Job:        extractString(filter, "job"),
		Since:      extractTime(filter, "since"),
		Limit:      extractInt(filter, "limit", 100),
	}
	eventType := extractString(filter, "event_type")

	var events []*store.Event
	var err error
	switch {
	case eventType != "":
		events, err = s.store.GetEventsByType(ctx, eventType, ef)
	case ef.WorkflowID != "":
		events, err = s.store.GetEvents(ctx, ef.WorkflowID, 0)
	default:
		return nil, fmt.Errorf("event query requires either 'event_type' or 'workflow_id' in filter")
	}
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]any, 0, len(events))
	for _, e := range events {
		if eventType == "" {
			// GetEvents does not narrow by job, time or count.
			if ef.Job != "" && e.Job != ef.Job {
				continue
			}
			if ef.Since != nil && e.Timestamp.Before(*ef.Since) {
				continue
			}
			if ef.Limit > 0 && len(docs) == ef.Limit {
				break
			}
		}
		docs = append(docs, expressions.EventDocument(e))
	}
	return docs, nil
}

func (s *WFStatusServer) snapshotDocuments(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
	runState, err := runStateFilter(filter)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.ListSnapshots(ctx, store.SnapshotFilter{
		WorkflowID: extractString(filter, "workflow_id"),
		RunState:   runState,
		Since:      extractTime(filter, "since"),
		Limit:      extractInt(filter, "limit", 50),
	})
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, len(snaps))
	for i, snap := range snaps {
		docs[i] = expressions.SnapshotDocument(snap)
	}
	return docs, nil
}

func (s *WFStatusServer) historyDocuments(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
	workflowID := extractString(filter, "workflow_id")
	if workflowID == "" {
		return nil, fmt.Errorf("history query requires 'workflow_id' in filter")
	}
	h, err := s.events.Replay(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	jobs := make(map[string]any, len(h.Jobs))
	for name, stage := range h.Jobs {
		jobs[name] = string(stage)
	}
	return []map[string]any{{
		"id":            h.WorkflowID,
		"run_state":     string(h.RunState),
		"failure_info":  h.FailureInfo,
		"jobs":          jobs,
		"last_sequence": h.LastSequence,
	}}, nil
}

func runStateFilter(filter map[string]any) (*schema.RunState, error) {
	v := extractString(filter, "run_state")
	if v == "" {
		return nil, nil
	}
	rs, err := schema.ParseRunState(v)
	if err != nil {
		return nil, err
	}
	return &rs, nil
}
