package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/wfstatus/internal/logging"
	"github.com/rendis/wfstatus/internal/streaming"
	"github.com/rendis/wfstatus/pkg/schema"
)

// defaultWatchTypes are the run-state changes a watch receives by default.
var defaultWatchTypes = []string{
	schema.EventWorkflowSubmitted,
	schema.EventWorkflowRunning,
	schema.EventWorkflowSucceeded,
	schema.EventWorkflowFailed,
	schema.EventWorkflowKilled,
	schema.EventWorkflowDiscarded,
}

// handleWatch subscribes the calling session to hub events, or cancels a watch.
func (s *WFStatusServer) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if watchID := req.GetString("cancel", ""); watchID != "" {
		return marshalResult(map[string]any{"watch_id": watchID, "cancelled": s.watches.Cancel(watchID)})
	}

	if s.hub == nil {
		return mcp.NewToolResultError("watch is not enabled on this server"), nil
	}
	sessionID := sessionID(ctx)
	if sessionID == "" {
		return mcp.NewToolResultError("watch requires a client session"), nil
	}

	filter := streaming.EventFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		EventTypes: stringSlice(req.GetArguments()["event_types"]),
	}
	if len(filter.EventTypes) == 0 {
		filter.EventTypes = defaultWatchTypes
	}

	// The subscription outlives this request.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(logging.WithSessionID(ctx, sessionID)))
	ch, unsubscribe, err := s.hub.Subscribe(subCtx, filter)
	if err != nil {
		cancel()
		return mcp.NewToolResultError(fmt.Sprintf("subscribe failed: %v", err)), nil
	}

	watchID := uuid.NewString()
	s.watches.Add(watchID, sessionID, func() {
		unsubscribe()
		cancel()
	})
	go s.forward(subCtx, watchID, ch)

	logging.LogWith(subCtx, s.logger).Info("watch started",
		slog.String("watch_id", watchID),
		slog.String("filter_workflow_id", filter.WorkflowID),
	)
	return marshalResult(map[string]any{
		"watch_id":    watchID,
		"workflow_id": filter.WorkflowID,
		"event_types": filter.EventTypes,
	})
}

// forward relays hub events to the watch's session until the subscription ends.
func (s *WFStatusServer) forward(ctx context.Context, watchID string, ch <-chan streaming.StreamEvent) {
	for e := range ch {
		payload := map[string]any{
			"watch_id":    watchID,
			"workflow_id": e.WorkflowID,
			"event_type":  e.EventType,
			"run_state":   e.RunState,
		}
		if e.Job != "" {
			payload["job"] = e.Job
		}
		if e.Payload != nil {
			payload["payload"] = e.Payload
		}
		if err := s.notifier.Notify(ctx, watchID, payload); err != nil {
			logging.LogWith(ctx, s.logger).Warn("watch notification failed",
				slog.String("watch_id", watchID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func sessionID(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return ""
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
