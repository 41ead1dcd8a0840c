package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/internal/engine"
	"github.com/rendis/wfstatus/internal/expressions"
	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/internal/streaming"
	"github.com/rendis/wfstatus/internal/validation"
)

type testEnv struct {
	srv    *WFStatusServer
	driver *engine.Driver
	store  *store.LibSQLStore
	hub    *streaming.MemoryHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	v, err := validation.NewWorkflowValidator(nil)
	require.NoError(t, err)
	engines, err := expressions.NewEngines()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := streaming.NewMemoryHubWithBuffer(64)
	d := engine.NewDriver(engine.DriverDeps{
		Store:     s,
		Hub:       hub,
		Validator: v,
		Logger:    logger,
		TrackerID: "jt",
		Now:       func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})

	srv := NewWFStatusServer(WFStatusServerDeps{
		Driver:  d,
		Store:   s,
		Engines: engines,
		Hub:     hub,
		Logger:  logger,
	})
	t.Cleanup(srv.watches.Close)
	return &testEnv{srv: srv, driver: d, store: s, hub: hub}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func etlConfArg() map[string]any {
	return map[string]any{
		"name": "nightly-etl",
		"jobs": []any{
			map[string]any{"name": "extract"},
			map[string]any{"name": "transform", "depends_on": []any{"extract"}},
			map[string]any{"name": "load", "depends_on": []any{"transform"}},
		},
	}
}

// register registers the ETL conf through the tool and returns its ID.
func (e *testEnv) register(t *testing.T) string {
	t.Helper()
	result, err := e.srv.handleRegister(context.Background(), buildRequest("wfstatus.register", map[string]any{"conf": etlConfArg()}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	return out["workflow_id"].(string)
}

func (e *testEnv) call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), buildRequest(name, args))
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
