package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/wfstatus/internal/expressions"
	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/internal/streaming"
	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// Driver is the part of the workflow driver exposed over MCP.
// Satisfied by *engine.Driver.
type Driver interface {
	Register(ctx context.Context, conf *schema.WorkflowConf) (workflow.ID, error)
	Submit(ctx context.Context, id string) error
	AdvanceJob(ctx context.Context, id, job string, stage schema.Stage) error
	SetFailureInfo(ctx context.Context, id, info string) error
	Snapshot(id string) (workflow.Snapshot, error)
	Conf(id string) (schema.WorkflowConf, error)
	List() []workflow.ID
	Discard(ctx context.Context, id string) error
}

// WFStatusServerDeps holds the dependencies for creating a WFStatusServer.
type WFStatusServerDeps struct {
	Driver  Driver
	Store   store.Store
	Engines *expressions.Engines
	Hub     streaming.EventHub
	Logger  *slog.Logger
	Version string
}

// WFStatusServer wraps an MCP server with the status query and driver tools.
type WFStatusServer struct {
	driver    Driver
	store     store.Store
	events    *store.EventLog
	engines   *expressions.Engines
	hub       streaming.EventHub
	logger    *slog.Logger
	mcpServer *server.MCPServer
	watches   *WatchRegistry
	notifier  SessionNotifier
}

// NewWFStatusServer creates a WFStatusServer with every tool registered.
func NewWFStatusServer(deps WFStatusServerDeps) *WFStatusServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &WFStatusServer{
		driver:  deps.Driver,
		store:   deps.Store,
		engines: deps.Engines,
		hub:     deps.Hub,
		logger:  logger,
		watches: NewWatchRegistry(),
	}
	if deps.Store != nil {
		s.events = store.NewEventLog(deps.Store)
	}

	mcpSrv := server.NewMCPServer(
		"wfstatus",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("wfstatus tracks which jobs of a workflow are in each stage (prep, submitted, running, finished) "+
			"and derives the workflow run state. Use wfstatus.register to start tracking, wfstatus.advance to move jobs, "+
			"wfstatus.status for the current status and its binary encoding, wfstatus.query to search the archive, "+
			"and wfstatus.watch to receive run-state notifications."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.watches)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *WFStatusServer) Serve(ctx context.Context) error {
	defer s.watches.Close()
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *WFStatusServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *WFStatusServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: registerTool(), Handler: s.handleRegister},
		{Tool: submitTool(), Handler: s.handleSubmit},
		{Tool: advanceTool(), Handler: s.handleAdvance},
		{Tool: failInfoTool(), Handler: s.handleFailInfo},
		{Tool: discardTool(), Handler: s.handleDiscard},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: decodeTool(), Handler: s.handleDecode},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: watchTool(), Handler: s.handleWatch},
	}
}

// --- Tool definitions ---

func registerTool() mcp.Tool {
	return mcp.NewTool("wfstatus.register",
		mcp.WithDescription("Register a workflow and start tracking its jobs"),
		mcp.WithObject("conf", mcp.Required(),
			mcp.Description(`Workflow conf: {"name": string, "jobs": [{"name": string, "depends_on": [string]}], "metadata": object}`)),
	)
}

func submitTool() mcp.Tool {
	return mcp.NewTool("wfstatus.submit",
		mcp.WithDescription("Mark a workflow as submitted"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func advanceTool() mcp.Tool {
	return mcp.NewTool("wfstatus.advance",
		mcp.WithDescription("Move a job to a new stage"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("job", mcp.Required(), mcp.Description("Job name from the workflow conf")),
		mcp.WithString("stage", mcp.Required(),
			mcp.Enum("prep", "submitted", "running", "finished"),
			mcp.Description("Target stage"),
		),
	)
}

func failInfoTool() mcp.Tool {
	return mcp.NewTool("wfstatus.fail_info",
		mcp.WithDescription("Record a failure reason on a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("failure_info", mcp.Required(), mcp.Description("Failure reason")),
	)
}

func discardTool() mcp.Tool {
	return mcp.NewTool("wfstatus.discard",
		mcp.WithDescription("Stop tracking a workflow and drop its archived history"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("wfstatus.status",
		mcp.WithDescription("Get the status of a workflow and its binary encoding"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func decodeTool() mcp.Tool {
	return mcp.NewTool("wfstatus.decode",
		mcp.WithDescription("Decode a base64 binary workflow status"),
		mcp.WithString("data", mcp.Required(), mcp.Description("Base64 (standard encoding) status bytes")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("wfstatus.query",
		mcp.WithDescription("Query live workflows, archived workflows, events, snapshots, or a workflow history"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("live", "workflows", "events", "snapshots", "history"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (run_state, tracker, workflow_id, job, event_type, since, limit)")),
		mcp.WithString("where", mcp.Description("Boolean expression over the document root (workflow, event or snapshot)")),
		mcp.WithString("lang", mcp.Enum("cel", "expr"), mcp.Description("Language of where (default: cel)")),
		mcp.WithString("project", mcp.Description("jq program applied to each matching document")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("wfstatus.diagram",
		mcp.WithDescription("Render the job graph of a workflow coloured by job stage"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("format", mcp.Enum("mermaid", "ascii"), mcp.Description("Output format (default: mermaid)")),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("wfstatus.watch",
		mcp.WithDescription("Receive session notifications for workflow events"),
		mcp.WithString("workflow_id", mcp.Description("Only events of this workflow")),
		mcp.WithArray("event_types", mcp.Description("Only these event types (default: run-state changes)"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("cancel", mcp.Description("Watch ID to cancel instead of starting a watch")),
	)
}
