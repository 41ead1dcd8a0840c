// Package panel serves read-mostly HTTP endpoints over the tracked
// workflows: JSON status, raw wire-encoded status for remote status
// queries, job diagrams and Server-Sent Events from the hub.
package panel

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/internal/streaming"
	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// Tracker is the part of the driver the panel reads and discards through.
type Tracker interface {
	Snapshot(id string) (workflow.Snapshot, error)
	Conf(id string) (schema.WorkflowConf, error)
	List() []workflow.ID
	Discard(ctx context.Context, id string) error
}

// PanelDeps holds the dependencies for the panel server.
// Store and Hub are optional.
type PanelDeps struct {
	Tracker Tracker
	Store   store.Store
	Hub     streaming.EventHub
	Logger  *slog.Logger
}

// PanelServer serves the status endpoints.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealth)

	mux.HandleFunc("GET /api/workflows", s.handleWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/status", s.handleWireStatus)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("GET /api/workflows/{id}/events", s.handleEvents)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDiscard)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)

	return mux
}

// HealthHandler serves only /healthz, for when the panel is disabled.
func HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
