package panel

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rendis/wfstatus/internal/diagram"
	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/workflow"
)

// wireContentType marks a body holding the binary status encoding.
const wireContentType = "application/octet-stream"

type workflowSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	RunState schema.RunState `json:"run_state"`
	Finished bool            `json:"finished"`
	Counts   map[string]int  `json:"counts"`
}

// handleWorkflows lists tracked workflows, optionally narrowed by run_state.
func (s *PanelServer) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	var runState *schema.RunState
	if v := r.URL.Query().Get("run_state"); v != "" {
		rs, err := schema.ParseRunState(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		runState = &rs
	}
	limit := queryInt(r, "limit", 0)

	out := []workflowSummary{}
	for _, id := range s.deps.Tracker.List() {
		sn, err := s.deps.Tracker.Snapshot(id.String())
		if err != nil {
			continue // discarded since List
		}
		if runState != nil && sn.RunState != *runState {
			continue
		}
		var name string
		if conf, err := s.deps.Tracker.Conf(id.String()); err == nil {
			name = conf.Name
		}
		counts := make(map[string]int, len(schema.Stages))
		for _, st := range schema.Stages {
			counts[string(st)] = len(sn.Jobs(st))
		}
		out = append(out, workflowSummary{
			ID:       sn.ID.String(),
			Name:     name,
			RunState: sn.RunState,
			Finished: sn.Finished,
			Counts:   counts,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": out, "count": len(out)})
}

// handleWorkflow returns the JSON snapshot of one tracked workflow.
func (s *PanelServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	sn, err := s.deps.Tracker.Snapshot(r.PathValue("id"))
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

// handleWireStatus returns the binary encoding of a workflow's status. A
// workflow no longer tracked is served from its latest archived snapshot.
func (s *PanelServer) handleWireStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sn, err := s.deps.Tracker.Snapshot(id)
	if err == nil {
		var buf bytes.Buffer
		if _, err := workflow.EncodeSnapshot(&buf, sn); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("encode status: %v", err))
			return
		}
		writeWire(w, buf.Bytes(), "live", sn.RunState, time.Time{})
		return
	}
	if s.deps.Store == nil || !schema.HasCode(err, schema.ErrCodeNotFound) {
		writeSchemaError(w, err)
		return
	}

	snap, err := s.deps.Store.LatestSnapshot(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeWire(w, snap.Data, "archive", snap.RunState, snap.TakenAt)
}

func writeWire(w http.ResponseWriter, data []byte, source string, rs schema.RunState, takenAt time.Time) {
	h := w.Header()
	h.Set("Content-Type", wireContentType)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("X-Wfstatus-Source", source)
	h.Set("X-Wfstatus-Run-State", string(rs))
	if !takenAt.IsZero() {
		h.Set("X-Wfstatus-Taken-At", takenAt.UTC().Format(time.RFC3339Nano))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleDiagram renders a tracked workflow's job graph as Mermaid or ASCII.
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "mermaid"
	}
	if format != "mermaid" && format != "ascii" {
		writeError(w, http.StatusBadRequest, "format must be mermaid or ascii")
		return
	}

	conf, err := s.deps.Tracker.Conf(id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	sn, err := s.deps.Tracker.Snapshot(id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	model, err := diagram.Build(&conf, &sn)
	if err != nil {
		writeSchemaError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if format == "ascii" {
		fmt.Fprint(w, diagram.RenderASCII(model))
		return
	}
	fmt.Fprint(w, diagram.RenderMermaid(model))
}

// handleEvents returns the archived transition log of a workflow.
func (s *PanelServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "archive is not configured")
		return
	}
	id := r.PathValue("id")
	since := int64(queryInt(r, "since", 0))

	events, err := s.deps.Store.GetEvents(r.Context(), id, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get events: %v", err))
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_id": id, "events": events})
}

// handleDiscard stops tracking a workflow.
func (s *PanelServer) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Tracker.Discard(r.Context(), id); err != nil {
		writeSchemaError(w, err)
		return
	}
	s.deps.Logger.Info("workflow discarded via panel", "workflow_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "workflow_id": id})
}
