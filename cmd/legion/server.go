package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/c360studio/legion/state"
	"github.com/c360studio/legion/storage"
	"github.com/c360studio/legion/stream"
	"github.com/c360studio/legion/workflow"
)

const maxMissionBody = 1 << 20

// MissionResponse is the response for POST /chats/{chat}/missions.
type MissionResponse struct {
	WorkflowID string `json:"workflow_id"`
	ChatID     string `json:"chat_id"`
	Questions  int    `json:"questions"`
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	stream.NewHandler(a.hub, a.reconciler, a.cfg.Server.Keepalive, a.logger).RegisterHTTPHandlers("/chats", mux)

	// POST /chats/{chat}/missions - start a workflow
	mux.HandleFunc("POST /chats/{chat}/missions", a.handleStartMission)

	// GET /workflows - active workflows, or every run of ?chat_id=
	mux.HandleFunc("GET /workflows", a.handleListWorkflows)

	// GET /workflows/archive - archived runs, optionally ?chat_id=
	mux.HandleFunc("GET /workflows/archive", a.handleListArchive)

	// GET /workflows/{id} - one run, live or archived
	mux.HandleFunc("GET /workflows/{id}", a.handleGetWorkflow)

	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"agents": a.orchestrator.Agents(),
		})
	})
	return mux
}

func (a *App) handleStartMission(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMissionBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	raw := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	mc, err := workflow.ParseMissionContext(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := a.StartMission(r.Context(), chatID, mc)
	switch {
	case errors.Is(err, workflow.ErrWorkflowActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, state.ErrChatIDRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, MissionResponse{
		WorkflowID: run.WorkflowID,
		ChatID:     chatID,
		Questions:  len(mc.Questions),
	})
}

func (a *App) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		writeJSON(w, http.StatusOK, a.orchestrator.ListActiveWorkflows())
		return
	}
	runs := a.orchestrator.Workflows(chatID)
	if runs == nil {
		runs = []*workflow.Instance{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *App) handleListArchive(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "workflow archive disabled")
		return
	}
	records, err := a.store.ListWorkflows(r.Context(), r.URL.Query().Get("chat_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*storage.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *App) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if run, ok := a.orchestrator.Workflow(id); ok {
		writeJSON(w, http.StatusOK, run)
		return
	}
	if a.store != nil {
		rec, err := a.store.GetWorkflow(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeError(w, http.StatusNotFound, "workflow not found")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
