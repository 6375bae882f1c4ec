package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/c360studio/legion/state"
)

// DefaultKeepalive is the SSE keepalive interval.
const DefaultKeepalive = 30 * time.Second

// maxEventBody caps POSTed and WebSocket-received event bodies.
const maxEventBody = 1 << 20

// SSE event names besides the stream names themselves.
const (
	SSEEventConnected = "connected"
	SSEEventKeepalive = "keepalive"
)

// Handler serves the polling, streaming and event-ingest endpoints for all
// chats.
type Handler struct {
	hub       *Hub
	rec       *state.Reconciler
	keepalive time.Duration
	logger    *slog.Logger
}

// NewHandler creates the HTTP handler. keepalive <= 0 uses
// DefaultKeepalive.
func NewHandler(hub *Hub, rec *state.Reconciler, keepalive time.Duration, logger *slog.Logger) *Handler {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, rec: rec, keepalive: keepalive, logger: logger}
}

// RegisterHTTPHandlers mounts the endpoints under prefix (e.g. "/chats").
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")

	// GET /chats/{chat}/{view} - current view for polling clients
	mux.HandleFunc("GET "+prefix+"/{chat}/{view}", h.handleView)

	// GET /chats/{chat}/stream/{view} - SSE snapshots and updates
	mux.HandleFunc("GET "+prefix+"/{chat}/stream/{view}", h.handleStream)

	// GET /chats/{chat}/ws - raw event push over WebSocket
	mux.Handle("GET "+prefix+"/{chat}/ws", websocket.Server{
		Handshake: acceptAnyOrigin,
		Handler:   h.handleSocket,
	})

	// POST /chats/{chat}/events - apply an externally produced event
	mux.HandleFunc("POST "+prefix+"/{chat}/events", h.handleEvent)

	// GET /chats - chats with state
	mux.HandleFunc("GET "+prefix, h.handleChats)
}

// ChatsResponse is the response for GET /chats.
type ChatsResponse struct {
	Chats []string `json:"chats"`
}

// EventResponse is the response for POST /chats/{chat}/events.
type EventResponse struct {
	Status string `json:"status"`
	Event  string `json:"event"`
}

func (h *Handler) handleChats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ChatsResponse{Chats: h.rec.Chats()}, h.logger)
}

// handleView serves one of the chat's views. The stream views match what SSE
// subscribers receive.
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat")
	view := r.PathValue("view")

	var data any
	switch view {
	case string(state.StreamTasks), string(state.StreamOperations), string(state.StreamComms), string(state.StreamQuestions):
		data = h.rec.View(chatID, state.Stream(view))
	case "deliverables":
		data = h.rec.Deliverables(chatID)
	case "mission":
		data = map[string]state.MissionState{"mission_state": h.rec.MissionState(chatID)}
	case "workflow":
		data = h.rec.Workflow(chatID)
	case "planner":
		data = h.rec.PlannerConversation(chatID)
	case "snapshot":
		data = h.rec.Snapshot(chatID)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown view %q", view))
		return
	}
	writeJSON(w, http.StatusOK, data, h.logger)
}

// handleStream serves SSE for one stream. View streams start with the
// current snapshot; every later message is a full replacement.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := r.PathValue("chat")
	stream := state.Stream(r.PathValue("view"))
	if !validStream(stream) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown stream %q", stream))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	flusher.Flush()

	// Subscribe before reading the snapshot so no update falls in between.
	sub := h.hub.Subscribe(chatID, stream)
	defer sub.Close()

	var eventID uint64
	send := func(event string, data any) bool {
		eventID++
		if err := writeSSE(w, flusher, eventID, event, data); err != nil {
			h.logger.Debug("SSE client disconnected", "chat_id", chatID, "stream", stream, "error", err)
			return false
		}
		return true
	}

	if !send(SSEEventConnected, map[string]string{"chat_id": chatID, "stream": string(stream)}) {
		return
	}
	if stream != StreamSocket && !send(string(stream), h.rec.View(chatID, stream)) {
		return
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if !send(SSEEventKeepalive, map[string]int64{"timestamp": time.Now().Unix()}) {
				return
			}
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			event := string(msg.Stream)
			if msg.Kind != "" {
				event = msg.Kind
			}
			if !send(event, msg.Data) {
				return
			}
		}
	}
}

// handleSocket pushes every event applied to the chat in wire form, and
// applies any event envelopes the client sends.
func (h *Handler) handleSocket(ws *websocket.Conn) {
	defer ws.Close()
	chatID := ws.Request().PathValue("chat")
	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	sub := h.hub.Subscribe(chatID, StreamSocket)
	defer sub.Close()

	go func() {
		defer cancel()
		for {
			var body []byte
			if err := websocket.Message.Receive(ws, &body); err != nil {
				return
			}
			if len(body) > maxEventBody {
				h.logger.Warn("Dropping oversized socket message", "chat_id", chatID, "bytes", len(body))
				continue
			}
			if _, err := h.apply(ctx, chatID, body); err != nil {
				h.logger.Debug("Ignoring socket message", "chat_id", chatID, "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			ev, ok := msg.Data.(state.Event)
			if !ok {
				continue
			}
			body, err := state.EncodeEnvelope(ev)
			if err != nil {
				h.logger.Warn("Failed to encode event", "kind", msg.Kind, "error", err)
				continue
			}
			if err := websocket.Message.Send(ws, string(body)); err != nil {
				h.logger.Debug("WebSocket client disconnected", "chat_id", chatID, "error", err)
				return
			}
		}
	}
}

// handleEvent applies a POSTed event envelope. Unknown kinds are accepted
// and ignored.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxEventBody {
		writeError(w, http.StatusRequestEntityTooLarge, "event too large")
		return
	}

	kind, err := h.apply(r.Context(), chatID, body)
	switch {
	case errors.Is(err, state.ErrUnknownEvent):
		h.logger.Debug("Ignoring unknown event", "chat_id", chatID, "event", kind)
		writeJSON(w, http.StatusAccepted, EventResponse{Status: "ignored", Event: kind}, h.logger)
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, EventResponse{Status: "applied", Event: kind}, h.logger)
	}
}

func (h *Handler) apply(ctx context.Context, chatID string, body []byte) (string, error) {
	kind, ev, err := state.DecodeEnvelope(body)
	if err != nil {
		return kind, err
	}
	return kind, h.rec.Apply(ctx, chatID, ev)
}

func validStream(s state.Stream) bool {
	switch s {
	case state.StreamTasks, state.StreamOperations, state.StreamComms, state.StreamQuestions, StreamSocket:
		return true
	}
	return false
}

// acceptAnyOrigin lets non-browser clients connect without an Origin header.
func acceptAnyOrigin(*websocket.Config, *http.Request) error { return nil }

// writeSSE writes one event. An error means the client went away.
func writeSSE(w io.Writer, flusher http.Flusher, id uint64, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, payload); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	flusher.Flush()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
