package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/c360studio/legion/state"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *state.Reconciler) {
	t.Helper()
	hub := NewHub(16, nil)
	rec := state.NewReconciler(hub, nil)
	mux := http.NewServeMux()
	NewHandler(hub, rec, 50*time.Millisecond, nil).RegisterHTTPHandlers("/chats", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub, rec
}

func planned() state.QuestionsPlanned {
	return state.QuestionsPlanned{Questions: []state.PlannedQuestion{
		{ID: 1, Question: "Who leads the market?"},
		{ID: 2, Question: "What are the risks?"},
	}}
}

func TestHandleView(t *testing.T) {
	srv, _, rec := newTestServer(t)
	require.NoError(t, rec.Apply(t.Context(), "chat-1", planned()))

	resp, err := http.Get(srv.URL + "/chats/chat-1/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var tasks []state.TaskEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tasks))
	require.Len(t, tasks, 3)
	assert.Equal(t, 1, tasks[0].QuestionID)
	assert.Equal(t, 2, tasks[1].QuestionID)
	assert.Equal(t, "synthesis", tasks[2].ID)
	assert.Zero(t, tasks[2].QuestionID)

	resp, err = http.Get(srv.URL + "/chats/chat-1/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap state.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "chat-1", snap.ChatID)
	assert.Equal(t, tasks, snap.Tasks)

	resp, err = http.Get(srv.URL + "/chats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var chats ChatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chats))
	assert.Equal(t, []string{"chat-1"}, chats.Chats)
}

func TestHandleView_Unknown(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/chats/chat-1/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleEvent(t *testing.T) {
	srv, _, rec := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"known event", `{"event":"research_questions_set","research_questions":[{"id":1,"question":"Q?"}]}`, http.StatusOK},
		{"nested data", `{"event":"mission_approved","data":{}}`, http.StatusOK},
		{"unknown event", `{"event":"confetti","color":"blue"}`, http.StatusAccepted},
		{"missing kind", `{"question_id":1}`, http.StatusBadRequest},
		{"not json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/chats/chat-1/events", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	assert.Equal(t, 1, rec.Questions("chat-1").Total)
	assert.Equal(t, state.MissionApproved, rec.MissionState("chat-1"))
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandleStream(t *testing.T) {
	srv, _, rec := newTestServer(t)

	resp, err := http.Get(srv.URL + "/chats/chat-1/stream/questions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, SSEEventConnected, readSSE(t, r).name)

	initial := readSSE(t, r)
	require.Equal(t, "questions", initial.name)
	var view state.QuestionView
	require.NoError(t, json.Unmarshal([]byte(initial.data), &view))
	assert.Equal(t, 0, view.Total)

	require.NoError(t, rec.Apply(t.Context(), "chat-1", planned()))

	for {
		ev := readSSE(t, r)
		if ev.name == SSEEventKeepalive {
			continue
		}
		require.Equal(t, "questions", ev.name)
		require.NoError(t, json.Unmarshal([]byte(ev.data), &view))
		assert.Equal(t, 2, view.Total)
		break
	}
}

func TestHandleStream_Keepalive(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/chats/chat-1/stream/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	readSSE(t, r)
	readSSE(t, r)
	assert.Equal(t, SSEEventKeepalive, readSSE(t, r).name)
}

func TestHandleStream_UnknownStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/chats/chat-1/stream/bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSocket(t *testing.T) {
	srv, hub, rec := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chats/chat-1/ws"
	ws, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return hub.Subscribers("chat-1", StreamSocket) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Outbound: applied events arrive as envelopes.
	require.NoError(t, rec.Apply(t.Context(), "chat-1", state.WorkflowFailed{WorkflowID: "wf-1", Error: "boom"}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var body string
	require.NoError(t, websocket.Message.Receive(ws, &body))
	kind, ev, err := state.DecodeEnvelope([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, state.KindWorkflowFailed, kind)
	assert.Equal(t, "boom", ev.(state.WorkflowFailed).Error)

	// Inbound: envelopes sent by the client are applied.
	require.NoError(t, websocket.Message.Send(ws, `{"event":"research_questions_set","research_questions":[{"id":1,"question":"Q?"}]}`))
	assert.Eventually(t, func() bool {
		return rec.Questions("chat-1").Total == 1
	}, 2*time.Second, 10*time.Millisecond)
}
