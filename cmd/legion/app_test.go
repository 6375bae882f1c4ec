package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/legion/config"
	"github.com/c360studio/legion/state"
	"github.com/c360studio/legion/workflow"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Keepalive = 100 * time.Millisecond
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return app
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestApp_MissionOverHTTP(t *testing.T) {
	app := newTestApp(t, testConfig())
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chats/chat-1/missions", "application/json",
		strings.NewReader(`{"research_focus":"grid-scale storage","mission_plan":{"title":"Grid Outlook"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started MissionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, "chat-1", started.ChatID)
	assert.Equal(t, 6, started.Questions)
	require.NotEmpty(t, started.WorkflowID)

	require.Eventually(t, func() bool {
		w, ok := app.orchestrator.Workflow(started.WorkflowID)
		return ok && w.Status == workflow.StatusCompleted &&
			app.reconciler.MissionState("chat-1") == state.MissionCompleted
	}, 5*time.Second, 20*time.Millisecond)

	var w workflow.Instance
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/workflows/"+started.WorkflowID, &w))
	assert.Equal(t, "chat-1", w.ChatID)

	var mission map[string]state.MissionState
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/chats/chat-1/mission", &mission))
	assert.Equal(t, state.MissionCompleted, mission["mission_state"])

	var deliverables []state.Deliverable
	getJSON(t, srv.URL+"/chats/chat-1/deliverables", &deliverables)
	assert.Len(t, deliverables, 3)

	var runs []workflow.Instance
	getJSON(t, srv.URL+"/workflows?chat_id=chat-1", &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "Grid Outlook", runs[0].Mission.Title())

	var active []workflow.Instance
	getJSON(t, srv.URL+"/workflows", &active)
	assert.Empty(t, active)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/workflows/nope", nil))
}

func TestApp_MissionRejectsBadInput(t *testing.T) {
	app := newTestApp(t, testConfig())
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	for _, body := range []string{`{nope`, `{"research_questions":"x"}`} {
		resp, err := http.Post(srv.URL+"/chats/chat-1/missions", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestApp_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t, testConfig())
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	var health struct {
		Status string   `json:"status"`
		Agents []string `json:"agents"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Len(t, health.Agents, 4)

	_, _, err := app.RunMission(context.Background(), "chat-m", &workflow.MissionContext{ResearchFocus: "wind"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `legion_workflows_total{status="completed"} 1`)
}

func TestApp_RunMissionArchivesToNATS(t *testing.T) {
	cfg := testConfig()
	cfg.NATS.Enabled = true
	cfg.NATS.Archive = true
	cfg.NATS.StoreDir = t.TempDir()
	app := newTestApp(t, cfg)
	require.NotNil(t, app.store)

	result, w, err := app.RunMission(context.Background(), "chat-n", &workflow.MissionContext{ResearchFocus: "tidal power"})
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Len(t, result.Deliverables, 3)

	rec, err := app.store.GetWorkflow(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, rec.Status)
	assert.Equal(t, 6, rec.Answered)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	var archived []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/workflows/archive?chat_id=chat-n", &archived))
	require.Len(t, archived, 1)
	assert.Equal(t, w.ID, archived[0]["workflow_id"])

	var none []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/workflows/archive?chat_id=other", &none))
	assert.Empty(t, none)
}

func TestApp_InboxStartsMissions(t *testing.T) {
	cfg := testConfig()
	cfg.Inbox.Enabled = true
	cfg.Inbox.Dir = t.TempDir()
	cfg.Inbox.Debounce = 20 * time.Millisecond
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Inbox.Dir, "geo.mission.yaml"),
		[]byte("research_focus: geothermal\nresearch_questions:\n  - Who drills?\n"), 0o644))

	app := newTestApp(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	assert.Eventually(t, func() bool {
		return app.reconciler.MissionState("geo") == state.MissionCompleted
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, app.waitForActive(time.Second))
}

func TestWithDefaultQuestions(t *testing.T) {
	mc := &workflow.MissionContext{ResearchFocus: "hydrogen"}
	withDefaultQuestions(mc)
	require.Len(t, mc.Questions, 6)
	assert.NoError(t, mc.Validate())
	assert.Contains(t, mc.Questions[0].Question, "hydrogen")

	given := &workflow.MissionContext{Questions: []*workflow.ResearchQuestion{{ID: 1, Question: "Mine?"}}}
	withDefaultQuestions(given)
	assert.Len(t, given.Questions, 1)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, nil, nil)
	assert.Contains(t, buf.String(), "No workflow")

	buf.Reset()
	w := &workflow.Instance{
		ID:          "wf-1",
		Status:      workflow.StatusFailed,
		Mission:     &workflow.MissionContext{ResearchFocus: "fusion", Questions: []*workflow.ResearchQuestion{{ID: 1, Question: "q"}}},
		FailedStep:  "analyze_all_collected_data",
		FailedAgent: "analyst",
		Error:       "boom",
	}
	printSummary(&buf, w, nil)
	assert.Contains(t, buf.String(), "Questions answered: 0/1")
	assert.Contains(t, buf.String(), "Failed at analyze_all_collected_data (analyst): boom")
}

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "legion version "+Version)
}
