package metric

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.TaskDispatched("researcher", "collect_question_data")
	m.TaskDispatched("researcher", "collect_question_data")
	m.ResponseReceived("analyst", "error")
	m.ClarificationRequested("researcher")
	m.EventApplied("agent_conversation")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksDispatched.WithLabelValues("researcher", "collect_question_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues("analyst", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clarifications.WithLabelValues("researcher")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsApplied.WithLabelValues("agent_conversation")))
}

func TestMetrics_WorkflowLifecycle(t *testing.T) {
	m := New()

	m.WorkflowStarted()
	m.WorkflowStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.workflowsActive))

	m.WorkflowFinished("completed", 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflowsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflows.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.workflowDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskDispatched("a", "b")
		m.ResponseReceived("a", "completed")
		m.ClarificationRequested("a")
		m.WorkflowStarted()
		m.WorkflowFinished("failed", time.Second)
		m.EventApplied("x")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TaskDispatched("planner", "coordinate_mission")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `legion_tasks_dispatched_total{agent="planner",task_type="coordinate_mission"} 1`)
}
