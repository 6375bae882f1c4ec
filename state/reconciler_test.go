package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	chatID string
	stream Stream
	data   any
}

type recordingNotifier struct {
	mu     sync.Mutex
	notes  []note
	pushed []string
}

func (n *recordingNotifier) Notify(chatID string, stream Stream, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{chatID: chatID, stream: stream, data: data})
}

func (n *recordingNotifier) Push(chatID string, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushed = append(n.pushed, chatID+":"+ev.Kind())
}

func (n *recordingNotifier) streams() []Stream {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Stream, 0, len(n.notes))
	for _, nt := range n.notes {
		out = append(out, nt.stream)
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = nil
	n.pushed = nil
}

// steppingClock returns strictly increasing times.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	opts = append([]Option{WithClock(steppingClock())}, opts...)
	return NewReconciler(n, nil, opts...), n
}

func planThree() QuestionsPlanned {
	return QuestionsPlanned{Questions: []PlannedQuestion{
		{ID: 1, Question: "What is the current state of the market?", Category: "current_state"},
		{ID: 2, Question: "Who are the key players?", Category: "key_players"},
		{ID: 3, Question: "What trends are emerging?", Category: "trends"},
	}}
}

// assertQuestionTaskConsistency checks that every completed question has a
// completed task entry at progress 100.
func assertQuestionTaskConsistency(t *testing.T, r *Reconciler, chatID string) {
	t.Helper()
	view := r.Questions(chatID)
	tasks := r.Tasks(chatID)
	for _, q := range view.Questions {
		if q.Status != QuestionStatusCompleted {
			continue
		}
		assert.Equal(t, 100, q.Progress, "question %d progress", q.QuestionID)
		found := false
		for _, task := range tasks {
			if task.QuestionID == q.QuestionID {
				found = true
				assert.Equal(t, TaskCompleted, task.Status, "task for question %d", q.QuestionID)
				assert.Equal(t, 100, task.Progress, "task progress for question %d", q.QuestionID)
			}
		}
		assert.True(t, found, "no task entry for question %d", q.QuestionID)
	}
}

func TestApplyRequiresChatID(t *testing.T) {
	r, _ := newTestReconciler(t)
	err := r.Apply(context.Background(), "", QuestionStarted{QuestionID: 1})
	assert.ErrorIs(t, err, ErrChatIDRequired)
}

func TestQuestionsPlannedCreatesTasks(t *testing.T) {
	r, n := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, "chat-1", planThree()))

	tasks := r.Tasks("chat-1")
	require.Len(t, tasks, 4)
	assert.Equal(t, "Q1: What is the current state of the market?", tasks[0].Title)
	assert.Equal(t, 3, tasks[2].QuestionID)
	assert.Equal(t, "synthesis", tasks[3].ID)
	for _, task := range tasks {
		assert.Equal(t, TaskPending, task.Status)
	}

	view := r.Questions("chat-1")
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, "question_driven", view.WorkflowType)
	assert.ElementsMatch(t, []Stream{StreamTasks, StreamQuestions, StreamComms}, n.streams())
}

func TestQuestionTitleTruncated(t *testing.T) {
	long := "This question is deliberately written to be much longer than sixty characters in total"
	title := questionTitle(4, long)
	assert.Equal(t, "Q4: "+string([]rune(long)[:60])+"...", title)
}

func TestQuestionLifecycleConsistentAfterEveryEvent(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	chatID := "chat-consistency"

	events := []Event{
		planThree(),
		QuestionAssigned{QuestionID: 1, Agent: "researcher"},
		QuestionStarted{QuestionID: 1, Agent: "researcher"},
		QuestionProgress{QuestionID: 1, Progress: 50, Phase: "collecting"},
		QuestionCompleted{QuestionID: 1, Agent: "researcher", Summary: "done"},
		QuestionProgress{QuestionID: 1, Progress: 20}, // late progress after completion is ignored
		QuestionStarted{QuestionID: 2, Agent: "researcher"},
		QuestionProgress{QuestionID: 2, Progress: 100},
		QuestionProgress{QuestionID: 3, Progress: 30},
		QuestionStarted{QuestionID: 7, Question: "unplanned question"},
		QuestionCompleted{QuestionID: 3},
		QuestionCompleted{QuestionID: 7},
		WorkflowCompleted{WorkflowID: "wf", QuestionsAnswered: 4},
	}

	for i, ev := range events {
		require.NoError(t, r.Apply(ctx, chatID, ev), "event %d", i)
		assertQuestionTaskConsistency(t, r, chatID)
	}

	view := r.Questions(chatID)
	assert.Equal(t, 4, view.Completed)
	assert.Equal(t, []int{1, 2, 3, 7}, view.Answered)
	assert.Equal(t, 100, view.Percentage)
	assert.Equal(t, MissionCompleted, r.MissionState(chatID))
}

func TestQuestionStartedSetsActive(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, "c", planThree()))
	require.NoError(t, r.Apply(ctx, "c", QuestionStarted{QuestionID: 2, Agent: "researcher"}))

	view := r.Questions("c")
	q := view.Questions[1]
	assert.Equal(t, QuestionStatusActive, q.Status)
	assert.Equal(t, 10, q.Progress)
	assert.Equal(t, "researching", q.Phase)
	assert.Equal(t, "researcher", q.AssignedAgent)
	require.NotNil(t, q.StartedAt)

	task := r.Tasks("c")[1]
	assert.Equal(t, TaskInProgress, task.Status)
	assert.Equal(t, 10, task.Progress)
	assert.Equal(t, "researcher", task.Agent)
}

func TestConversationLogBounded(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	total := DefaultCommsLimit + 37
	for i := range total {
		require.NoError(t, r.Apply(ctx, "chat", AgentConversation{
			From:    "orchestrator",
			To:      "researcher",
			Message: fmt.Sprintf("message %d", i),
		}))
		assert.LessOrEqual(t, len(r.Comms("chat")), DefaultCommsLimit)
	}

	comms := r.Comms("chat")
	require.Len(t, comms, DefaultCommsLimit)
	assert.Equal(t, fmt.Sprintf("message %d", total-DefaultCommsLimit), comms[0].Message)
	assert.Equal(t, fmt.Sprintf("message %d", total-1), comms[len(comms)-1].Message)
	for i := 1; i < len(comms); i++ {
		assert.True(t, comms[i].Timestamp.After(comms[i-1].Timestamp))
	}
}

func TestConversationLogKeepsMostRecentByTimestamp(t *testing.T) {
	r, _ := newTestReconciler(t, WithLimits(Limits{Comms: 3}))
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, m := range []struct {
		msg string
		at  time.Duration
	}{
		{"A", 10 * time.Minute},
		{"B", 20 * time.Minute},
		{"C", 30 * time.Minute},
		{"D", 1 * time.Minute},
		{"E", 15 * time.Minute},
	} {
		require.NoError(t, r.Apply(ctx, "chat", AgentConversation{
			From:      "researcher",
			To:        "planner",
			Message:   m.msg,
			Timestamp: base.Add(m.at),
		}))
	}

	comms := r.Comms("chat")
	require.Len(t, comms, 3)
	got := make([]string, len(comms))
	for i, c := range comms {
		got[i] = c.Message
	}
	assert.Equal(t, []string{"E", "B", "C"}, got)
}

func TestConversationLogEqualTimestampsKeepArrivalOrder(t *testing.T) {
	r, _ := newTestReconciler(t, WithLimits(Limits{Comms: 2}))
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, r.Apply(ctx, "chat", AgentConversation{From: "a", To: "b", Message: msg, Timestamp: at}))
	}
	comms := r.Comms("chat")
	require.Len(t, comms, 2)
	assert.Equal(t, "second", comms[0].Message)
	assert.Equal(t, "third", comms[1].Message)
}

func TestOperationsLogBoundedWithCustomLimit(t *testing.T) {
	r, _ := newTestReconciler(t, WithLimits(Limits{Operations: 5}))
	ctx := context.Background()

	for i := range 12 {
		require.NoError(t, r.Apply(ctx, "chat", AgentOperation{Agent: "analyst", Type: "analysis", Title: fmt.Sprintf("op %d", i)}))
	}
	ops := r.Operations("chat")
	require.Len(t, ops, 5)
	assert.Equal(t, "op 7", ops[0].Title)
	assert.Equal(t, DefaultCommsLimit, r.Limits().Comms)
}

func TestNotifiesOnlyAffectedStreams(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []Stream
	}{
		{"operation", AgentOperation{Agent: "a", Title: "x"}, []Stream{StreamOperations}},
		{"conversation", AgentConversation{From: "a", To: "b", Message: "hi"}, []Stream{StreamComms}},
		{"assignment", QuestionAssigned{QuestionID: 1, Agent: "researcher"}, []Stream{StreamTasks, StreamQuestions}},
		{"workflow progress", WorkflowProgress{Completed: 1, Total: 3}, []Stream{StreamQuestions}},
		{"deliverable update", DeliverableUpdated{Deliverable: Deliverable{Title: "Report"}}, []Stream{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, n := newTestReconciler(t)
			require.NoError(t, r.Apply(context.Background(), "chat", tt.ev))
			assert.Equal(t, tt.want, n.streams())
			assert.Equal(t, []string{"chat:" + tt.ev.Kind()}, n.pushed)
		})
	}
}

type unknownEvent struct{}

func (unknownEvent) Kind() string { return "from_the_future" }
func (unknownEvent) isEvent()     {}

func TestUnknownEventIgnored(t *testing.T) {
	r, n := newTestReconciler(t)
	require.NoError(t, r.Apply(context.Background(), "chat", unknownEvent{}))
	assert.Empty(t, n.notes)
	assert.Empty(t, n.pushed)
}

func TestOperationUpdated(t *testing.T) {
	r, n := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, "chat", AgentOperation{OperationID: "op-x", Agent: "writer", Title: "Drafting"}))
	require.NoError(t, r.Apply(ctx, "chat", OperationUpdated{OperationID: "op-x", Status: "complete", Progress: 100}))

	ops := r.Operations("chat")
	require.Len(t, ops, 1)
	assert.Equal(t, "complete", ops[0].Status)
	assert.Equal(t, 100, ops[0].Progress)

	n.reset()
	require.NoError(t, r.Apply(ctx, "chat", OperationUpdated{OperationID: "missing", Status: "complete"}))
	assert.Empty(t, n.streams())
}

func TestDeliverableUpdateReplacesByTitle(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, "chat", DeliverableCreated{Deliverable: Deliverable{Title: "Report", Type: "document", Content: "v1"}}))
	first := r.Deliverables("chat")[0]

	require.NoError(t, r.Apply(ctx, "chat", DeliverableUpdated{Deliverable: Deliverable{Title: "Report", Type: "document", Content: "v2"}}))
	require.NoError(t, r.Apply(ctx, "chat", DeliverableUpdated{Deliverable: Deliverable{Title: "Slides", Type: "presentation"}}))

	ds := r.Deliverables("chat")
	require.Len(t, ds, 2)
	assert.Equal(t, first.ID, ds[0].ID)
	assert.Equal(t, "v2", ds[0].Content)
	assert.Equal(t, first.CreatedAt, ds[0].CreatedAt)
	assert.Equal(t, "Slides", ds[1].Title)
}

func TestMissionTransitionsForwardOnly(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	assert.Equal(t, MissionPending, r.MissionState("chat"))
	require.NoError(t, r.Apply(ctx, "chat", MissionTransition{To: MissionApproved}))
	assert.Equal(t, MissionApproved, r.MissionState("chat"))
	require.NoError(t, r.Apply(ctx, "chat", MissionTransition{To: MissionPending}))
	assert.Equal(t, MissionApproved, r.MissionState("chat"))
	require.NoError(t, r.Apply(ctx, "chat", MissionTransition{To: "BOGUS"}))
	assert.Equal(t, MissionApproved, r.MissionState("chat"))
}

func TestWorkflowStartedBeginsNewMission(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, "chat", WorkflowStarted{WorkflowID: "wf-1", TotalQuestions: 3}))
	assert.Equal(t, MissionActive, r.MissionState("chat"))
	require.NoError(t, r.Apply(ctx, "chat", WorkflowCompleted{WorkflowID: "wf-1", QuestionsAnswered: 3}))
	assert.Equal(t, MissionCompleted, r.MissionState("chat"))

	// A transition event cannot move the mission back.
	require.NoError(t, r.Apply(ctx, "chat", MissionTransition{To: MissionActive}))
	assert.Equal(t, MissionCompleted, r.MissionState("chat"))

	// A second run resets it.
	require.NoError(t, r.Apply(ctx, "chat", WorkflowStarted{WorkflowID: "wf-2", TotalQuestions: 2}))
	assert.Equal(t, MissionActive, r.MissionState("chat"))
	assert.Equal(t, "wf-2", r.Workflow("chat").WorkflowID)
	require.NoError(t, r.Apply(ctx, "chat", WorkflowCompleted{WorkflowID: "wf-2", QuestionsAnswered: 2}))
	assert.Equal(t, MissionCompleted, r.MissionState("chat"))
}

func TestMissionCompletedSweepsTasks(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, "chat", planThree()))
	require.NoError(t, r.Apply(ctx, "chat", MissionTransition{To: MissionCompleted, Stats: map[string]any{"source": "ui"}}))

	tasks := r.Tasks("chat")
	require.Len(t, tasks, 5)
	for _, task := range tasks {
		assert.Equal(t, TaskCompleted, task.Status)
		assert.Equal(t, 100, task.Progress)
	}
	assert.Equal(t, "mission-complete", tasks[4].ID)
	assertQuestionTaskConsistency(t, r, "chat")
	assert.Equal(t, "ui", r.Snapshot("chat").Stats["source"])
}

func TestWorkflowFailedMarksInFlightQuestion(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, "chat", planThree()))
	require.NoError(t, r.Apply(ctx, "chat", WorkflowStarted{WorkflowID: "wf", TotalQuestions: 3}))
	require.NoError(t, r.Apply(ctx, "chat", QuestionStarted{QuestionID: 1, Agent: "researcher"}))
	require.NoError(t, r.Apply(ctx, "chat", WorkflowFailed{WorkflowID: "wf", Agent: "researcher", Step: "collect_question_data", Error: "boom"}))

	snap := r.Snapshot("chat")
	assert.Equal(t, "failed", snap.Workflow.Status)
	assert.Equal(t, "researcher", snap.Workflow.Agent)
	assert.Equal(t, "boom", snap.Workflow.Error)
	assert.Equal(t, QuestionStatusFailed, snap.Questions.Questions[0].Status)
	assert.Equal(t, TaskFailed, snap.Tasks[0].Status)
	assert.Equal(t, MissionActive, snap.MissionState)

	last := snap.Comms[len(snap.Comms)-1]
	assert.Equal(t, "error", last.Type)
	assert.Contains(t, last.Message, "boom")
}

func TestWorkflowStepsTrackSynthesisTask(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, "chat", planThree()))

	step := WorkflowStepStarted{WorkflowID: "wf", StepNumber: 5, Agent: "writer", TaskType: "synthesize_comprehensive_report"}
	require.NoError(t, r.Apply(ctx, "chat", step))
	synth := r.Tasks("chat")[3]
	assert.Equal(t, TaskInProgress, synth.Status)

	require.NoError(t, r.Apply(ctx, "chat", WorkflowStepCompleted(step)))
	synth = r.Tasks("chat")[3]
	assert.Equal(t, TaskCompleted, synth.Status)

	ops := r.Operations("chat")
	require.Len(t, ops, 1)
	assert.Equal(t, "wf-step-5", ops[0].ID)
	assert.Equal(t, "complete", ops[0].Status)
}

func TestPlannerResponseWithQuestions(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, "chat", PlannerThinking{Message: "Considering the scope"}))
	require.NoError(t, r.Apply(ctx, "chat", PlannerResponse{
		Message:   "Here is the plan",
		Stage:     "planning",
		Plan:      map[string]any{"title": "EV batteries"},
		Questions: planThree().Questions,
	}))

	conv := r.PlannerConversation("chat")
	assert.Equal(t, "planning", conv.Stage)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, "EV batteries", conv.Plan["title"])
	assert.Equal(t, 3, r.Questions("chat").Total)
}

func TestChatsIsolatedAndConcurrent(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for c := range 8 {
		wg.Add(1)
		go func(chatID string) {
			defer wg.Done()
			for i := range 50 {
				_ = r.Apply(ctx, chatID, AgentConversation{From: "a", To: "b", Message: fmt.Sprint(i)})
			}
		}(fmt.Sprintf("chat-%d", c))
	}
	wg.Wait()

	assert.Len(t, r.Chats(), 8)
	for _, id := range r.Chats() {
		comms := r.Comms(id)
		require.Len(t, comms, 50)
		assert.Equal(t, "0", comms[0].Message)
		assert.Equal(t, "49", comms[49].Message)
	}
}

func TestPerChatNotificationOrder(t *testing.T) {
	r, n := newTestReconciler(t)
	ctx := context.Background()
	for i := range 20 {
		require.NoError(t, r.Apply(ctx, "chat", AgentOperation{Agent: "a", Title: fmt.Sprint(i)}))
	}
	for i, nt := range n.notes {
		ops := nt.data.([]Operation)
		assert.Equal(t, fmt.Sprint(i), ops[len(ops)-1].Title)
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(KindQuestionStarted, []byte(`{"question_id": 2, "agent_name": "researcher"}`))
	require.NoError(t, err)
	assert.Equal(t, QuestionStarted{QuestionID: 2, Agent: "researcher"}, ev)

	ev, err = DecodeEvent(KindMissionComplete, []byte(`{"reason": "done"}`))
	require.NoError(t, err)
	assert.Equal(t, MissionTransition{To: MissionCompleted, Reason: "done"}, ev)

	_, err = DecodeEvent("something_new", nil)
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = DecodeEvent(KindQuestionProgress, []byte(`{"progress": "high"}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownEvent))
}

func TestDecodeEnvelope(t *testing.T) {
	kind, ev, err := DecodeEnvelope([]byte(`{"event": "agent_operation", "agent_name": "analyst", "title": "Correlating"}`))
	require.NoError(t, err)
	assert.Equal(t, KindAgentOperation, kind)
	assert.Equal(t, AgentOperation{Agent: "analyst", Title: "Correlating"}, ev)

	kind, ev, err = DecodeEnvelope([]byte(`{"event": "question_assigned", "data": {"question_id": 3, "agent_name": "researcher"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindQuestionAssigned, kind)
	assert.Equal(t, QuestionAssigned{QuestionID: 3, Agent: "researcher"}, ev)

	_, _, err = DecodeEnvelope([]byte(`{"data": {}}`))
	require.Error(t, err)
}

func TestEncodeEnvelope(t *testing.T) {
	body, err := EncodeEnvelope(WorkflowFailed{WorkflowID: "wf-1", Agent: "analyst", Step: "analyze_all_collected_data", Error: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"workflow_failed","workflow_id":"wf-1","agent_name":"analyst","step":"analyze_all_collected_data","error":"boom"}`, string(body))

	kind, ev, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, KindWorkflowFailed, kind)
	assert.Equal(t, WorkflowFailed{WorkflowID: "wf-1", Agent: "analyst", Step: "analyze_all_collected_data", Error: "boom"}, ev)
}
