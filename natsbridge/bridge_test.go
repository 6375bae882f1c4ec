package natsbridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/legion/state"
)

func embedded(t *testing.T) *Conn {
	t.Helper()
	conn, err := Connect(context.Background(), Config{Embedded: true, Name: "legion-test"}, nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "legion.chat.chat-1.tasks", ChatSubject("legion", "chat-1", "tasks"))
	assert.Equal(t, "legion.chat.a_b_c.socket", ChatSubject("legion", "a.b*c", "socket"))
	assert.Equal(t, "x.events.some_chat", EventSubject("x", "some chat"))
	assert.Equal(t, "x.events._", EventSubject("x", ""))
}

func TestConnect_NoURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestPublisher(t *testing.T) {
	conn := embedded(t)

	views, err := conn.NC.SubscribeSync(ChatSubject(DefaultSubjectPrefix, "chat-1", string(state.StreamQuestions)))
	require.NoError(t, err)
	events, err := conn.NC.SubscribeSync(ChatSubject(DefaultSubjectPrefix, "chat-1", SocketStream))
	require.NoError(t, err)
	require.NoError(t, conn.NC.Flush())

	rec := state.NewReconciler(NewPublisher(conn.NC, "", nil), nil)
	require.NoError(t, rec.Apply(context.Background(), "chat-1", state.QuestionsPlanned{
		Questions: []state.PlannedQuestion{{ID: 1, Question: "Who leads?"}},
	}))
	require.NoError(t, conn.NC.Flush())

	msg, err := views.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var view state.QuestionView
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Equal(t, 1, view.Total)

	msg, err = events.NextMsg(2 * time.Second)
	require.NoError(t, err)
	kind, ev, err := state.DecodeEnvelope(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, state.KindQuestionsPlanned, kind)
	assert.Len(t, ev.(state.QuestionsPlanned).Questions, 1)
}

func TestIngest(t *testing.T) {
	conn := embedded(t)
	rec := state.NewReconciler(nil, nil)

	in, err := StartIngest(conn.NC, "", rec, nil)
	require.NoError(t, err)
	defer in.Close()

	tests := []struct {
		name   string
		body   string
		status string
	}{
		{"applied", `{"event":"research_questions_set","research_questions":[{"id":1,"question":"Q?"},{"id":2,"question":"R?"}]}`, "applied"},
		{"unknown kind", `{"event":"fireworks"}`, "ignored"},
		{"malformed", `not json`, "rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := conn.NC.Request(EventSubject(DefaultSubjectPrefix, "chat-9"), []byte(tt.body), 2*time.Second)
			require.NoError(t, err)
			var reply IngestReply
			require.NoError(t, json.Unmarshal(msg.Data, &reply))
			assert.Equal(t, tt.status, reply.Status)
		})
	}

	assert.Equal(t, 2, rec.Questions("chat-9").Total)
}

func TestIngest_FireAndForget(t *testing.T) {
	conn := embedded(t)
	rec := state.NewReconciler(nil, nil)

	in, err := StartIngest(conn.NC, "custom", rec, nil)
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, conn.NC.Publish(EventSubject("custom", "chat-2"), []byte(`{"event":"mission_approved"}`)))
	require.NoError(t, conn.NC.Flush())

	assert.Eventually(t, func() bool {
		return rec.MissionState("chat-2") == state.MissionApproved
	}, 2*time.Second, 10*time.Millisecond)
}
