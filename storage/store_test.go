package storage

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/natsbridge"
	"github.com/c360studio/legion/workflow"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	conn, err := natsbridge.Connect(ctx, natsbridge.Config{Embedded: true, JetStream: true, StoreDir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := jetstream.New(conn.NC)
	require.NoError(t, err)
	store, err := NewStore(ctx, js, "")
	require.NoError(t, err)
	return store
}

func instance(id, chatID string, started time.Time) *workflow.Instance {
	done := started.Add(time.Minute)
	return &workflow.Instance{
		ID:        id,
		ChatID:    chatID,
		Status:    workflow.StatusCompleted,
		Phase:     workflow.PhaseCompleted,
		StartedAt: started,
		Mission: &workflow.MissionContext{
			ResearchFocus: "Grid storage",
			Plan:          &workflow.MissionPlan{Title: "Grid Storage Outlook"},
			Questions: []*workflow.ResearchQuestion{
				{ID: 1, Question: "Who leads?", Answered: true},
				{ID: 2, Question: "What are the risks?"},
			},
		},
		Deliverables:   []agent.Artifact{{Type: "document", Title: "Report"}},
		Clarifications: 1,
		CompletedAt:    &done,
	}
}

func TestNewRecord(t *testing.T) {
	r := NewRecord(instance("wf-1", "chat-1", time.Now()))
	assert.Equal(t, "Grid Storage Outlook", r.Title)
	assert.Equal(t, 2, r.Questions)
	assert.Equal(t, 1, r.Answered)
	assert.Equal(t, 1, r.Clarifications)
	assert.Len(t, r.Deliverables, 1)
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.SaveWorkflow(ctx, instance("wf-1", "chat-1", time.Now()))
	require.NoError(t, err)

	got, err := store.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", got.ChatID)
	assert.Equal(t, workflow.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	_, err = store.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.SaveWorkflow(ctx, &workflow.Instance{})
	assert.Error(t, err)
}

func TestStore_ListWorkflows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	empty, err := store.ListWorkflows(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, w := range []*workflow.Instance{
		instance("wf-b", "chat-1", base.Add(time.Hour)),
		instance("wf-a", "chat-1", base),
		instance("wf-c", "chat-2", base.Add(2*time.Hour)),
	} {
		_, err := store.SaveWorkflow(ctx, w)
		require.NoError(t, err)
	}

	all, err := store.ListWorkflows(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "wf-a", all[0].WorkflowID)

	chat1, err := store.ListWorkflows(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, chat1, 2)
	assert.Equal(t, []string{"wf-a", "wf-b"}, []string{chat1[0].WorkflowID, chat1[1].WorkflowID})
}
