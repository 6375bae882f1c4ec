// Package storage archives finished workflow runs in a NATS KV bucket so
// other processes can look them up after the run ends.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/workflow"
)

// BucketWorkflows is the default KV bucket name.
const BucketWorkflows = "LEGION_WORKFLOWS"

// Record is the archived summary of one workflow run.
type Record struct {
	WorkflowID     string           `json:"workflow_id"`
	ChatID         string           `json:"chat_id"`
	Status         workflow.Status  `json:"status"`
	Phase          workflow.Phase   `json:"phase"`
	ResearchFocus  string           `json:"research_focus"`
	Title          string           `json:"title"`
	Questions      int              `json:"questions"`
	Answered       int              `json:"answered"`
	Clarifications int              `json:"clarifications"`
	Deliverables   []agent.Artifact `json:"deliverables,omitempty"`
	Error          string           `json:"error,omitempty"`
	FailedStep     string           `json:"failed_step,omitempty"`
	FailedAgent    string           `json:"failed_agent,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// NewRecord summarises a workflow instance.
func NewRecord(w *workflow.Instance) *Record {
	r := &Record{
		WorkflowID:     w.ID,
		ChatID:         w.ChatID,
		Status:         w.Status,
		Phase:          w.Phase,
		Clarifications: w.Clarifications,
		Deliverables:   slices.Clone(w.Deliverables),
		Error:          w.Error,
		FailedStep:     w.FailedStep,
		FailedAgent:    w.FailedAgent,
		StartedAt:      w.StartedAt,
		CompletedAt:    w.CompletedAt,
	}
	if w.Mission != nil {
		r.ResearchFocus = w.Mission.ResearchFocus
		r.Title = w.Mission.Title()
		r.Questions = len(w.Mission.Questions)
		for _, q := range w.Mission.Questions {
			if q.Answered {
				r.Answered++
			}
		}
	}
	return r
}

// Store provides workflow record storage backed by NATS KV.
type Store struct {
	workflows jetstream.KeyValue
}

// NewStore creates a Store, creating the bucket if it doesn't exist. An
// empty bucket name uses BucketWorkflows.
func NewStore(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = BucketWorkflows
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("create workflows bucket: %w", err)
	}
	return &Store{workflows: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Legion %s archive", strings.ToLower(name)),
		History:     5,
	})
}

// SaveWorkflow archives the instance, replacing any earlier record for it.
func (s *Store) SaveWorkflow(ctx context.Context, w *workflow.Instance) (*Record, error) {
	if w == nil || w.ID == "" {
		return nil, fmt.Errorf("save workflow: missing workflow id")
	}
	r := NewRecord(w)
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow record: %w", err)
	}
	if _, err := s.workflows.Put(ctx, r.WorkflowID, data); err != nil {
		return nil, fmt.Errorf("store workflow record: %w", err)
	}
	return r, nil
}

// GetWorkflow retrieves a record by workflow id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Record, error) {
	entry, err := s.workflows.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal workflow record: %w", err)
	}
	return &r, nil
}

// ListWorkflows returns archived records, oldest first. A non-empty chatID
// restricts the result to that chat.
func (s *Store) ListWorkflows(ctx context.Context, chatID string) ([]*Record, error) {
	keys, err := s.workflows.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workflow keys: %w", err)
	}

	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		r, err := s.GetWorkflow(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		if chatID != "" && r.ChatID != chatID {
			continue
		}
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b *Record) int { return a.StartedAt.Compare(b.StartedAt) })
	return records, nil
}
