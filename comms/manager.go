// Package comms routes tasks between agents and keeps the bounded
// conversation history each agent pair shares.
//
// The Manager is the registry of pending tasks: every task it issues stays
// pending until a terminal response is sent for it. Each exchange is narrated
// in human-readable form and reported to the state reconciler.
package comms

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// Default bounds for pair history.
const (
	DefaultHistoryCap    = 20
	DefaultContextWindow = 10
)

// Conversation message types recorded in history.
const (
	KindTaskAssignment        = "task_assignment"
	KindTaskResponse          = "task_response"
	KindClarificationRequest  = "clarification_request"
	KindClarificationResponse = "clarification_response"
)

var (
	// ErrTaskNotFound means a task id was referenced that is not pending.
	// It always indicates a caller bug.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateTask means a task id is already pending.
	ErrDuplicateTask = errors.New("task already pending")
)

// Dispatch describes a task to issue.
type Dispatch struct {
	From    string
	To      string
	Type    agent.TaskType
	Params  agent.Params
	ChatID  string
	Message string

	// TaskID forces the task id. Used for derived tasks such as
	// clarification sub-tasks; empty means a fresh id.
	TaskID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistoryCap bounds the stored history per (chat, from, to) key.
func WithHistoryCap(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyCap = n
		}
	}
}

// WithContextWindow bounds the context handed to agents with each task.
func WithContextWindow(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.contextWindow = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRouter replaces the category routing table.
func WithRouter(r *Router) Option {
	return func(m *Manager) { m.router = r }
}

// Manager is the communication hub between agents.
type Manager struct {
	applier       state.Applier
	logger        *slog.Logger
	router        *Router
	historyCap    int
	contextWindow int
	now           func() time.Time

	mu      sync.Mutex
	pending map[string]*agent.Task
	history map[pairKey][]entry
	cards   map[string]agent.Card
	seq     uint64
}

type pairKey struct {
	chatID string
	from   string
	to     string
}

type entry struct {
	msg agent.ContextMessage
	seq uint64
}

// NewManager creates a communication manager reporting to applier.
func NewManager(applier state.Applier, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		applier:       applier,
		logger:        logger,
		router:        DefaultRouter(),
		historyCap:    DefaultHistoryCap,
		contextWindow: DefaultContextWindow,
		now:           time.Now,
		pending:       make(map[string]*agent.Task),
		history:       make(map[pairKey][]entry),
		cards:         make(map[string]agent.Card),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, card := range DefaultCards() {
		m.cards[card.Name] = card
	}
	return m
}

// SendTask registers a pending task, narrates it into the pair's history and
// notifies observers. The returned task carries the conversation context
// between the two agents as it stood before this task.
func (m *Manager) SendTask(ctx context.Context, d Dispatch) (*agent.Task, error) {
	if d.From == "" || d.To == "" {
		return nil, fmt.Errorf("send task: from and to agents are required")
	}
	id := d.TaskID
	if id == "" {
		id = agent.NewTaskID()
	}

	m.mu.Lock()
	if _, exists := m.pending[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("send task: %w: %s", ErrDuplicateTask, id)
	}
	task := &agent.Task{
		ID:                  id,
		FromAgent:           d.From,
		ToAgent:             d.To,
		Type:                d.Type,
		Params:              d.Params.Clone(),
		ConversationContext: m.contextLocked(d.ChatID, d.From, d.To),
		CreatedAt:           m.now(),
		ChatID:              d.ChatID,
	}
	m.pending[id] = task
	narration := Narrate(task, d.Message)
	m.recordLocked(d.ChatID, d.From, d.To, narration, KindTaskAssignment, id)
	m.mu.Unlock()

	m.emit(ctx, d.ChatID, state.AgentConversation{
		From:         d.From,
		To:           d.To,
		Message:      narration,
		Type:         KindTaskAssignment,
		TaskID:       id,
		QuestionID:   task.Params.Int("question_id"),
		QuestionText: task.Params.String("question"),
	})

	m.logger.Debug("Task sent",
		"task_id", id,
		"chat_id", d.ChatID,
		"from", d.From,
		"to", d.To,
		"task_type", d.Type)
	return task, nil
}

// SendResponse records the response to a pending task. A terminal status
// removes the task from the pending registry; in_progress and
// needs_clarification keep it. Unknown task ids yield ErrTaskNotFound.
func (m *Manager) SendResponse(ctx context.Context, resp *agent.Response) (*agent.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("send response: nil response")
	}

	m.mu.Lock()
	task, ok := m.pending[resp.TaskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("send response: %w: %s", ErrTaskNotFound, resp.TaskID)
	}
	out := *resp
	if out.CreatedAt.IsZero() {
		out.CreatedAt = m.now()
	}
	if out.Data == nil {
		out.Data = agent.Params{}
	}
	out.Message = NarrateResponse(task, &out)
	m.recordLocked(task.ChatID, task.ToAgent, task.FromAgent, out.Message, KindTaskResponse, task.ID)
	if out.Status.IsTerminal() {
		delete(m.pending, task.ID)
	}
	m.mu.Unlock()

	m.emit(ctx, task.ChatID, state.AgentConversation{
		From:       task.ToAgent,
		To:         task.FromAgent,
		Message:    out.Message,
		Type:       KindTaskResponse,
		TaskID:     task.ID,
		QuestionID: task.Params.Int("question_id"),
	})

	m.logger.Debug("Response sent",
		"task_id", task.ID,
		"chat_id", task.ChatID,
		"status", out.Status)
	return &out, nil
}

// RequestClarification narrates the stuck agent's questions to the agent
// that will answer them. An empty addressee means the task's sender. The
// task stays pending.
func (m *Manager) RequestClarification(ctx context.Context, taskID string, questions []string, addressee string) error {
	m.mu.Lock()
	task, ok := m.pending[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("request clarification: %w: %s", ErrTaskNotFound, taskID)
	}
	if addressee == "" {
		addressee = task.FromAgent
	}
	msg := ClarificationRequestMessage(task, questions)
	m.recordLocked(task.ChatID, task.ToAgent, addressee, msg, KindClarificationRequest, task.ID)
	m.mu.Unlock()

	m.emit(ctx, task.ChatID, state.AgentConversation{
		From:       task.ToAgent,
		To:         addressee,
		Message:    msg,
		Type:       KindClarificationRequest,
		TaskID:     task.ID,
		QuestionID: task.Params.Int("question_id"),
	})

	m.logger.Info("Clarification requested",
		"task_id", task.ID,
		"agent", task.ToAgent,
		"addressee", addressee,
		"questions", len(questions))
	return nil
}

// ProvideClarification narrates the answers given by answerer to the agent
// working on the pending task.
func (m *Manager) ProvideClarification(ctx context.Context, taskID, answerer string, answers map[string]string) error {
	m.mu.Lock()
	task, ok := m.pending[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("provide clarification: %w: %s", ErrTaskNotFound, taskID)
	}
	msg := ClarificationResponseMessage(answers)
	m.recordLocked(task.ChatID, answerer, task.ToAgent, msg, KindClarificationResponse, task.ID)
	m.mu.Unlock()

	m.emit(ctx, task.ChatID, state.AgentConversation{
		From:       answerer,
		To:         task.ToAgent,
		Message:    msg,
		Type:       KindClarificationResponse,
		TaskID:     task.ID,
		QuestionID: task.Params.Int("question_id"),
	})
	return nil
}

// UpdateTaskParameters merges extra into a pending task's parameters and
// returns the updated task. Parameters are only ever extended.
func (m *Manager) UpdateTaskParameters(taskID string, extra agent.Params) (*agent.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.pending[taskID]
	if !ok {
		return nil, fmt.Errorf("update task parameters: %w: %s", ErrTaskNotFound, taskID)
	}
	updated := task.WithParams(extra)
	m.pending[taskID] = updated
	return updated, nil
}

// PendingTask returns the pending task with the given id.
func (m *Manager) PendingTask(taskID string) (*agent.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.pending[taskID]
	return task, ok
}

// PendingCount returns the number of pending tasks across all chats.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PendingTasks returns the chat's pending tasks, oldest first.
func (m *Manager) PendingTasks(chatID string) []*agent.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*agent.Task
	for _, t := range m.pending {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *agent.Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// ConversationContext returns up to the context window of most recent
// messages exchanged between a and b in the chat, both directions merged in
// timestamp order.
func (m *Manager) ConversationContext(chatID, a, b string) []agent.ContextMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contextLocked(chatID, a, b)
}

// History returns the full stored history from one agent to another.
func (m *Manager) History(chatID, from, to string) []agent.ContextMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[pairKey{chatID, from, to}]
	out := make([]agent.ContextMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

func (m *Manager) contextLocked(chatID, a, b string) []agent.ContextMessage {
	merged := slices.Clone(m.history[pairKey{chatID, a, b}])
	if a != b {
		merged = append(merged, m.history[pairKey{chatID, b, a}]...)
	}
	slices.SortFunc(merged, func(x, y entry) int {
		if c := x.msg.Timestamp.Compare(y.msg.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, y.seq)
	})
	if len(merged) > m.contextWindow {
		merged = merged[len(merged)-m.contextWindow:]
	}
	out := make([]agent.ContextMessage, len(merged))
	for i, e := range merged {
		out[i] = e.msg
	}
	return out
}

func (m *Manager) recordLocked(chatID, from, to, message, kind, taskID string) {
	key := pairKey{chatID, from, to}
	m.seq++
	entries := append(m.history[key], entry{
		msg: agent.ContextMessage{
			From:      from,
			To:        to,
			Message:   message,
			Type:      kind,
			TaskID:    taskID,
			Timestamp: m.now(),
		},
		seq: m.seq,
	})
	if over := len(entries) - m.historyCap; over > 0 {
		entries = slices.Delete(entries, 0, over)
	}
	m.history[key] = entries
}

// emit reports an event to the reconciler. Notification failures are logged
// and never fail the exchange itself.
func (m *Manager) emit(ctx context.Context, chatID string, ev state.Event) {
	if m.applier == nil || chatID == "" {
		return
	}
	if err := m.applier.Apply(ctx, chatID, ev); err != nil {
		m.logger.Warn("Failed to apply event", "chat_id", chatID, "kind", ev.Kind(), "error", err)
	}
}
