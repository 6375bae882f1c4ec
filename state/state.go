// Package state reconciles heterogeneous progress events into per-chat state
// and fans the affected views out to observers.
//
// Apply is the single entry point. Every event variant has one handler that
// mutates the chat's state and reports which observer streams changed, so
// unrelated views are never re-sent.
package state

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// MissionState is the lifecycle of a chat's mission.
type MissionState string

const (
	MissionPending   MissionState = "PENDING"
	MissionApproved  MissionState = "APPROVED"
	MissionActive    MissionState = "ACTIVE"
	MissionCompleted MissionState = "COMPLETED"
)

// rank orders mission states; transitions only move forward.
func (m MissionState) rank() int {
	switch m {
	case MissionPending:
		return 0
	case MissionApproved:
		return 1
	case MissionActive:
		return 2
	case MissionCompleted:
		return 3
	}
	return -1
}

// TaskStatus is the status of a user-visible task entry.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// QuestionStatus is the status of a research question's progress entry.
type QuestionStatus string

const (
	QuestionStatusQueued    QuestionStatus = "queued"
	QuestionStatusActive    QuestionStatus = "active"
	QuestionStatusCompleted QuestionStatus = "completed"
	QuestionStatusFailed    QuestionStatus = "failed"
)

// Stream names an observer channel.
type Stream string

const (
	StreamTasks      Stream = "tasks"
	StreamOperations Stream = "operations"
	StreamComms      Stream = "comms"
	StreamQuestions  Stream = "questions"
)

// Streams lists the observer channels in a stable order.
var Streams = []Stream{StreamTasks, StreamOperations, StreamComms, StreamQuestions}

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	return slices.Contains(Streams, s)
}

// TaskEntry is one row of the user-visible task list. Entries with a
// non-zero QuestionID mirror a research question's progress.
type TaskEntry struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	Progress   int        `json:"progress"`
	Agent      string     `json:"agent,omitempty"`
	QuestionID int        `json:"question_id,omitempty"`
	Phase      string     `json:"phase,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Comm is one entry of the conversation log.
type Comm struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	QuestionID int       `json:"question_id,omitempty"`
}

// Operation is one entry of the operations log.
type Operation struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Agent      string    `json:"agent"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Details    string    `json:"details,omitempty"`
	Status     string    `json:"status"`
	QuestionID int       `json:"question_id,omitempty"`
	Progress   int       `json:"progress,omitempty"`
}

// Deliverable is a produced output document.
type Deliverable struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Type      string         `json:"type"`
	Format    string         `json:"format,omitempty"`
	Content   string         `json:"content,omitempty"`
	URI       string         `json:"uri,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// QuestionEntry tracks one research question's progress.
type QuestionEntry struct {
	QuestionID    int            `json:"question_id"`
	Question      string         `json:"question"`
	Category      string         `json:"category,omitempty"`
	Status        QuestionStatus `json:"status"`
	Progress      int            `json:"progress"`
	AssignedAgent string         `json:"assigned_agent,omitempty"`
	Phase         string         `json:"current_phase,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// QuestionView is the payload of the questions stream.
type QuestionView struct {
	WorkflowType string          `json:"workflow_type,omitempty"`
	Questions    []QuestionEntry `json:"questions"`
	Total        int             `json:"total_questions"`
	Completed    int             `json:"completed_questions"`
	Active       int             `json:"active_questions"`
	Percentage   int             `json:"progress_percentage"`
	Answered     []int           `json:"answered_questions"`
}

// PlannerTurn is one message of the planner's user-facing dialogue.
type PlannerTurn struct {
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PlannerConversation is the planner's dialogue state for a chat.
type PlannerConversation struct {
	Stage    string         `json:"stage"`
	Messages []PlannerTurn  `json:"messages"`
	Plan     map[string]any `json:"plan,omitempty"`
}

// WorkflowSummary is the chat's view of its current or last workflow run.
type WorkflowSummary struct {
	WorkflowID  string `json:"workflow_id,omitempty"`
	Status      string `json:"status,omitempty"`
	CurrentStep string `json:"current_step,omitempty"`
	StepNumber  int    `json:"step_number,omitempty"`
	Agent       string `json:"agent,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Snapshot is a consistent copy of a chat's full state.
type Snapshot struct {
	ChatID       string              `json:"chat_id"`
	MissionState MissionState        `json:"mission_state"`
	Workflow     WorkflowSummary     `json:"workflow"`
	Tasks        []TaskEntry         `json:"tasks"`
	Comms        []Comm              `json:"comms"`
	Operations   []Operation         `json:"operations"`
	Deliverables []Deliverable       `json:"deliverables"`
	Questions    QuestionView        `json:"questions"`
	Planner      PlannerConversation `json:"planner"`
	Stats        map[string]any      `json:"stats,omitempty"`
}

// chatState is the mutable state of one chat. Guarded by the owning
// chat's mutex in the Reconciler.
type chatState struct {
	mission      MissionState
	workflowType string
	workflow     WorkflowSummary
	tasks        []TaskEntry
	comms        []Comm
	operations   []Operation
	deliverables []Deliverable
	questions    map[int]*QuestionEntry
	answered     []int
	planner      PlannerConversation
	stats        map[string]any
	seq          uint64
}

func newChatState() *chatState {
	return &chatState{
		mission:   MissionPending,
		questions: make(map[int]*QuestionEntry),
		planner:   PlannerConversation{Stage: "initial"},
	}
}

func (cs *chatState) questionView() QuestionView {
	view := QuestionView{
		WorkflowType: cs.workflowType,
		Questions:    make([]QuestionEntry, 0, len(cs.questions)),
		Answered:     slices.Clone(cs.answered),
	}
	for _, q := range cs.questions {
		view.Questions = append(view.Questions, *q)
		switch q.Status {
		case QuestionStatusCompleted:
			view.Completed++
		case QuestionStatusActive:
			view.Active++
		}
	}
	sort.Slice(view.Questions, func(i, j int) bool {
		return view.Questions[i].QuestionID < view.Questions[j].QuestionID
	})
	view.Total = len(view.Questions)
	if view.Total > 0 {
		view.Percentage = view.Completed * 100 / view.Total
	}
	if view.Answered == nil {
		view.Answered = []int{}
	}
	return view
}

func (cs *chatState) snapshot(chatID string) Snapshot {
	return Snapshot{
		ChatID:       chatID,
		MissionState: cs.mission,
		Workflow:     cs.workflow,
		Tasks:        slices.Clone(cs.tasks),
		Comms:        slices.Clone(cs.comms),
		Operations:   slices.Clone(cs.operations),
		Deliverables: slices.Clone(cs.deliverables),
		Questions:    cs.questionView(),
		Planner: PlannerConversation{
			Stage:    cs.planner.Stage,
			Messages: slices.Clone(cs.planner.Messages),
			Plan:     cs.planner.Plan,
		},
		Stats: maps.Clone(cs.stats),
	}
}

// view returns a copy of the data published on stream s.
func (cs *chatState) view(s Stream) any {
	switch s {
	case StreamTasks:
		return nonNil(slices.Clone(cs.tasks))
	case StreamOperations:
		return nonNil(slices.Clone(cs.operations))
	case StreamComms:
		return nonNil(slices.Clone(cs.comms))
	case StreamQuestions:
		return cs.questionView()
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
