// Package agent defines the task/response protocol shared by the orchestrator
// and the role agents, plus the Agent capability itself.
//
// A Task is the only way to invoke agent work and a Response is the only way
// to report its outcome. Parameters travel as an open map; the core task types
// additionally have typed payloads (see payload.go).
package agent

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of work a task asks for.
// The set is open: agents may accept types the core does not know about.
type TaskType string

// Task types the orchestrator issues.
const (
	TaskCoordinateMission    TaskType = "coordinate_mission"
	TaskGenerateQuestions    TaskType = "generate_research_questions"
	TaskCollectQuestionData  TaskType = "collect_question_data"
	TaskAnalyzeAll           TaskType = "analyze_all_collected_data"
	TaskSynthesizeReport     TaskType = "synthesize_comprehensive_report"
	TaskProvideClarification TaskType = "provide_clarification"
)

const clarificationTaskIDSuffix = "_clarification"

// NewTaskID returns a process-unique task identifier.
func NewTaskID() string {
	return uuid.New().String()
}

// ClarificationTaskID derives the id of the clarification sub-task for a task.
func ClarificationTaskID(taskID string) string {
	return taskID + clarificationTaskIDSuffix
}

// Params is the open key/value parameter map carried by tasks and responses.
type Params map[string]any

// Clone returns a shallow copy of p. A nil map clones to an empty one.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	maps.Copy(out, p)
	return out
}

// Merge returns a copy of p extended with extra. Keys present in extra
// overwrite those in p; no key of p is ever removed.
func (p Params) Merge(extra Params) Params {
	out := p.Clone()
	maps.Copy(out, extra)
	return out
}

// String returns the string value at key, or "" when absent or not a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer value at key. JSON numbers decoded as float64 are
// accepted; anything else yields 0.
func (p Params) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Bool returns the boolean value at key.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strings returns the string list at key. Both []string and []any holding
// strings are accepted.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns the nested map at key.
func (p Params) Map(key string) map[string]any {
	switch v := p[key].(type) {
	case map[string]any:
		return v
	case Params:
		return v
	}
	return nil
}

// ContextMessage is one prior exchange between two agents, handed to an agent
// as conversation context.
type ContextMessage struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the unit of work passed to an agent. A task is immutable once
// issued; WithParams is the only sanctioned way to derive a changed copy.
type Task struct {
	ID                  string           `json:"task_id"`
	FromAgent           string           `json:"from_agent"`
	ToAgent             string           `json:"to_agent"`
	Type                TaskType         `json:"task_type"`
	Params              Params           `json:"parameters"`
	ConversationContext []ContextMessage `json:"conversation_context"`
	CreatedAt           time.Time        `json:"created_at"`
	ChatID              string           `json:"chat_id"`
}

// WithParams returns a copy of the task with extra merged into its
// parameters. The task id is preserved so the result can be resubmitted.
func (t *Task) WithParams(extra Params) *Task {
	cp := *t
	cp.Params = t.Params.Merge(extra)
	cp.ConversationContext = append([]ContextMessage(nil), t.ConversationContext...)
	return &cp
}
