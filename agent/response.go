package agent

import "time"

// Status is the outcome reported by a Response.
type Status string

const (
	// StatusCompleted means the task finished and Data holds the result.
	StatusCompleted Status = "completed"

	// StatusInProgress is an intermediate report; the task stays pending.
	StatusInProgress Status = "in_progress"

	// StatusNeedsClarification means the agent declined to proceed and
	// Data["questions"] lists what it needs to know.
	StatusNeedsClarification Status = "needs_clarification"

	// StatusError means the agent failed; Message carries the reason.
	StatusError Status = "error"
)

// IsTerminal reports whether the status ends a task's life in the pending
// registry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Artifact describes a deliverable produced by an agent.
type Artifact struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Format   string         `json:"format,omitempty"`
	Content  string         `json:"content,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response reports the outcome of a Task.
type Response struct {
	TaskID    string     `json:"task_id"`
	Status    Status     `json:"status"`
	Data      Params     `json:"response_data"`
	Message   string     `json:"conversation_message"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Questions returns the clarification questions carried by a
// needs_clarification response.
func (r *Response) Questions() []string {
	if r == nil {
		return nil
	}
	return r.Data.Strings("questions")
}

// Completed builds a successful response.
func Completed(taskID string, data Params, message string, artifacts ...Artifact) *Response {
	return &Response{
		TaskID:    taskID,
		Status:    StatusCompleted,
		Data:      data,
		Message:   message,
		Artifacts: artifacts,
		CreatedAt: time.Now(),
	}
}

// NeedsClarification builds a response asking the sender for more context.
func NeedsClarification(taskID string, questions ...string) *Response {
	return &Response{
		TaskID:    taskID,
		Status:    StatusNeedsClarification,
		Data:      Params{"questions": questions},
		Message:   "Clarification required before proceeding",
		CreatedAt: time.Now(),
	}
}

// Failed builds an error response.
func Failed(taskID, message string) *Response {
	return &Response{
		TaskID:    taskID,
		Status:    StatusError,
		Data:      Params{"error": message},
		Message:   message,
		CreatedAt: time.Now(),
	}
}
