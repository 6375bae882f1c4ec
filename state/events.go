package state

import "time"

// Event is the closed set of progress events the Reconciler understands.
// Variants are passed by value; the unexported marker keeps the set closed
// to this package.
type Event interface {
	Kind() string
	isEvent()
}

// Wire names of the event variants.
const (
	KindQuestionsPlanned      = "research_questions_set"
	KindQuestionStarted       = "research_question_started"
	KindQuestionCompleted     = "research_question_completed"
	KindQuestionProgress      = "question_progress"
	KindQuestionAssigned      = "question_assigned"
	KindWorkflowProgress      = "workflow_progress"
	KindPlannerThinking       = "planner_thinking"
	KindPlannerResponse       = "planner_response"
	KindAgentConversation     = "agent_conversation"
	KindAgentOperation        = "agent_operation"
	KindOperationUpdated      = "operation_update"
	KindAgentStatus           = "agent_status"
	KindWorkflowStarted       = "workflow_started"
	KindWorkflowStepStarted   = "workflow_step_started"
	KindWorkflowStepCompleted = "workflow_step_completed"
	KindWorkflowCompleted     = "workflow_completed"
	KindWorkflowFailed        = "workflow_failed"
	KindDeliverableCreated    = "new_deliverable"
	KindDeliverableUpdated    = "deliverable_update"
	KindMissionTransition     = "mission_transition"
)

// PlannedQuestion is a research question as announced by the planner.
type PlannedQuestion struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Category string `json:"category,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// QuestionsPlanned replaces the chat's research question set and the task
// entries derived from it.
type QuestionsPlanned struct {
	Questions    []PlannedQuestion `json:"research_questions"`
	WorkflowType string            `json:"workflow_type,omitempty"`
}

// QuestionStarted marks a question as in flight.
type QuestionStarted struct {
	QuestionID int    `json:"question_id"`
	Question   string `json:"question,omitempty"`
	Agent      string `json:"agent_name,omitempty"`
}

// QuestionCompleted marks a question as answered.
type QuestionCompleted struct {
	QuestionID int    `json:"question_id"`
	Question   string `json:"question,omitempty"`
	Agent      string `json:"agent_name,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// QuestionProgress reports partial progress on a question. Progress of 100
// completes the question.
type QuestionProgress struct {
	QuestionID int    `json:"question_id"`
	Progress   int    `json:"progress"`
	Phase      string `json:"phase,omitempty"`
	Details    string `json:"details,omitempty"`
	Agent      string `json:"agent_name,omitempty"`
}

// QuestionAssigned records which agent owns a question.
type QuestionAssigned struct {
	QuestionID int    `json:"question_id"`
	Agent      string `json:"agent_name"`
}

// WorkflowProgress summarises how many questions are answered.
type WorkflowProgress struct {
	Completed  int    `json:"completed_questions"`
	Total      int    `json:"total_questions"`
	Percentage int    `json:"progress_percentage"`
	Message    string `json:"message,omitempty"`
}

// PlannerThinking is an intermediate planner message shown to the user.
type PlannerThinking struct {
	Message string `json:"message"`
}

// PlannerResponse is a planner reply; it may carry a mission plan and a
// research question set.
type PlannerResponse struct {
	Message   string            `json:"message"`
	Stage     string            `json:"stage,omitempty"`
	Plan      map[string]any    `json:"mission_plan,omitempty"`
	Questions []PlannedQuestion `json:"research_questions,omitempty"`
}

// AgentConversation is one agent-to-agent message.
type AgentConversation struct {
	From         string    `json:"from_agent"`
	To           string    `json:"to_agent"`
	Message      string    `json:"message"`
	Type         string    `json:"type,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	QuestionID   int       `json:"question_id,omitempty"`
	QuestionText string    `json:"question_text,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
}

// AgentOperation logs a unit of agent activity.
type AgentOperation struct {
	OperationID string `json:"operation_id,omitempty"`
	Agent       string `json:"agent_name"`
	Type        string `json:"operation_type"`
	Title       string `json:"title"`
	Details     string `json:"details,omitempty"`
	Status      string `json:"status,omitempty"`
	QuestionID  int    `json:"question_id,omitempty"`
	Progress    int    `json:"progress,omitempty"`
}

// OperationUpdated changes an already logged operation.
type OperationUpdated struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status,omitempty"`
	Details     string `json:"details,omitempty"`
	Progress    int    `json:"progress,omitempty"`
}

// AgentStatus broadcasts an agent's availability.
type AgentStatus struct {
	Agent   string `json:"agent_name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WorkflowStarted opens a workflow run on the chat.
type WorkflowStarted struct {
	WorkflowID     string `json:"workflow_id"`
	WorkflowType   string `json:"workflow_type,omitempty"`
	ResearchFocus  string `json:"research_focus,omitempty"`
	TotalQuestions int    `json:"total_questions"`
}

// WorkflowStepStarted marks the dispatch of a workflow step.
type WorkflowStepStarted struct {
	WorkflowID string `json:"workflow_id"`
	StepNumber int    `json:"step_number"`
	Agent      string `json:"agent_name"`
	TaskType   string `json:"task_type"`
}

// WorkflowStepCompleted marks the successful end of a workflow step.
type WorkflowStepCompleted struct {
	WorkflowID string `json:"workflow_id"`
	StepNumber int    `json:"step_number"`
	Agent      string `json:"agent_name"`
	TaskType   string `json:"task_type"`
}

// WorkflowCompleted closes a successful run.
type WorkflowCompleted struct {
	WorkflowID        string `json:"workflow_id"`
	QuestionsAnswered int    `json:"questions_answered"`
	Deliverables      int    `json:"deliverables"`
}

// WorkflowFailed closes a failed run, naming the step and agent at fault.
type WorkflowFailed struct {
	WorkflowID string `json:"workflow_id"`
	Agent      string `json:"agent_name"`
	Step       string `json:"step"`
	Error      string `json:"error"`
}

// DeliverableCreated adds a deliverable.
type DeliverableCreated struct {
	Deliverable Deliverable `json:"deliverable"`
}

// DeliverableUpdated replaces the deliverable with the same title, or adds
// it when no such deliverable exists.
type DeliverableUpdated struct {
	Deliverable Deliverable `json:"deliverable"`
}

// MissionTransition moves the mission lifecycle forward.
type MissionTransition struct {
	To     MissionState   `json:"mission_state"`
	Reason string         `json:"reason,omitempty"`
	Stats  map[string]any `json:"stats,omitempty"`
}

func (QuestionsPlanned) Kind() string      { return KindQuestionsPlanned }
func (QuestionStarted) Kind() string       { return KindQuestionStarted }
func (QuestionCompleted) Kind() string     { return KindQuestionCompleted }
func (QuestionProgress) Kind() string      { return KindQuestionProgress }
func (QuestionAssigned) Kind() string      { return KindQuestionAssigned }
func (WorkflowProgress) Kind() string      { return KindWorkflowProgress }
func (PlannerThinking) Kind() string       { return KindPlannerThinking }
func (PlannerResponse) Kind() string       { return KindPlannerResponse }
func (AgentConversation) Kind() string     { return KindAgentConversation }
func (AgentOperation) Kind() string        { return KindAgentOperation }
func (OperationUpdated) Kind() string      { return KindOperationUpdated }
func (AgentStatus) Kind() string           { return KindAgentStatus }
func (WorkflowStarted) Kind() string       { return KindWorkflowStarted }
func (WorkflowStepStarted) Kind() string   { return KindWorkflowStepStarted }
func (WorkflowStepCompleted) Kind() string { return KindWorkflowStepCompleted }
func (WorkflowCompleted) Kind() string     { return KindWorkflowCompleted }
func (WorkflowFailed) Kind() string        { return KindWorkflowFailed }
func (DeliverableCreated) Kind() string    { return KindDeliverableCreated }
func (DeliverableUpdated) Kind() string    { return KindDeliverableUpdated }
func (MissionTransition) Kind() string     { return KindMissionTransition }

func (QuestionsPlanned) isEvent()      {}
func (QuestionStarted) isEvent()       {}
func (QuestionCompleted) isEvent()     {}
func (QuestionProgress) isEvent()      {}
func (QuestionAssigned) isEvent()      {}
func (WorkflowProgress) isEvent()      {}
func (PlannerThinking) isEvent()       {}
func (PlannerResponse) isEvent()       {}
func (AgentConversation) isEvent()     {}
func (AgentOperation) isEvent()        {}
func (OperationUpdated) isEvent()      {}
func (AgentStatus) isEvent()           {}
func (WorkflowStarted) isEvent()       {}
func (WorkflowStepStarted) isEvent()   {}
func (WorkflowStepCompleted) isEvent() {}
func (WorkflowCompleted) isEvent()     {}
func (WorkflowFailed) isEvent()        {}
func (DeliverableCreated) isEvent()    {}
func (DeliverableUpdated) isEvent()    {}
func (MissionTransition) isEvent()     {}
