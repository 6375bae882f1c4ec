package agent

import "context"

// Agent is a role-specialised worker. ReceiveTask must return within a
// bounded time; an agent that cannot proceed without more context returns a
// needs_clarification response instead of doing the work.
//
// A non-nil error is an infrastructure failure and is treated exactly like a
// status=error response.
type Agent interface {
	Name() string
	Personality() string
	ReceiveTask(ctx context.Context, task *Task) (*Response, error)
}

// Role names of the four agents and of the orchestrator itself.
const (
	RolePlanner      = "planner"
	RoleResearcher   = "researcher"
	RoleAnalyst      = "analyst"
	RoleWriter       = "writer"
	RoleOrchestrator = "orchestrator"
)

// Capability names something an agent can do, used for discovery.
type Capability string

// Known capabilities.
const (
	CapabilityPlanning          Capability = "planning"
	CapabilityDataCollection    Capability = "data_collection"
	CapabilityAnalysis          Capability = "analysis"
	CapabilityContentGeneration Capability = "content_generation"
	CapabilityConversation      Capability = "conversation"
	CapabilityQuestionResearch  Capability = "question_research"
)

// Card advertises an agent's capabilities and the task types it accepts.
type Card struct {
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description" yaml:"description"`
	Version      string       `json:"version" yaml:"version"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`
	Accepts      []TaskType   `json:"accepts" yaml:"accepts"`
}

// Has reports whether the card lists capability c.
func (c Card) Has(capability Capability) bool {
	for _, have := range c.Capabilities {
		if have == capability {
			return true
		}
	}
	return false
}

// Carded is implemented by agents that describe themselves with a Card.
type Carded interface {
	Card() Card
}
