package workflow

import (
	"maps"
	"slices"
	"time"

	"github.com/c360studio/legion/agent"
)

// Status is the externally visible outcome of a workflow run.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Phase is the step a workflow run is in.
type Phase string

const (
	PhaseCreated      Phase = "created"
	PhaseCoordinating Phase = "coordinating"
	PhaseCollecting   Phase = "collecting"
	PhaseAnalyzing    Phase = "analyzing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransitionTo returns true if the phase can move to target.
func (p Phase) CanTransitionTo(target Phase) bool {
	if target == PhaseFailed {
		return !p.IsTerminal()
	}
	switch p {
	case PhaseCreated:
		return target == PhaseCoordinating
	case PhaseCoordinating:
		return target == PhaseCollecting
	case PhaseCollecting:
		return target == PhaseAnalyzing
	case PhaseAnalyzing:
		return target == PhaseSynthesizing
	case PhaseSynthesizing:
		return target == PhaseCompleted
	default:
		return false
	}
}

// Instance is one workflow run.
type Instance struct {
	ID          string          `json:"workflow_id"`
	ChatID      string          `json:"chat_id"`
	Status      Status          `json:"status"`
	Phase       Phase           `json:"phase"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Mission     *MissionContext `json:"mission_context"`

	// CurrentQuestion is the id of the question being collected, zero
	// outside the collecting phase.
	CurrentQuestion int `json:"current_question,omitempty"`

	// CollectedData is append-only, one entry per answered question in
	// dispatch order.
	CollectedData []agent.CollectedData `json:"collected_data"`

	Analysis     agent.Params     `json:"analysis,omitempty"`
	Deliverables []agent.Artifact `json:"deliverables,omitempty"`

	Error       string `json:"error,omitempty"`
	FailedStep  string `json:"failed_step,omitempty"`
	FailedAgent string `json:"failed_agent,omitempty"`

	// Clarifications counts clarification rounds across the run.
	Clarifications int `json:"clarifications"`
}

// Questions returns the run's research questions in processing order.
func (w *Instance) Questions() []*ResearchQuestion {
	return w.Mission.Questions
}

// clone copies the instance deeply enough that later mutation of the run
// does not show through.
func (w *Instance) clone() *Instance {
	out := *w
	mission := *w.Mission
	mission.Questions = make([]*ResearchQuestion, len(w.Mission.Questions))
	for i, q := range w.Mission.Questions {
		cp := *q
		cp.CollectedData = maps.Clone(q.CollectedData)
		mission.Questions[i] = &cp
	}
	out.Mission = &mission
	out.CollectedData = slices.Clone(w.CollectedData)
	out.Analysis = maps.Clone(w.Analysis)
	out.Deliverables = slices.Clone(w.Deliverables)
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
