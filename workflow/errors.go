package workflow

import (
	"errors"
	"fmt"

	"github.com/c360studio/legion/agent"
)

var (
	// ErrNoQuestions means the mission carries no research questions.
	ErrNoQuestions = errors.New("no research questions provided for question-driven workflow")

	// ErrWorkflowActive means the chat already runs a workflow.
	ErrWorkflowActive = errors.New("workflow already active for chat")

	// ErrAgentNotRegistered means a step names an agent nobody registered.
	ErrAgentNotRegistered = errors.New("agent not registered")

	// ErrClarificationExhausted means an agent asked for clarification again
	// after its one clarified retry.
	ErrClarificationExhausted = errors.New("clarification allowance exhausted")

	// ErrInvalidTransition means a phase change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// AgentError reports a status=error response, or an agent that returned an
// error instead of a response.
type AgentError struct {
	Agent   string
	TaskID  string
	Status  agent.Status
	Message string
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s failed: %s", e.Agent, e.Message)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// StepError names the workflow step and agent a failure occurred in.
type StepError struct {
	Step  string
	Agent string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.Step, e.Agent, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsAgentFailure reports whether err was caused by an agent rather than by
// the orchestration itself.
func IsAgentFailure(err error) bool {
	var ae *AgentError
	return errors.As(err, &ae) || errors.Is(err, ErrClarificationExhausted)
}
