package comms

import (
	"context"
	"fmt"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// QuestionRef identifies a research question for routing.
type QuestionRef struct {
	ID       int
	Category string
}

// AssignQuestions routes each question to a collecting agent by category and
// announces the assignments. A route naming an agent whose card lacks the
// route's capability falls back to the default route.
func (m *Manager) AssignQuestions(ctx context.Context, chatID string, questions []QuestionRef) map[int]string {
	assignments := make(map[int]string, len(questions))
	for _, q := range questions {
		route := m.router.Match(q.Category)
		if route.Capability != "" {
			if card, ok := m.Card(route.Agent); ok && !card.Has(route.Capability) {
				m.logger.Warn("Route agent lacks capability, using default",
					"agent", route.Agent,
					"capability", route.Capability,
					"category", q.Category)
				route = m.router.Match("")
			}
		}
		assignments[q.ID] = route.Agent
		m.emit(ctx, chatID, state.QuestionAssigned{QuestionID: q.ID, Agent: route.Agent})
	}
	return assignments
}

// SendQuestionStarted announces that an agent began work on a question.
func (m *Manager) SendQuestionStarted(ctx context.Context, chatID, agentName string, questionID int, question string) {
	m.emit(ctx, chatID, state.QuestionStarted{QuestionID: questionID, Question: question, Agent: agentName})
}

// SendQuestionProgress reports partial progress on a question and logs it
// as an operation.
func (m *Manager) SendQuestionProgress(ctx context.Context, chatID, agentName string, questionID, progress int, details string) {
	m.emit(ctx, chatID, state.QuestionProgress{
		QuestionID: questionID,
		Progress:   progress,
		Details:    details,
		Agent:      agentName,
	})
	if details == "" {
		details = fmt.Sprintf("Progress: %d%%", progress)
	}
	m.emit(ctx, chatID, state.AgentOperation{
		Agent:      agentName,
		Type:       "question_progress",
		Title:      fmt.Sprintf("Question #%d", questionID),
		Details:    details,
		Status:     "processing",
		QuestionID: questionID,
		Progress:   progress,
	})
}

// SendQuestionCompletion announces that a question has been answered.
func (m *Manager) SendQuestionCompletion(ctx context.Context, chatID, agentName string, questionID int, question, summary string) {
	m.emit(ctx, chatID, state.QuestionCompleted{
		QuestionID: questionID,
		Question:   question,
		Agent:      agentName,
		Summary:    summary,
	})
}

// TrackWorkflowProgress reports how many questions are answered and returns
// the percentage.
func (m *Manager) TrackWorkflowProgress(ctx context.Context, chatID string, completed, total int) int {
	percentage := 0
	if total > 0 {
		percentage = completed * 100 / total
	}
	m.emit(ctx, chatID, state.WorkflowProgress{
		Completed:  completed,
		Total:      total,
		Percentage: percentage,
		Message:    fmt.Sprintf("Question research progress: %d/%d questions answered", completed, total),
	})
	return percentage
}

// BroadcastStatus announces an agent's status to the chat.
func (m *Manager) BroadcastStatus(ctx context.Context, chatID, agentName, status, message string) {
	m.emit(ctx, chatID, state.AgentStatus{Agent: agentName, Status: status, Message: message})
}

// ResearchAgents returns the cards of agents able to research questions.
func (m *Manager) ResearchAgents() []agent.Card {
	return m.Discover(agent.CapabilityQuestionResearch)
}
