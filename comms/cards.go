package comms

import (
	"sort"

	"github.com/c360studio/legion/agent"
)

// DefaultCards describes the four built-in roles.
func DefaultCards() []agent.Card {
	return []agent.Card{
		{
			Name:         agent.RolePlanner,
			Description:  "Plans missions, generates research questions and answers clarification requests",
			Version:      "1.0.0",
			Capabilities: []agent.Capability{agent.CapabilityPlanning, agent.CapabilityConversation},
			Accepts:      []agent.TaskType{agent.TaskCoordinateMission, agent.TaskGenerateQuestions, agent.TaskProvideClarification},
		},
		{
			Name:         agent.RoleResearcher,
			Description:  "Collects data for individual research questions",
			Version:      "1.0.0",
			Capabilities: []agent.Capability{agent.CapabilityDataCollection, agent.CapabilityQuestionResearch},
			Accepts:      []agent.TaskType{agent.TaskCollectQuestionData},
		},
		{
			Name:         agent.RoleAnalyst,
			Description:  "Analyzes collected data across all research questions",
			Version:      "1.0.0",
			Capabilities: []agent.Capability{agent.CapabilityAnalysis, agent.CapabilityQuestionResearch},
			Accepts:      []agent.TaskType{agent.TaskAnalyzeAll},
		},
		{
			Name:         agent.RoleWriter,
			Description:  "Synthesizes analysis into report, spreadsheet and slide deliverables",
			Version:      "1.0.0",
			Capabilities: []agent.Capability{agent.CapabilityContentGeneration},
			Accepts:      []agent.TaskType{agent.TaskSynthesizeReport},
		},
	}
}

// RegisterCard adds or replaces an agent card.
func (m *Manager) RegisterCard(card agent.Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[card.Name] = card
}

// Card returns the card registered for an agent.
func (m *Manager) Card(name string) (agent.Card, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[name]
	return card, ok
}

// Discover returns the cards of every agent with the capability, by name.
func (m *Manager) Discover(capability agent.Capability) []agent.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Card
	for _, card := range m.cards {
		if card.Has(capability) {
			out = append(out, card)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
