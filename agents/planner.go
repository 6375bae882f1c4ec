package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// defaultMissionTitle is used when neither the task nor an earlier
// coordination names the mission.
const defaultMissionTitle = "the research mission"

// Question categories assigned by Categorize.
const (
	CategoryCurrentState  = "current_state"
	CategoryKeyPlayers    = "key_players"
	CategoryTrends        = "trends"
	CategoryChallenges    = "challenges"
	CategoryMarketImpact  = "market_impact"
	CategoryFutureOutlook = "future_outlook"
	CategoryGeneral       = "general"
)

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryCurrentState, []string{"current", "status", "state", "today", "now"}},
	{CategoryKeyPlayers, []string{"who", "companies", "organizations", "players", "leaders"}},
	{CategoryTrends, []string{"trends", "developments", "changes", "innovations"}},
	{CategoryChallenges, []string{"challenges", "problems", "opportunities", "solutions"}},
	{CategoryMarketImpact, []string{"market", "economic", "financial", "cost", "revenue"}},
	{CategoryFutureOutlook, []string{"future", "outlook", "forecast", "prediction", "will"}},
}

// Categorize assigns a research question to a category by keyword.
func Categorize(question string) string {
	q := strings.ToLower(question)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(q, kw) {
				return c.category
			}
		}
	}
	return CategoryGeneral
}

// PlannedQuestion is one question produced by DefaultQuestions.
type PlannedQuestion struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
	Context  string `json:"context"`
}

// DefaultQuestions returns the standard six-question plan for a topic.
func DefaultQuestions(topic string) []PlannedQuestion {
	templates := []struct{ text, category string }{
		{"What is the current state of %s?", CategoryCurrentState},
		{"Who are the key players in %s?", CategoryKeyPlayers},
		{"What are the latest trends in %s?", CategoryTrends},
		{"What challenges and opportunities exist in %s?", CategoryChallenges},
		{"What is the market impact of %s?", CategoryMarketImpact},
		{"What does the future hold for %s?", CategoryFutureOutlook},
	}
	out := make([]PlannedQuestion, len(templates))
	for i, t := range templates {
		out[i] = PlannedQuestion{
			ID:       i + 1,
			Question: fmt.Sprintf(t.text, topic),
			Category: t.category,
			Priority: i + 1,
			Context:  "Research question for " + topic,
		}
	}
	return out
}

// MissionPlan returns the default plan for a topic.
func MissionPlan(topic string, objectives []string) map[string]any {
	if len(objectives) == 0 {
		objectives = []string{
			"Generate focused research questions about " + topic,
			"Systematically collect data for each question",
			"Analyze all findings to extract key insights",
			"Synthesize results into comprehensive report",
		}
	}
	return map[string]any{
		"mission_title":      "Question-Driven Research: " + topic,
		"objectives":         objectives,
		"research_approach":  "Question-driven methodology with targeted data collection and comprehensive analysis",
		"deliverable_format": "Comprehensive research report organized by research questions and findings",
	}
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithRules replaces the built-in clarification heuristics.
func WithRules(rs *RuleSet) PlannerOption {
	return func(p *Planner) {
		if rs != nil {
			p.rules = rs
		}
	}
}

// Planner coordinates missions, plans research questions and answers other
// agents' clarification requests.
type Planner struct {
	*Base
	rules *RuleSet

	mu     sync.Mutex
	titles map[string]string
}

// NewPlanner creates the planner. applier may be nil.
func NewPlanner(applier state.Applier, logger *slog.Logger, opts ...PlannerOption) *Planner {
	p := &Planner{
		Base: newBase(agent.RolePlanner,
			"Strategic coordinator who turns a research focus into a plan and keeps the other agents unblocked",
			applier, logger),
		rules:  DefaultRules(),
		titles: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.handle(agent.TaskCoordinateMission, "planning", p.coordinate)
	p.handle(agent.TaskGenerateQuestions, "planning", p.generateQuestions)
	p.handle(agent.TaskProvideClarification, "analyzing", p.clarify)
	return p
}

// Card describes the planner for discovery.
func (p *Planner) Card() agent.Card {
	return agent.Card{
		Name:         p.Name(),
		Description:  p.Personality(),
		Version:      "1.0",
		Capabilities: []agent.Capability{agent.CapabilityPlanning, agent.CapabilityConversation},
		Accepts:      p.Accepts(),
	}
}

func (p *Planner) coordinate(ctx context.Context, task *agent.Task) (*agent.Response, error) {
	var in agent.Coordinate
	if err := agent.Decode(task.Params, &in); err != nil {
		return nil, err
	}
	focus := in.ResearchFocus
	if focus == "" {
		focus = task.Params.String("research_query")
	}

	plan := MissionPlan(focus, in.Objectives)
	if in.MissionTitle != "" {
		plan["mission_title"] = in.MissionTitle
	}
	plan["question_count"] = in.QuestionCount
	title, _ := plan["mission_title"].(string)
	p.remember(task.ChatID, title)

	p.emit(ctx, task.ChatID, state.PlannerResponse{
		Message: fmt.Sprintf("Coordinating %q with %d research questions", title, in.QuestionCount),
		Stage:   "coordinating",
		Plan:    plan,
	})

	return agent.Completed(task.ID, agent.Params{
		"research_query":        focus,
		"mission_plan":          plan,
		"workflow_type":         in.WorkflowType,
		"coordination_complete": true,
		"summary":               "Mission coordination complete for: " + focus,
	}, "Mission coordination complete for: "+focus), nil
}

func (p *Planner) generateQuestions(ctx context.Context, task *agent.Task) (*agent.Response, error) {
	var in agent.GenerateQuestions
	if err := agent.Decode(task.Params, &in); err != nil {
		return nil, err
	}
	if in.ResearchFocus == "" {
		return nil, fmt.Errorf("research_focus is required")
	}

	questions := DefaultQuestions(in.ResearchFocus)
	if in.Count > 0 && in.Count < len(questions) {
		questions = questions[:in.Count]
	}
	if in.MissionTitle != "" {
		p.remember(task.ChatID, in.MissionTitle)
	}

	summary := fmt.Sprintf("Generated %d research questions for: %s", len(questions), in.ResearchFocus)
	p.emit(ctx, task.ChatID, state.PlannerResponse{Message: summary, Stage: "questions_ready"})

	return agent.Completed(task.ID, agent.Params{
		"research_questions": questions,
		"question_count":     len(questions),
		"summary":            summary,
	}, summary), nil
}

func (p *Planner) clarify(_ context.Context, task *agent.Task) (*agent.Response, error) {
	var in agent.ProvideClarification
	if err := agent.Decode(task.Params, &in); err != nil {
		return nil, err
	}
	if len(in.AgentQuestions) == 0 {
		return nil, fmt.Errorf("no questions to clarify for task %s", in.OriginalTask)
	}

	title := in.MissionTitle
	if title == "" {
		title = p.recall(task.ChatID)
	}

	answers, matched := p.Answer(in.AgentQuestions, title)
	asker := in.AskingAgent
	if asker == "" {
		asker = task.FromAgent
	}
	p.logger.Debug("Answered clarification",
		"asking_agent", asker,
		"original_task", in.OriginalTask,
		"rules", matched)

	return agent.Completed(task.ID, agent.Params{
		"clarifications": answers,
		"rules":          matched,
		"summary":        "Provided clarifications for " + asker,
	}, fmt.Sprintf("Provided %d clarifications for %s", len(answers), asker)), nil
}

// Answer resolves each question against the rule set. Answers are keyed
// question_1..question_n in input order; the matching rule names are
// returned alongside.
func (p *Planner) Answer(questions []string, missionTitle string) (map[string]string, []string) {
	if missionTitle == "" {
		missionTitle = defaultMissionTitle
	}
	answers := make(map[string]string, len(questions))
	matched := make([]string, len(questions))
	for i, q := range questions {
		answers[fmt.Sprintf("question_%d", i+1)], matched[i] = p.rules.Answer(q, missionTitle)
	}
	return answers, matched
}

func (p *Planner) remember(chatID, title string) {
	if chatID == "" || title == "" {
		return
	}
	p.mu.Lock()
	p.titles[chatID] = title
	p.mu.Unlock()
}

func (p *Planner) recall(chatID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if title, ok := p.titles[chatID]; ok {
		return title
	}
	return defaultMissionTitle
}
