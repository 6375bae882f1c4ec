package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

func task(taskType agent.TaskType, payload agent.Payload) *agent.Task {
	params, err := agent.Encode(payload)
	if err != nil {
		panic(err)
	}
	return &agent.Task{ID: agent.NewTaskID(), FromAgent: agent.RoleOrchestrator, Type: taskType, Params: params, ChatID: "chat-1"}
}

func TestRuleSet_Answer(t *testing.T) {
	rs := DefaultRules()
	tests := []struct {
		question string
		rule     string
	}{
		{"Which vendors matter most?", "selection"},
		{"List the largest suppliers", "selection"},
		{"What criteria should apply?", "criteria"},
		{"How deep? What depth is needed?", "scope"},
		{"Where should data come from?", "sources"},
		{"What format do you expect?", "format"},
		{"Should I prioritize recent work?", "focus"},
		{"What timeline applies?", "timeline"},
		{"Any preferred methodology?", "approach"},
		{"Anything else?", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			answer, rule := rs.Answer(tt.question, "Battery Outlook")
			assert.Equal(t, tt.rule, rule)
			assert.Contains(t, answer, "Battery Outlook")
			assert.NotContains(t, answer, missionPlaceholder)
		})
	}
}

func TestRuleSet_FirstMatchWins(t *testing.T) {
	// "which" (selection) is checked before "sources".
	_, rule := DefaultRules().Answer("Which sources are best?", "X")
	assert.Equal(t, "selection", rule)
}

func TestParseRules(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - name: budget
    keywords: [Budget, COST]
    answer: "Stay within the budget for {mission}."
`))
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, []string{"budget", "cost"}, rs.Rules[0].Keywords)
	assert.Equal(t, DefaultRules().Default, rs.Default)

	answer, rule := rs.Answer("What is the cost ceiling?", "Grid Storage")
	assert.Equal(t, "budget", rule)
	assert.Equal(t, "Stay within the budget for Grid Storage.", answer)

	_, rule = rs.Answer("Which vendors?", "Grid Storage")
	assert.Equal(t, "default", rule)
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no keywords", "rules:\n  - name: a\n    answer: x\n"},
		{"empty answer", "rules:\n  - name: a\n    keywords: [x]\n"},
		{"bad yaml", "rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default: \"Do your best on {mission}.\"\n"), 0o644))

	rs, err := LoadRules(path)
	require.NoError(t, err)
	answer, _ := rs.Answer("anything", "M")
	assert.Equal(t, "Do your best on M.", answer)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"What is the current state of solar?", CategoryCurrentState},
		{"Who are the leaders?", CategoryKeyPlayers},
		{"What innovations are emerging?", CategoryTrends},
		{"What problems remain unsolved?", CategoryChallenges},
		{"How large is the market?", CategoryMarketImpact},
		{"What is the outlook?", CategoryFutureOutlook},
		{"Describe the supply chain", CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.question))
		})
	}
}

func TestDefaultQuestions(t *testing.T) {
	qs := DefaultQuestions("fusion energy")
	require.Len(t, qs, 6)
	for i, q := range qs {
		assert.Equal(t, i+1, q.ID)
		assert.Equal(t, i+1, q.Priority)
		assert.Contains(t, q.Question, "fusion energy")
	}
	assert.Equal(t, CategoryFutureOutlook, qs[5].Category)
}

func TestPlanner_ProvideClarification(t *testing.T) {
	p := NewPlanner(nil, nil)
	resp, err := p.ReceiveTask(context.Background(), task(agent.TaskProvideClarification, agent.ProvideClarification{
		OriginalTask:   "t-1",
		AskingAgent:    agent.RoleResearcher,
		AgentQuestions: []string{"Which companies count as major?", "What timeline applies?"},
		MissionTitle:   "Battery Outlook",
	}))
	require.NoError(t, err)
	require.Equal(t, agent.StatusCompleted, resp.Status)

	answers, ok := resp.Data["clarifications"].(map[string]string)
	require.True(t, ok)
	require.Len(t, answers, 2)
	assert.Contains(t, answers["question_1"], "Use the key examples most relevant to Battery Outlook")
	assert.Contains(t, answers["question_2"], "Use appropriate timeframes relevant to Battery Outlook")
	assert.Equal(t, []string{"selection", "timeline"}, resp.Data["rules"])
}

func TestPlanner_ClarificationUsesCoordinatedTitle(t *testing.T) {
	rec := state.NewReconciler(nil, nil)
	p := NewPlanner(rec, nil)

	resp, err := p.ReceiveTask(context.Background(), task(agent.TaskCoordinateMission, agent.Coordinate{
		ResearchFocus: "grid storage",
		QuestionCount: 3,
		WorkflowType:  "question_driven",
	}))
	require.NoError(t, err)
	require.Equal(t, agent.StatusCompleted, resp.Status)
	plan := resp.Data.Map("mission_plan")
	require.NotNil(t, plan)
	assert.Equal(t, "Question-Driven Research: grid storage", plan["mission_title"])
	assert.NotEmpty(t, plan["research_approach"])
	assert.NotEmpty(t, plan["deliverable_format"])
	assert.Equal(t, true, resp.Data["coordination_complete"])

	conv := rec.PlannerConversation("chat-1")
	assert.Equal(t, "coordinating", conv.Stage)
	assert.Equal(t, "Question-Driven Research: grid storage", conv.Plan["mission_title"])

	resp, err = p.ReceiveTask(context.Background(), task(agent.TaskProvideClarification, agent.ProvideClarification{
		AgentQuestions: []string{"Anything else?"},
	}))
	require.NoError(t, err)
	answers := resp.Data["clarifications"].(map[string]string)
	assert.Contains(t, answers["question_1"], "Question-Driven Research: grid storage")
}

func TestPlanner_ClarificationWithoutQuestionsFails(t *testing.T) {
	p := NewPlanner(nil, nil)
	resp, err := p.ReceiveTask(context.Background(), task(agent.TaskProvideClarification, agent.ProvideClarification{}))
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, resp.Status)
}

func TestPlanner_GenerateQuestions(t *testing.T) {
	p := NewPlanner(nil, nil)
	resp, err := p.ReceiveTask(context.Background(), task(agent.TaskGenerateQuestions, agent.GenerateQuestions{
		ResearchFocus: "quantum sensing",
		Count:         3,
	}))
	require.NoError(t, err)
	require.Equal(t, agent.StatusCompleted, resp.Status)
	assert.Equal(t, 3, resp.Data["question_count"])
	assert.Len(t, resp.Data["research_questions"], 3)

	resp, err = p.ReceiveTask(context.Background(), task(agent.TaskGenerateQuestions, agent.GenerateQuestions{}))
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, resp.Status)
}

func TestPlanner_CardAndUnknownTask(t *testing.T) {
	p := NewPlanner(nil, nil)
	card := p.Card()
	assert.True(t, card.Has(agent.CapabilityPlanning))
	assert.Contains(t, card.Accepts, agent.TaskProvideClarification)

	resp, err := p.ReceiveTask(context.Background(), &agent.Task{ID: "x", Type: agent.TaskAnalyzeAll})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "does not handle")
}
