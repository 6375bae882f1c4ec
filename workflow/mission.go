package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultResearchFocus is used when a mission names no focus.
const DefaultResearchFocus = "research topic"

// MissionPlan is the optional plan attached to a mission by the planner.
type MissionPlan struct {
	Title      string   `json:"title,omitempty" yaml:"title,omitempty"`
	Objectives []string `json:"objectives,omitempty" yaml:"objectives,omitempty"`
}

// MissionContext is the planning payload that starts a workflow.
type MissionContext struct {
	ResearchFocus string              `json:"research_focus" yaml:"research_focus"`
	Plan          *MissionPlan        `json:"mission_plan,omitempty" yaml:"mission_plan,omitempty"`
	Questions     []*ResearchQuestion `json:"research_questions" yaml:"research_questions"`

	// Sources are URLs every question may draw on.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// Extra holds keys the orchestrator does not interpret. They are passed
	// through to the planner untouched.
	Extra map[string]any `json:"-" yaml:"-"`
}

// ResearchQuestion is one question of the mission. IDs are 1-based and
// stable for the life of the workflow.
type ResearchQuestion struct {
	ID            int            `json:"id" yaml:"id,omitempty"`
	Question      string         `json:"question" yaml:"question"`
	Priority      int            `json:"priority" yaml:"priority,omitempty"`
	Category      string         `json:"category" yaml:"category,omitempty"`
	Context       string         `json:"context,omitempty" yaml:"context,omitempty"`
	Sources       []string       `json:"sources,omitempty" yaml:"sources,omitempty"`
	Answered      bool           `json:"answered" yaml:"-"`
	CollectedData map[string]any `json:"collected_data,omitempty" yaml:"-"`
}

// Title returns the mission title, falling back to the research focus.
func (m *MissionContext) Title() string {
	if m.Plan != nil && m.Plan.Title != "" {
		return m.Plan.Title
	}
	return m.ResearchFocus
}

// Objectives returns the plan's objectives, if any.
func (m *MissionContext) Objectives() []string {
	if m.Plan == nil {
		return nil
	}
	return m.Plan.Objectives
}

// Normalize fills defaults and orders the questions by id. Questions without
// an id are numbered by position.
func (m *MissionContext) Normalize() {
	if strings.TrimSpace(m.ResearchFocus) == "" {
		m.ResearchFocus = DefaultResearchFocus
	}
	for i, q := range m.Questions {
		if q.ID <= 0 {
			q.ID = i + 1
		}
		if q.Priority <= 0 {
			q.Priority = q.ID
		}
		if q.Category == "" {
			q.Category = "general"
		}
	}
	slices.SortStableFunc(m.Questions, func(a, b *ResearchQuestion) int { return a.ID - b.ID })
}

// Validate checks that the mission can be executed.
func (m *MissionContext) Validate() error {
	if len(m.Questions) == 0 {
		return ErrNoQuestions
	}
	seen := make(map[int]bool, len(m.Questions))
	for _, q := range m.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("research question %d has no text", q.ID)
		}
		if seen[q.ID] {
			return fmt.Errorf("duplicate research question id %d", q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// Map renders the mission back into its open form, including pass-through
// keys.
func (m *MissionContext) Map() map[string]any {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["research_focus"] = m.ResearchFocus
	if m.Plan != nil {
		out["mission_plan"] = map[string]any{"title": m.Plan.Title, "objectives": m.Plan.Objectives}
	}
	questions := make([]any, 0, len(m.Questions))
	for _, q := range m.Questions {
		questions = append(questions, map[string]any{
			"id":       q.ID,
			"question": q.Question,
			"priority": q.Priority,
			"category": q.Category,
			"context":  q.Context,
		})
	}
	out["research_questions"] = questions
	if len(m.Sources) > 0 {
		out["sources"] = m.Sources
	}
	return out
}

// ParseMissionContext reads a mission from its open map form. Research
// questions may be given as maps or plain strings; missing ids, priorities
// and categories take positional defaults.
func ParseMissionContext(raw map[string]any) (*MissionContext, error) {
	mc := &MissionContext{Extra: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "research_focus", "mission_plan", "research_questions", "sources":
		default:
			mc.Extra[k] = v
		}
	}

	if v, ok := raw["research_focus"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("parse mission: research_focus must be a string, got %T", v)
		}
		mc.ResearchFocus = s
	}

	if v, ok := raw["mission_plan"]; ok && v != nil {
		plan, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse mission: mission_plan must be an object, got %T", v)
		}
		mc.Plan = &MissionPlan{Objectives: stringList(plan["objectives"])}
		mc.Plan.Title, _ = plan["title"].(string)
	}

	mc.Sources = stringList(raw["sources"])

	if v, ok := raw["research_questions"]; ok && v != nil {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("parse mission: research_questions must be a list, got %T", v)
		}
		for i, item := range items {
			q, err := parseQuestion(i, item)
			if err != nil {
				return nil, fmt.Errorf("parse mission: %w", err)
			}
			mc.Questions = append(mc.Questions, q)
		}
	}

	mc.Normalize()
	return mc, nil
}

func parseQuestion(i int, item any) (*ResearchQuestion, error) {
	switch v := item.(type) {
	case string:
		return &ResearchQuestion{ID: i + 1, Question: v}, nil
	case map[string]any:
		q := &ResearchQuestion{
			ID:       i + 1,
			Priority: intValue(v["priority"]),
			Sources:  stringList(v["sources"]),
		}
		q.Question, _ = v["question"].(string)
		q.Category, _ = v["category"].(string)
		q.Context, _ = v["context"].(string)
		return q, nil
	}
	return nil, fmt.Errorf("research question %d: unsupported type %T", i+1, item)
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func stringList(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
