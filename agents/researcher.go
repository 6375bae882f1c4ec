package agents

import (
	"fmt"
	"log/slog"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// ResearcherConfig configures a Researcher.
type ResearcherConfig struct {
	// Fetcher retrieves source URLs. Nil disables fetching; every source is
	// then recorded as failed.
	Fetcher PageFetcher

	// ClarifyOnMissingContext makes the researcher ask the planner for
	// scope before collecting a question that carries no context.
	ClarifyOnMissingContext bool

	// ExcerptLength caps each source excerpt in runes.
	ExcerptLength int

	// MaxSources caps how many sources are read per question.
	MaxSources int
}

// Researcher collects data for research questions.
type Researcher struct {
	*Base
	collector *collector
}

// NewResearcher creates the researcher. applier may be nil.
func NewResearcher(cfg ResearcherConfig, applier state.Applier, logger *slog.Logger) *Researcher {
	r := &Researcher{
		Base: newBase(agent.RoleResearcher,
			"Diligent field researcher who reads the provided sources and reports what they say",
			applier, logger),
	}
	r.collector = newCollector(r.Base, cfg.Fetcher, cfg.ExcerptLength, cfg.MaxSources)
	if cfg.ClarifyOnMissingContext {
		r.ShouldClarify = scopeQuestions
	}
	r.handle(agent.TaskCollectQuestionData, "searching", r.collector.collect)
	return r
}

// Card describes the researcher for discovery.
func (r *Researcher) Card() agent.Card {
	return agent.Card{
		Name:         r.Name(),
		Description:  r.Personality(),
		Version:      "1.0",
		Capabilities: []agent.Capability{agent.CapabilityDataCollection, agent.CapabilityQuestionResearch},
		Accepts:      r.Accepts(),
	}
}

// scopeQuestions asks for scope and source guidance when a collection task
// arrives without any context for its question.
func scopeQuestions(task *agent.Task) []string {
	if task.Type != agent.TaskCollectQuestionData || task.Params.String("context") != "" {
		return nil
	}
	question := task.Params.String("question")
	return []string{
		fmt.Sprintf("What scope and depth should the research on %q cover?", question),
		"Which sources should be prioritized for this question?",
	}
}
