package agents

import (
	"log/slog"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// TeamConfig configures the four reference agents.
type TeamConfig struct {
	Researcher ResearcherConfig
	Writer     WriterConfig
	Rules      *RuleSet
}

// Team builds the planner, researcher, analyst and writer. The analyst
// shares the researcher's fetcher and limits so routed questions can go to
// either.
func Team(cfg TeamConfig, applier state.Applier, logger *slog.Logger) []agent.Agent {
	return []agent.Agent{
		NewPlanner(applier, logger, WithRules(cfg.Rules)),
		NewResearcher(cfg.Researcher, applier, logger),
		NewAnalyst(AnalystConfig{
			Fetcher:       cfg.Researcher.Fetcher,
			ExcerptLength: cfg.Researcher.ExcerptLength,
			MaxSources:    cfg.Researcher.MaxSources,
		}, applier, logger),
		NewWriter(cfg.Writer, applier, logger),
	}
}
