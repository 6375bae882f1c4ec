package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// maxCorrelations caps the cross-question keyword list.
const maxCorrelations = 10

var stopwords = map[string]bool{
	"about": true, "after": true, "their": true, "there": true, "these": true,
	"those": true, "which": true, "while": true, "where": true, "would": true,
	"could": true, "should": true, "other": true, "being": true, "between": true,
	"through": true, "within": true, "without": true, "question": true,
	"research": true, "sources": true, "provided": true, "answer": true,
	"relies": true, "mission": true, "context": true, "external": true,
}

// Correlation is a keyword shared by the findings of several questions.
type Correlation struct {
	Keyword     string `json:"keyword"`
	QuestionIDs []int  `json:"question_ids"`
}

// Analysis is the analyst's structured output.
type Analysis struct {
	ResearchFocus     string         `json:"research_focus"`
	TotalQuestions    int            `json:"total_questions"`
	AnsweredQuestions int            `json:"answered_questions"`
	Coverage          float64        `json:"coverage"`
	Categories        map[string]int `json:"categories"`
	TotalSources      int            `json:"total_sources"`
	SourceTypes       map[string]int `json:"source_types"`
	KeyFindings       []string       `json:"key_findings"`
	Correlations      []Correlation  `json:"correlations"`
	Citations         []Citation     `json:"citations"`
}

// AnalystConfig configures an Analyst.
type AnalystConfig struct {
	// Fetcher lets the analyst also take question collection when routes
	// send a category its way.
	Fetcher       PageFetcher
	ExcerptLength int
	MaxSources    int
}

// Analyst analyses every collected answer in one batch.
type Analyst struct {
	*Base
	collector *collector
}

// NewAnalyst creates the analyst. applier may be nil.
func NewAnalyst(cfg AnalystConfig, applier state.Applier, logger *slog.Logger) *Analyst {
	a := &Analyst{
		Base: newBase(agent.RoleAnalyst,
			"Sceptical analyst who looks for patterns across every answer before drawing conclusions",
			applier, logger),
	}
	a.collector = newCollector(a.Base, cfg.Fetcher, cfg.ExcerptLength, cfg.MaxSources)
	a.handle(agent.TaskAnalyzeAll, "analyzing", a.analyze)
	a.handle(agent.TaskCollectQuestionData, "searching", a.collector.collect)
	return a
}

// Card describes the analyst for discovery.
func (a *Analyst) Card() agent.Card {
	return agent.Card{
		Name:         a.Name(),
		Description:  a.Personality(),
		Version:      "1.0",
		Capabilities: []agent.Capability{agent.CapabilityAnalysis, agent.CapabilityQuestionResearch},
		Accepts:      a.Accepts(),
	}
}

func (a *Analyst) analyze(_ context.Context, task *agent.Task) (*agent.Response, error) {
	var in agent.AnalyzeAll
	if err := agent.Decode(task.Params, &in); err != nil {
		return nil, err
	}
	if len(in.CollectedData) == 0 {
		return nil, fmt.Errorf("no collected data to analyse")
	}

	result := Analyze(in)
	summary := fmt.Sprintf("Analysed %d of %d questions: %d sources, %d correlations",
		result.AnsweredQuestions, result.TotalQuestions, result.TotalSources, len(result.Correlations))

	return agent.Completed(task.ID, agent.Params{
		"analysis": result,
		"summary":  summary,
	}, summary), nil
}

// Analyze derives category counts, key findings and keyword correlations
// from a batch of collected answers.
func Analyze(in agent.AnalyzeAll) Analysis {
	total := in.TotalQuestions
	if total < len(in.CollectedData) {
		total = len(in.CollectedData)
	}
	out := Analysis{
		ResearchFocus:     in.ResearchFocus,
		TotalQuestions:    total,
		AnsweredQuestions: len(in.CollectedData),
		Categories:        make(map[string]int),
		SourceTypes:       make(map[string]int),
	}
	if total > 0 {
		out.Coverage = float64(out.AnsweredQuestions) / float64(total)
	}

	keywords := make(map[string]map[int]bool)
	seen := make(map[string]bool)
	for _, cd := range in.CollectedData {
		category := cd.Category
		if category == "" {
			category = CategoryGeneral
		}
		out.Categories[category]++

		collected := asMap(cd.Data["collected_data"])
		for _, src := range asSlice(collected["sources"]) {
			s := asMap(src)
			out.TotalSources++
			if t, _ := s["source_type"].(string); t != "" {
				out.SourceTypes[t]++
			}
		}
		for _, c := range asSlice(collected["citations"]) {
			m := asMap(c)
			u, _ := m["url"].(string)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			title, _ := m["title"].(string)
			domain, _ := m["domain"].(string)
			out.Citations = append(out.Citations, Citation{URL: u, Title: title, Domain: domain})
		}

		findings := stringsOf(collected["findings"])
		if len(findings) == 0 {
			if s, _ := cd.Data["summary"].(string); s != "" {
				findings = []string{s}
			}
		}
		if len(findings) > 0 {
			out.KeyFindings = append(out.KeyFindings,
				fmt.Sprintf("Q%d (%s): %s", cd.QuestionID, category, findings[0]))
		}
		for _, f := range findings {
			for _, w := range significantWords(f) {
				if keywords[w] == nil {
					keywords[w] = make(map[int]bool)
				}
				keywords[w][cd.QuestionID] = true
			}
		}
	}

	for w, ids := range keywords {
		if len(ids) < 2 {
			continue
		}
		c := Correlation{Keyword: w}
		for id := range ids {
			c.QuestionIDs = append(c.QuestionIDs, id)
		}
		sort.Ints(c.QuestionIDs)
		out.Correlations = append(out.Correlations, c)
	}
	sort.Slice(out.Correlations, func(i, j int) bool {
		ci, cj := out.Correlations[i], out.Correlations[j]
		if len(ci.QuestionIDs) != len(cj.QuestionIDs) {
			return len(ci.QuestionIDs) > len(cj.QuestionIDs)
		}
		return ci.Keyword < cj.Keyword
	})
	if len(out.Correlations) > maxCorrelations {
		out.Correlations = out.Correlations[:maxCorrelations]
	}
	return out
}

// significantWords returns the distinct lowercase words of at least five
// letters that are not stopwords.
func significantWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len(f) < 5 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case agent.Params:
		return m
	}
	return nil
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func stringsOf(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
