package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/source/web"
	"github.com/c360studio/legion/state"
)

// PageFetcher retrieves one source URL. *web.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*web.FetchResult, error)
}

// Source is one fetched research source.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Domain  string `json:"domain"`
	Type    string `json:"source_type"`
	Excerpt string `json:"excerpt"`
	Words   int    `json:"word_count"`
}

// Citation references a source in deliverables.
type Citation struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Domain string `json:"domain"`
}

// FailedSource records a source that could not be fetched.
type FailedSource struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// collector gathers the data for one research question.
type collector struct {
	base       *Base
	fetcher    PageFetcher
	converter  *web.Converter
	excerpt    int
	maxSources int
	now        func() time.Time
}

func newCollector(b *Base, fetcher PageFetcher, excerpt, maxSources int) *collector {
	if excerpt <= 0 {
		excerpt = 600
	}
	if maxSources <= 0 {
		maxSources = 5
	}
	return &collector{
		base:       b,
		fetcher:    fetcher,
		converter:  web.NewConverter(),
		excerpt:    excerpt,
		maxSources: maxSources,
		now:        time.Now,
	}
}

func (c *collector) collect(ctx context.Context, task *agent.Task) (*agent.Response, error) {
	var in agent.CollectQuestion
	if err := agent.Decode(task.Params, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, fmt.Errorf("question %d has no text", in.QuestionID)
	}

	urls := in.Sources
	if len(urls) > c.maxSources {
		urls = urls[:c.maxSources]
	}

	var (
		sources   []Source
		citations []Citation
		failed    []FailedSource
		findings  []string
	)
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.base.emit(ctx, task.ChatID, state.QuestionProgress{
			QuestionID: in.QuestionID,
			Progress:   10 + 80*i/len(urls),
			Phase:      "collecting",
			Details:    "Reading " + web.Domain(u),
			Agent:      c.base.Name(),
		})

		src, err := c.read(ctx, u)
		if err != nil {
			c.base.logger.Warn("Source fetch failed", "url", u, "question_id", in.QuestionID, "error", err)
			failed = append(failed, FailedSource{URL: u, Error: err.Error()})
			continue
		}
		sources = append(sources, *src)
		citations = append(citations, Citation{URL: src.URL, Title: src.Title, Domain: src.Domain})
		if f := firstSentence(src.Excerpt); f != "" {
			findings = append(findings, f)
		}
	}

	switch {
	case len(urls) == 0:
		findings = append(findings, fmt.Sprintf("No external sources were provided for question %d; the answer relies on the mission context.", in.QuestionID))
	case len(sources) == 0:
		findings = append(findings, fmt.Sprintf("None of the %d sources for question %d could be retrieved.", len(urls), in.QuestionID))
	}
	if in.Context != "" {
		findings = append(findings, "Context: "+in.Context)
	}
	guidance := orderedAnswers(in.Clarifications)

	summary := fmt.Sprintf("Found %d sources with %d citations for: %s", len(sources), len(citations), in.Question)
	return agent.Completed(task.ID, agent.Params{
		"question_id": in.QuestionID,
		"question":    in.Question,
		"category":    in.Category,
		"collected_data": map[string]any{
			"query":          in.Question,
			"sources":        sources,
			"citations":      citations,
			"findings":       findings,
			"guidance":       guidance,
			"failed_sources": failed,
			"metadata": map[string]any{
				"total_sources":   len(sources),
				"total_citations": len(citations),
				"failed_sources":  len(failed),
				"timestamp":       c.now().UTC().Format(time.RFC3339),
			},
		},
		"source_count":   len(sources),
		"citation_count": len(citations),
		"summary":        summary,
	}, summary), nil
}

// read fetches a URL and reduces it to a source record. Non-HTML bodies are
// kept as plain text.
func (c *collector) read(ctx context.Context, u string) (*Source, error) {
	if c.fetcher == nil {
		return nil, fmt.Errorf("source fetching is disabled")
	}
	res, err := c.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}

	title, text := "", string(res.Body)
	if res.ContentType == "" || strings.Contains(res.ContentType, "html") {
		doc, err := c.converter.Convert(res.Body)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", u, err)
		}
		title, text = doc.Title, doc.Markdown
	}
	if title == "" {
		title = web.Domain(u)
	}

	return &Source{
		URL:     u,
		Title:   title,
		Domain:  web.Domain(u),
		Type:    web.Classify(u),
		Excerpt: web.Excerpt(text, c.excerpt),
		Words:   len(strings.Fields(text)),
	}, nil
}

// firstSentence returns the first prose sentence of a markdown excerpt,
// skipping headings and blank lines.
func firstSentence(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "|") {
			continue
		}
		if i := strings.IndexAny(line, ".!?"); i > 0 {
			return line[:i+1]
		}
		return line
	}
	return ""
}

// orderedAnswers lists clarification answers in question_1..n order.
func orderedAnswers(answers map[string]string) []string {
	if len(answers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = answers[k]
	}
	return out
}
