package agents

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/c360studio/legion/agent"
	"github.com/c360studio/legion/state"
)

// Deliverable formats the writer can produce.
const (
	FormatReport = "report"
	FormatTable  = "table"
	FormatSlides = "slides"
)

// DefaultFormats is the deliverable set produced when none is requested.
var DefaultFormats = []string{FormatReport, FormatTable, FormatSlides}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// OutputDir, when set, receives a file per deliverable and each
	// artifact's URI points at it.
	OutputDir string

	// Formats overrides DefaultFormats.
	Formats []string
}

// Writer turns the collected data and the analysis into deliverables.
type Writer struct {
	*Base
	cfg WriterConfig
}

// NewWriter creates the writer. applier may be nil.
func NewWriter(cfg WriterConfig, applier state.Applier, logger *slog.Logger) *Writer {
	if len(cfg.Formats) == 0 {
		cfg.Formats = DefaultFormats
	}
	w := &Writer{
		Base: newBase(agent.RoleWriter,
			"Clear, structured writer who turns findings into publication-ready deliverables",
			applier, logger),
		cfg: cfg,
	}
	w.handle(agent.TaskSynthesizeReport, "composing", w.synthesize)
	return w
}

// Card describes the writer for discovery.
func (w *Writer) Card() agent.Card {
	return agent.Card{
		Name:         w.Name(),
		Description:  w.Personality(),
		Version:      "1.0",
		Capabilities: []agent.Capability{agent.CapabilityContentGeneration},
		Accepts:      w.Accepts(),
	}
}

func (w *Writer) synthesize(_ context.Context, task *agent.Task) (*agent.Response, error) {
	var in agent.SynthesizeReport
	if err := agent.Decode(task.Params, &in); err != nil {
		return nil, err
	}
	analysis, err := analysisOf(in.Analysis)
	if err != nil {
		return nil, err
	}
	title := in.MissionTitle
	if title == "" {
		title = in.ResearchFocus
	}
	if title == "" {
		title = "Research Report"
	}

	formats := task.Params.Strings("formats")
	if len(formats) == 0 {
		formats = w.cfg.Formats
	}

	var artifacts []agent.Artifact
	for _, format := range formats {
		var a agent.Artifact
		switch format {
		case FormatReport:
			a = agent.Artifact{Type: "document", Title: title + " - Research Report", Format: "markdown",
				Content: RenderReport(title, in.CollectedData, analysis)}
		case FormatTable:
			content, err := RenderTable(in.CollectedData)
			if err != nil {
				return nil, err
			}
			a = agent.Artifact{Type: "spreadsheet", Title: title + " - Findings Table", Format: "csv", Content: content}
		case FormatSlides:
			a = agent.Artifact{Type: "presentation", Title: title + " - Briefing Slides", Format: "markdown",
				Content: RenderSlides(title, in.CollectedData, analysis)}
		default:
			return nil, fmt.Errorf("unknown deliverable format %q", format)
		}
		a.Metadata = map[string]any{
			"questions": len(in.CollectedData),
			"sources":   analysis.TotalSources,
		}
		if w.cfg.OutputDir != "" {
			path, err := w.save(title, format, a)
			if err != nil {
				return nil, err
			}
			a.URI = path
		}
		artifacts = append(artifacts, a)
	}

	summary := fmt.Sprintf("Generated %d deliverable(s) for %s", len(artifacts), title)
	return agent.Completed(task.ID, agent.Params{
		"deliverable_count": len(artifacts),
		"formats":           formats,
		"summary":           summary,
	}, summary, artifacts...), nil
}

func (w *Writer) save(title, format string, a agent.Artifact) (string, error) {
	if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	ext := ".md"
	if a.Format == "csv" {
		ext = ".csv"
	}
	path := filepath.Join(w.cfg.OutputDir, slug(title)+"-"+format+ext)
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", format, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// analysisOf reads the analyst's output from the analysis step data. Both
// {"analysis": {...}} and the bare object are accepted.
func analysisOf(data map[string]any) (Analysis, error) {
	var out Analysis
	if data == nil {
		return out, nil
	}
	src := any(data)
	if nested, ok := data["analysis"]; ok {
		src = nested
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return out, fmt.Errorf("marshal analysis: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode analysis: %w", err)
	}
	return out, nil
}

// RenderReport builds the markdown research report.
func RenderReport(title string, data []agent.CollectedData, a Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "%d research questions were answered using %d sources.", len(data), a.TotalSources)
	if len(a.Categories) > 0 {
		fmt.Fprintf(&b, " Coverage spans %s.", strings.Join(sortedKeys(a.Categories), ", "))
	}
	b.WriteString("\n\n")

	if len(a.KeyFindings) > 0 {
		b.WriteString("## Key Findings\n\n")
		for _, f := range a.KeyFindings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Findings by Question\n\n")
	for _, cd := range data {
		fmt.Fprintf(&b, "### Q%d: %s\n\n", cd.QuestionID, cd.Question)
		if cd.Category != "" {
			fmt.Fprintf(&b, "*Category: %s*\n\n", cd.Category)
		}
		collected := asMap(cd.Data["collected_data"])
		for _, f := range stringsOf(collected["findings"]) {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		for _, g := range stringsOf(collected["guidance"]) {
			fmt.Fprintf(&b, "- Guidance: %s\n", g)
		}
		b.WriteString("\n")
	}

	if len(a.Correlations) > 0 {
		b.WriteString("## Cross-Question Patterns\n\n")
		for _, c := range a.Correlations {
			fmt.Fprintf(&b, "- **%s** appears in questions %s\n", c.Keyword, joinInts(c.QuestionIDs))
		}
		b.WriteString("\n")
	}

	if len(a.Citations) > 0 {
		b.WriteString("## Sources\n\n")
		for i, c := range a.Citations {
			fmt.Fprintf(&b, "%d. [%s](%s) - %s\n", i+1, c.Title, c.URL, c.Domain)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderTable builds a CSV with one row per question.
func RenderTable(data []agent.CollectedData) (string, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	rows := [][]string{{"question_id", "question", "category", "source_count", "key_finding"}}
	for _, cd := range data {
		collected := asMap(cd.Data["collected_data"])
		finding := ""
		if f := stringsOf(collected["findings"]); len(f) > 0 {
			finding = f[0]
		}
		rows = append(rows, []string{
			strconv.Itoa(cd.QuestionID),
			cd.Question,
			cd.Category,
			strconv.Itoa(len(asSlice(collected["sources"]))),
			finding,
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return buf.String(), nil
}

// RenderSlides builds a markdown slide outline, one slide per question
// between a title slide and a summary slide.
func RenderSlides(title string, data []agent.CollectedData, a Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Slide 1: %s\n\n- %d questions, %d sources\n\n", title, len(data), a.TotalSources)
	for i, cd := range data {
		fmt.Fprintf(&b, "# Slide %d: %s\n\n", i+2, cd.Question)
		findings := stringsOf(asMap(cd.Data["collected_data"])["findings"])
		if len(findings) > 3 {
			findings = findings[:3]
		}
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "# Slide %d: Summary\n\n", len(data)+2)
	if len(a.Correlations) == 0 {
		b.WriteString("- No recurring themes across questions\n")
	}
	for _, c := range a.Correlations {
		fmt.Fprintf(&b, "- %s (questions %s)\n", c.Keyword, joinInts(c.QuestionIDs))
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

// slug makes a file-name-safe version of a title.
func slug(title string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, title)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	if s == "" {
		s = "report"
	}
	return s
}
