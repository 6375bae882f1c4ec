package comms

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/legion/agent"
)

// Narrate renders the human-readable assignment message for a task. Core
// task types use fixed templates; other types fall back to message, then to
// a generic request.
func Narrate(t *agent.Task, message string) string {
	to := strings.ToUpper(t.ToAgent)
	p := t.Params
	switch t.Type {
	case agent.TaskCollectQuestionData:
		if category := p.String("category"); category != "" {
			return fmt.Sprintf("%s, please research question #%d (%s): %s", to, p.Int("question_id"), category, p.String("question"))
		}
		return fmt.Sprintf("%s, please research question #%d: %s", to, p.Int("question_id"), p.String("question"))
	case agent.TaskAnalyzeAll:
		return fmt.Sprintf("%s, please analyze ALL collected data from %d research questions", to, p.Int("total_questions"))
	case agent.TaskSynthesizeReport:
		return fmt.Sprintf("%s, please create a comprehensive report from the analysis of %d questions", to, p.Int("total_questions"))
	case agent.TaskProvideClarification:
		return fmt.Sprintf("%s, please provide clarification for %d questions from %s",
			to, len(p.Strings("agent_questions")), strings.ToUpper(p.String("asking_agent")))
	case agent.TaskCoordinateMission:
		return fmt.Sprintf("%s, please coordinate the mission: %s", to, p.String("research_focus"))
	case agent.TaskGenerateQuestions:
		return fmt.Sprintf("%s, please generate research questions for: %s", to, p.String("research_focus"))
	}
	if message != "" {
		return message
	}
	return fmt.Sprintf("%s, please work on %s", to, t.Type)
}

// NarrateResponse renders the human-readable message for a response.
func NarrateResponse(t *agent.Task, r *agent.Response) string {
	switch r.Status {
	case agent.StatusError:
		return fmt.Sprintf("Task %s failed: %s", t.Type, firstNonEmpty(r.Message, r.Data.String("error"), "unknown error"))
	case agent.StatusNeedsClarification:
		return fmt.Sprintf("Need clarification on %d points before %s", len(r.Questions()), t.Type)
	case agent.StatusInProgress:
		return firstNonEmpty(r.Message, fmt.Sprintf("Task %s in progress", t.Type))
	}

	switch t.Type {
	case agent.TaskCollectQuestionData:
		summary := firstNonEmpty(r.Data.String("summary"), r.Message, "data collected")
		return fmt.Sprintf("Question #%d research completed: %s", t.Params.Int("question_id"), summary)
	case agent.TaskAnalyzeAll:
		if n := countItems(r.Data["key_findings"]); n > 0 {
			return fmt.Sprintf("Analysis completed: %d key findings identified", n)
		}
		return "Analysis completed"
	case agent.TaskSynthesizeReport:
		title := "deliverables ready"
		if len(r.Artifacts) > 0 {
			title = r.Artifacts[0].Title
		}
		return fmt.Sprintf("Final synthesis completed: %s", title)
	case agent.TaskGenerateQuestions:
		return fmt.Sprintf("Generated %d research questions for systematic investigation", countItems(r.Data["research_questions"]))
	case agent.TaskProvideClarification:
		return fmt.Sprintf("Provided answers to %d clarification questions", countItems(r.Data["clarifications"]))
	}
	return firstNonEmpty(r.Message, fmt.Sprintf("Task %s %s", t.Type, r.Status))
}

// ClarificationRequestMessage renders a stuck agent's questions as a
// bulleted request.
func ClarificationRequestMessage(t *agent.Task, questions []string) string {
	var sb strings.Builder
	sb.WriteString("I need some clarification on your request:")
	if q := t.Params.String("question"); q != "" {
		fmt.Fprintf(&sb, "\nRegarding research question: '%s'\n", q)
	}
	for _, q := range questions {
		sb.WriteString("\n• ")
		sb.WriteString(q)
	}
	return sb.String()
}

// ClarificationResponseMessage renders clarification answers in key order.
func ClarificationResponseMessage(answers map[string]string) string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	// question_2 before question_10
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	var sb strings.Builder
	sb.WriteString("Here is the clarification you asked for:")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n• %s", answers[k])
	}
	return sb.String()
}

func countItems(v any) int {
	switch items := v.(type) {
	case []any:
		return len(items)
	case []string:
		return len(items)
	case []map[string]any:
		return len(items)
	case map[string]any:
		return len(items)
	case map[string]string:
		return len(items)
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
