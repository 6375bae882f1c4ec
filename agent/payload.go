package agent

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed parameter set of a core task type. Fields the core
// does not interpret stay in the open Params map alongside the encoded payload.
type Payload interface {
	TaskType() TaskType
}

// CollectedData is one answered research question as handed to the analyst
// and writer.
type CollectedData struct {
	QuestionID int            `json:"question_id"`
	Question   string         `json:"question"`
	Category   string         `json:"category"`
	Data       map[string]any `json:"data"`
}

// Coordinate asks the planner to acknowledge and prepare a mission.
type Coordinate struct {
	ResearchFocus  string         `json:"research_focus"`
	MissionTitle   string         `json:"mission_title,omitempty"`
	Objectives     []string       `json:"objectives,omitempty"`
	QuestionCount  int            `json:"question_count"`
	WorkflowType   string         `json:"workflow_type"`
	MissionContext map[string]any `json:"mission_context,omitempty"`
}

// GenerateQuestions asks the planner for a research question set.
type GenerateQuestions struct {
	ResearchFocus string `json:"research_focus"`
	MissionTitle  string `json:"mission_title,omitempty"`
	Count         int    `json:"count,omitempty"`
}

// CollectQuestion asks the researcher to gather data for one question.
type CollectQuestion struct {
	QuestionID            int               `json:"question_id"`
	Question              string            `json:"question"`
	Category              string            `json:"category"`
	Context               string            `json:"context,omitempty"`
	Priority              int               `json:"priority,omitempty"`
	Sources               []string          `json:"sources,omitempty"`
	ResearchFocus         string            `json:"research_focus,omitempty"`
	MissionTitle          string            `json:"mission_title,omitempty"`
	Clarifications        map[string]string `json:"clarifications,omitempty"`
	ClarificationProvided bool              `json:"clarification_provided,omitempty"`
}

// AnalyzeAll hands every collected answer to the analyst in one batch.
type AnalyzeAll struct {
	CollectedData  []CollectedData `json:"collected_data"`
	TotalQuestions int             `json:"total_questions"`
	ResearchFocus  string          `json:"research_focus,omitempty"`
	MissionTitle   string          `json:"mission_title,omitempty"`
}

// SynthesizeReport asks the writer for the final deliverable set.
type SynthesizeReport struct {
	CollectedData  []CollectedData `json:"collected_data"`
	Analysis       map[string]any  `json:"analysis"`
	TotalQuestions int             `json:"total_questions"`
	ResearchFocus  string          `json:"research_focus,omitempty"`
	MissionTitle   string          `json:"mission_title,omitempty"`
}

// ProvideClarification asks the planner to answer another agent's questions.
type ProvideClarification struct {
	OriginalTask     string         `json:"original_task"`
	OriginalTaskType TaskType       `json:"task_type"`
	AskingAgent      string         `json:"asking_agent"`
	AgentQuestions   []string       `json:"agent_questions"`
	Context          map[string]any `json:"context"`
	MissionTitle     string         `json:"mission_title,omitempty"`
}

func (Coordinate) TaskType() TaskType           { return TaskCoordinateMission }
func (GenerateQuestions) TaskType() TaskType    { return TaskGenerateQuestions }
func (CollectQuestion) TaskType() TaskType      { return TaskCollectQuestionData }
func (AnalyzeAll) TaskType() TaskType           { return TaskAnalyzeAll }
func (SynthesizeReport) TaskType() TaskType     { return TaskSynthesizeReport }
func (ProvideClarification) TaskType() TaskType { return TaskProvideClarification }

// Encode flattens a payload into an open parameter map.
func Encode(p Payload) (Params, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.TaskType(), err)
	}
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", p.TaskType(), err)
	}
	return params, nil
}

// Decode fills the payload pointed to by out from params. Unknown keys are
// ignored so pass-through fields survive untouched in the original map.
func Decode(params Params, out Payload) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s params: %w", out.TaskType(), err)
	}
	return nil
}
