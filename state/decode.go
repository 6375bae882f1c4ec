package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned by DecodeEvent for kinds this package does not
// know. Callers should ignore such events rather than fail.
var ErrUnknownEvent = errors.New("unknown event kind")

// Mission lifecycle aliases accepted on the wire.
const (
	KindMissionApproved  = "mission_approved"
	KindMissionInitiated = "mission_initiated"
	KindMissionComplete  = "mission_complete"
)

// Envelope is the wire form of an event: its kind plus the variant's fields.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEvent decodes the JSON body of an event of the given kind.
func DecodeEvent(kind string, raw []byte) (Event, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch kind {
	case KindQuestionsPlanned:
		return decodeAs[QuestionsPlanned](kind, raw)
	case KindQuestionStarted:
		return decodeAs[QuestionStarted](kind, raw)
	case KindQuestionCompleted:
		return decodeAs[QuestionCompleted](kind, raw)
	case KindQuestionProgress:
		return decodeAs[QuestionProgress](kind, raw)
	case KindQuestionAssigned:
		return decodeAs[QuestionAssigned](kind, raw)
	case KindWorkflowProgress:
		return decodeAs[WorkflowProgress](kind, raw)
	case KindPlannerThinking:
		return decodeAs[PlannerThinking](kind, raw)
	case KindPlannerResponse:
		return decodeAs[PlannerResponse](kind, raw)
	case KindAgentConversation:
		return decodeAs[AgentConversation](kind, raw)
	case KindAgentOperation:
		return decodeAs[AgentOperation](kind, raw)
	case KindOperationUpdated:
		return decodeAs[OperationUpdated](kind, raw)
	case KindAgentStatus:
		return decodeAs[AgentStatus](kind, raw)
	case KindWorkflowStarted:
		return decodeAs[WorkflowStarted](kind, raw)
	case KindWorkflowStepStarted:
		return decodeAs[WorkflowStepStarted](kind, raw)
	case KindWorkflowStepCompleted:
		return decodeAs[WorkflowStepCompleted](kind, raw)
	case KindWorkflowCompleted:
		return decodeAs[WorkflowCompleted](kind, raw)
	case KindWorkflowFailed:
		return decodeAs[WorkflowFailed](kind, raw)
	case KindDeliverableCreated:
		return decodeAs[DeliverableCreated](kind, raw)
	case KindDeliverableUpdated:
		return decodeAs[DeliverableUpdated](kind, raw)
	case KindMissionTransition:
		return decodeAs[MissionTransition](kind, raw)
	case KindMissionApproved:
		return missionAlias(kind, raw, MissionApproved)
	case KindMissionInitiated:
		return missionAlias(kind, raw, MissionActive)
	case KindMissionComplete:
		return missionAlias(kind, raw, MissionCompleted)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
}

// DecodeEnvelope decodes a flat wire object of the form
// {"event": "<kind>", ...fields}. A nested "data" object is also accepted.
func DecodeEnvelope(body []byte) (string, Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("parse event envelope: %w", err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("parse event envelope: missing event kind")
	}
	raw := []byte(env.Data)
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}
	ev, err := DecodeEvent(env.Event, raw)
	return env.Event, ev, err
}

func decodeAs[T Event](kind string, raw []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return ev, nil
}

func missionAlias(kind string, raw []byte, to MissionState) (Event, error) {
	var ev MissionTransition
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	ev.To = to
	return ev, nil
}

// EncodeEnvelope renders ev in the flat wire form {"event": "<kind>", ...fields}
// accepted by DecodeEnvelope.
func EncodeEnvelope(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s event: %w", ev.Kind(), err)
	}
	kind, _ := json.Marshal(ev.Kind())
	fields["event"] = kind
	return json.Marshal(fields)
}
