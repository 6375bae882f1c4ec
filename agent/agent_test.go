package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsMergeNeverRemoves(t *testing.T) {
	base := Params{"question": "q", "priority": 1}
	merged := base.Merge(Params{"clarification_provided": true, "priority": 2})

	assert.Equal(t, "q", merged.String("question"))
	assert.Equal(t, 2, merged.Int("priority"))
	assert.True(t, merged.Bool("clarification_provided"))

	// original untouched
	assert.Equal(t, 1, base.Int("priority"))
	_, ok := base["clarification_provided"]
	assert.False(t, ok)
}

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"n_float":  float64(3),
		"n_int64":  int64(4),
		"list_any": []any{"a", 1, "b"},
		"list_str": []string{"x"},
		"nested":   map[string]any{"k": "v"},
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"float as int", p.Int("n_float"), 3},
		{"int64 as int", p.Int("n_int64"), 4},
		{"missing int", p.Int("nope"), 0},
		{"any list filters non-strings", p.Strings("list_any"), []string{"a", "b"}},
		{"string list", p.Strings("list_str"), []string{"x"}},
		{"nested map", p.Map("nested"), map[string]any{"k": "v"}},
		{"missing string", p.String("nope"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestTaskWithParamsKeepsID(t *testing.T) {
	task := &Task{ID: NewTaskID(), Type: TaskCollectQuestionData, Params: Params{"question_id": 2}}
	retry := task.WithParams(Params{"clarification_provided": true})

	assert.Equal(t, task.ID, retry.ID)
	assert.True(t, retry.Params.Bool("clarification_provided"))
	assert.False(t, task.Params.Bool("clarification_provided"))
}

func TestClarificationTaskID(t *testing.T) {
	assert.Equal(t, "abc_clarification", ClarificationTaskID("abc"))
	assert.NotEqual(t, NewTaskID(), NewTaskID())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.False(t, StatusNeedsClarification.IsTerminal())
}

func TestNeedsClarificationQuestions(t *testing.T) {
	resp := NeedsClarification("t1", "which sources?", "what scope?")
	assert.Equal(t, []string{"which sources?", "what scope?"}, resp.Questions())

	var nilResp *Response
	assert.Nil(t, nilResp.Questions())
}

func TestPayloadRoundTrip(t *testing.T) {
	in := CollectQuestion{
		QuestionID: 2,
		Question:   "Who are the key players?",
		Category:   "key_players",
		Sources:    []string{"https://example.com/a"},
	}
	params, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, 2, params.Int("question_id"))

	// pass-through field added by a caller survives next to the payload
	params["custom"] = "kept"

	var out CollectQuestion
	require.NoError(t, Decode(params, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "kept", params.String("custom"))
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	var out AnalyzeAll
	err := Decode(Params{"collected_data": "not a list"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(TaskAnalyzeAll))
}

func TestCardHas(t *testing.T) {
	card := Card{Name: "researcher", Capabilities: []Capability{CapabilityDataCollection, CapabilityQuestionResearch}}
	assert.True(t, card.Has(CapabilityQuestionResearch))
	assert.False(t, card.Has(CapabilityPlanning))
}
