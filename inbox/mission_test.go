package inbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMission = `
chat_id: grid
research_focus: Grid-scale battery storage
mission_plan:
  title: Grid Storage Outlook
  objectives: [size the market]
research_questions:
  - Who are the leading vendors?
  - question: What does a MWh cost?
    category: market_analysis
    priority: 1
    sources: [https://example.com/lcos]
sources: [https://example.com/overview]
audience: board
`

func TestParseMission(t *testing.T) {
	m, err := ParseMission("/tmp/whatever.mission.yaml", []byte(sampleMission))
	require.NoError(t, err)

	assert.Equal(t, "grid", m.ChatID)
	mc := m.Context
	assert.Equal(t, "Grid-scale battery storage", mc.ResearchFocus)
	assert.Equal(t, "Grid Storage Outlook", mc.Title())
	assert.Equal(t, []string{"size the market"}, mc.Objectives())
	assert.Equal(t, []string{"https://example.com/overview"}, mc.Sources)
	assert.Equal(t, "board", mc.Extra["audience"])
	assert.NotContains(t, mc.Extra, "chat_id")

	require.Len(t, mc.Questions, 2)
	assert.Equal(t, "Who are the leading vendors?", mc.Questions[0].Question)
	assert.Equal(t, "market_analysis", mc.Questions[1].Category)
	assert.Equal(t, 1, mc.Questions[1].Priority)
	assert.Equal(t, []string{"https://example.com/lcos"}, mc.Questions[1].Sources)
	assert.NoError(t, mc.Validate())
}

func TestParseMission_ChatFromFileName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/in/solar.mission.yaml", "solar"},
		{"/in/solar.mission.yml", "solar"},
		{"/in/wind.yaml", "wind"},
		{"/in/tidal", "tidal"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, err := ParseMission(tt.path, []byte("research_focus: x\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.ChatID)
		})
	}
}

func TestParseMission_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not yaml", "research_focus: [unclosed"},
		{"bad questions", "research_questions: nope\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMission("m.mission.yaml", []byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadMission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.mission.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMission), 0o644))

	m, err := LoadMission(path)
	require.NoError(t, err)
	assert.Len(t, m.Context.Questions, 2)

	_, err = LoadMission(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
