// Package inbox starts research missions from YAML files dropped into a
// watched directory.
package inbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/legion/workflow"
)

// Mission is a parsed mission file.
//
//	chat_id: grid-storage
//	research_focus: Grid-scale battery storage
//	mission_plan:
//	  title: Grid Storage Outlook
//	research_questions:
//	  - Who are the leading vendors?
//	  - question: What does a MWh cost?
//	    category: market_analysis
//	    sources: [https://example.com/lcos]
//	sources: [https://example.com/overview]
type Mission struct {
	ChatID  string
	Context *workflow.MissionContext
}

// ParseMission parses a mission file. The chat id falls back to the file
// name without its mission suffix.
func ParseMission(path string, data []byte) (*Mission, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse mission file: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parse mission file: empty document")
	}

	chatID, _ := raw["chat_id"].(string)
	delete(raw, "chat_id")
	if chatID == "" {
		chatID = chatFromPath(path)
	}

	mc, err := workflow.ParseMissionContext(raw)
	if err != nil {
		return nil, err
	}
	return &Mission{ChatID: chatID, Context: mc}, nil
}

// LoadMission reads and parses a mission file.
func LoadMission(path string) (*Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mission file: %w", err)
	}
	return ParseMission(path, data)
}

func chatFromPath(path string) string {
	base := filepath.Base(path)
	for _, suffix := range []string{".mission.yaml", ".mission.yml", ".yaml", ".yml"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}
