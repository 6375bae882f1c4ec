package agents

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// missionPlaceholder is replaced by the mission title in rule answers.
const missionPlaceholder = "{mission}"

// ClarificationRule answers any question containing one of its keywords.
type ClarificationRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Answer   string   `yaml:"answer"`
}

// RuleSet is an ordered list of clarification rules. The first rule with a
// matching keyword wins; Default answers everything else.
type RuleSet struct {
	Rules   []ClarificationRule `yaml:"rules"`
	Default string              `yaml:"default"`
}

// DefaultRules returns the built-in clarification heuristics.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Rules: []ClarificationRule{
			{
				Name:     "selection",
				Keywords: []string{"selected", "major", "key", "which", "what are", "list"},
				Answer: "Use the key examples most relevant to {mission}. Base your selection on " +
					"the criteria established in previous research questions. Focus on items with " +
					"significant impact and clear relevance to the research objectives.",
			},
			{
				Name:     "criteria",
				Keywords: []string{"criteria"},
				Answer: "Apply the criteria established in the previous research. Use consistent standards " +
					"to evaluate relevance, significance, and impact related to {mission}.",
			},
			{
				Name:     "scope",
				Keywords: []string{"scope", "how much", "depth"},
				Answer: "Provide comprehensive coverage of {mission}. Include multiple authoritative " +
					"sources, different perspectives, and sufficient detail for thorough analysis.",
			},
			{
				Name:     "sources",
				Keywords: []string{"sources", "where", "what type"},
				Answer: "Prioritize authoritative sources relevant to {mission}: academic publications, " +
					"government data, industry reports, expert analysis, and credible institutions.",
			},
			{
				Name:     "format",
				Keywords: []string{"format", "structure", "how to"},
				Answer: "Use clear, professional format appropriate for {mission} research. " +
					"Include proper citations, evidence-based analysis, and logical organization.",
			},
			{
				Name:     "focus",
				Keywords: []string{"focus", "prioritize", "emphasis"},
				Answer: "Focus on aspects most relevant to {mission} and the specific research " +
					"objectives outlined in the mission plan. Prioritize quality and relevance.",
			},
			{
				Name:     "timeline",
				Keywords: []string{"timeline", "when"},
				Answer: "Use appropriate timeframes relevant to {mission}. Consider both " +
					"historical context and current developments as applicable.",
			},
			{
				Name:     "approach",
				Keywords: []string{"approach", "methodology"},
				Answer: "Apply systematic research methodology appropriate for {mission}. " +
					"Use evidence-based analysis and maintain objectivity throughout.",
			},
		},
		Default: "Apply best research practices for {mission}. Use authoritative sources, " +
			"maintain focus on the specific objectives, and ensure comprehensive coverage " +
			"of the key aspects identified in the mission plan.",
	}
}

// LoadRules reads a rule set from a YAML file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rs, nil
}

// ParseRules decodes and validates a YAML rule set. A missing default answer
// is taken from DefaultRules.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	for i, rule := range rs.Rules {
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, rule.Name)
		}
		if strings.TrimSpace(rule.Answer) == "" {
			return nil, fmt.Errorf("rule %d (%s): empty answer", i, rule.Name)
		}
		for j, kw := range rule.Keywords {
			rs.Rules[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	if strings.TrimSpace(rs.Default) == "" {
		rs.Default = DefaultRules().Default
	}
	return &rs, nil
}

// Answer returns the answer for question within the named mission, and the
// name of the rule that produced it ("default" when none matched).
func (rs *RuleSet) Answer(question, mission string) (string, string) {
	q := strings.ToLower(question)
	for _, rule := range rs.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(q, kw) {
				return expand(rule.Answer, mission), rule.Name
			}
		}
	}
	return expand(rs.Default, mission), "default"
}

func expand(template, mission string) string {
	return strings.ReplaceAll(template, missionPlaceholder, mission)
}
