package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type Team struct {
	ID          string   `yaml:"-"`
	Name        string   `yaml:"name"`
	Agents      []string `yaml:"agents"`
	LeaderAgent string   `yaml:"leader_agent"`
}

// Has reports whether agentID is a member of the team.
func (t Team) Has(agentID string) bool {
	for _, id := range t.Agents {
		if id == agentID {
			return true
		}
	}
	return false
}

// Teams keeps teams in the order they are declared in the config file.
// Lookups that pick "the first team" depend on that order.
type Teams []Team

// UnmarshalYAML decodes a mapping of team id to team definition while
// preserving key order.
func (ts *Teams) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!null" {
		*ts = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("teams: expected a mapping at line %d", value.Line)
	}

	out := make(Teams, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		var t Team
		if err := value.Content[i+1].Decode(&t); err != nil {
			return fmt.Errorf("team %s: %w", key, err)
		}
		t.ID = key
		out = append(out, t)
	}
	*ts = out
	return nil
}

func (ts Teams) Get(id string) (Team, bool) {
	for _, t := range ts {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}
