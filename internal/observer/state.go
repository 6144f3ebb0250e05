// Package observer bridges agent invocations and the external summarizer
// that maintains each agent's rolling observation digest.
package observer

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const stateDirName = ".observer"

// State is the digest written by the summarizer. The bridge only reads it.
type State struct {
	ObservationsText    string  `json:"observations_text"`
	TotalTokensObserved int     `json:"total_tokens_observed"`
	ObservationCount    int     `json:"observation_count"`
	ReflectionCount     int     `json:"reflection_count"`
	LastObservedAt      *string `json:"last_observed_at"`
	CurrentTask         string  `json:"current_task"`
	SuggestedResponse   *string `json:"suggested_response,omitempty"`
}

// timestampLayouts are tried in order; the summarizer may omit the offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ObservedAt parses LastObservedAt. Timestamps without an offset are read
// as UTC.
func (s *State) ObservedAt() (time.Time, bool) {
	if s.LastObservedAt == nil {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, *s.LastObservedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// StateDir returns the per-agent observer directory.
func StateDir(agentID, workspaceRoot string) string {
	return filepath.Join(workspaceRoot, agentID, stateDirName)
}

// StatePath returns the location of the agent's state file.
func StatePath(agentID, workspaceRoot string) string {
	return filepath.Join(StateDir(agentID, workspaceRoot), "state.json")
}

// LoadState reads the agent's state. A missing or malformed file yields
// false; malformed content is logged.
func LoadState(agentID, workspaceRoot string) (*State, bool) {
	path := StatePath(agentID, workspaceRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("read observer state failed", "agent", agentID, "path", path, "error", err)
		}
		return nil, false
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("malformed observer state", "agent", agentID, "path", path, "error", err)
		return nil, false
	}
	return &st, true
}
