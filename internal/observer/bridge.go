package observer

import (
	"log/slog"
	"strings"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/config"
)

// Bridge loads injected context and records exchanges for observer-enabled
// agents.
type Bridge struct {
	recorder *Recorder
}

func NewBridge(cfg config.ObserverConfig) *Bridge {
	return &Bridge{recorder: NewRecorder(cfg)}
}

// Context returns the formatted observer block for agentID. It reports
// false when there is no state or the observations are empty.
func (b *Bridge) Context(agentID, workspaceRoot string) (string, bool) {
	st, ok := LoadState(agentID, workspaceRoot)
	if !ok || strings.TrimSpace(st.ObservationsText) == "" {
		return "", false
	}
	if at, ok := st.ObservedAt(); ok {
		slog.Debug("observer context", "agent", agentID, "observed_at", at, "age", time.Since(at).Round(time.Second))
	}
	filtered := *st
	filtered.ObservationsText = FilterStaleTeamReferences(st.ObservationsText)
	return FormatContext(filtered), true
}

// UpdateConfig applies reloaded observer settings to later recordings.
func (b *Bridge) UpdateConfig(cfg config.ObserverConfig) {
	b.recorder.UpdateConfig(cfg)
}

func (b *Bridge) Record(req RecordRequest) {
	b.recorder.Record(req)
}

// Wait drains in-flight recordings.
func (b *Bridge) Wait() {
	b.recorder.Wait()
}
