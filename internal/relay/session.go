package relay

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	StatusIdle    = "idle"
	StatusRunning = "running"
)

// Activity is what the relay knows about an agent's recent work.
type Activity struct {
	AgentID     string    `json:"agent_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Status      string    `json:"status"`
	Invocations int       `json:"invocations"`
	Queued      int       `json:"queued"`
	LastActive  time.Time `json:"last_active"`
}

type SessionTracker struct {
	sessions map[string]*Activity // agentID → activity
	mu       sync.RWMutex
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]*Activity),
	}
}

// Start marks the agent as running.
func (t *SessionTracker) Start(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.sessions[agentID]
	if !ok {
		a = &Activity{AgentID: agentID}
		t.sessions[agentID] = a
	}
	a.Status = StatusRunning
	a.Invocations++
	a.LastActive = time.Now()
}

// Finish marks the agent idle. A non-empty sessionID replaces the recorded
// native session.
func (t *SessionTracker) Finish(agentID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.sessions[agentID]
	if !ok {
		return
	}
	a.Status = StatusIdle
	a.LastActive = time.Now()
	if sessionID != "" {
		a.SessionID = sessionID
	}
}

// List returns copies of all activities ordered by agent id.
func (t *SessionTracker) List() []Activity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Activity, 0, len(t.sessions))
	for _, a := range t.sessions {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b Activity) int { return strings.Compare(a.AgentID, b.AgentID) })
	return out
}
