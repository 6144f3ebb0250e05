package relay

import "sync"

type QueuedMessage struct {
	AgentID string
	Text    string
	Meta    map[string]string
}

// AgentQueue holds the pending messages of one agent. A single worker holds
// the lock and drains it, so an agent never runs two invocations at once.
type AgentQueue struct {
	agentID string
	pending []QueuedMessage
	mu      sync.Mutex
	locked  bool
}

func NewAgentQueue(agentID string) *AgentQueue {
	return &AgentQueue{agentID: agentID}
}

func (q *AgentQueue) Enqueue(msg QueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

func (q *AgentQueue) Dequeue() (QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return QueuedMessage{}, false
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

func (q *AgentQueue) TryLock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return false
	}
	q.locked = true
	return true
}

// Unlock releases the worker lock. It reports false, keeping the lock, when
// messages arrived after the worker's last Dequeue; the caller must keep
// draining.
func (q *AgentQueue) Unlock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 {
		return false
	}
	q.locked = false
	return true
}

func (q *AgentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
