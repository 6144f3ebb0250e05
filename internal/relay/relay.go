// Package relay delivers inbound messages to agents one at a time, runs each
// through the dispatcher and fans the directed parts of every response out to
// the addressed teammates over the bus.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/dispatch"
	"github.com/mtzanidakis/teamrelay/internal/mention"
	"github.com/mtzanidakis/teamrelay/internal/natsbus"
	"github.com/mtzanidakis/teamrelay/internal/registry"
	"github.com/mtzanidakis/teamrelay/internal/router"
	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Meta keys carried with inbound messages.
const (
	MetaSender = "sender"
	MetaHops   = "hops"
	MetaReset  = "reset"
	MetaTaskID = "task_id"
)

const (
	SenderUser     = "user"
	SenderAgent    = "agent"
	teammatePrefix = "teammate:"
)

const defaultMaxHops = 8

// ErrStopped is returned for messages handed to a stopped relay.
var ErrStopped = errors.New("relay stopped")

// Invoker runs one agent invocation.
type Invoker interface {
	Invoke(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Redactor scrubs secret values from agent output.
type Redactor interface {
	Redact(agentID string, names []string, content string) string
}

type OutputListener func(agentID, content string, meta map[string]string)

// Inbound is the payload of agent.<id>.input.
type Inbound struct {
	Text string            `json:"text"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Output is published on agent.<id>.output after every invocation.
type Output struct {
	Type     string            `json:"type"` // "result" or "error"
	Content  string            `json:"content"`
	Mentions []string          `json:"mentions,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

type Relay struct {
	client   *natsbus.Client
	store    *store.Store
	registry *registry.Registry
	invoker  Invoker
	redactor Redactor
	router   *router.Router
	sessions *SessionTracker

	mu      sync.Mutex
	maxHops int
	queues  map[string]*AgentQueue
	resets  map[string]bool
	pending map[string]map[string]bool // agent → teammates it awaits
	subs    []*nats.Subscription
	input   jetstream.ConsumeContext
	stopped bool
	wg      sync.WaitGroup

	listeners  []OutputListener
	listenerMu sync.RWMutex
}

func New(client *natsbus.Client, s *store.Store, reg *registry.Registry, inv Invoker, cfg config.RelayConfig) *Relay {
	r := &Relay{
		client:   client,
		store:    s,
		registry: reg,
		invoker:  inv,
		router:   router.New(reg),
		sessions: NewSessionTracker(),
		queues:   make(map[string]*AgentQueue),
		resets:   make(map[string]bool),
		pending:  make(map[string]map[string]bool),
	}
	r.UpdateConfig(cfg)
	return r
}

// SetRedactor installs the secret redactor applied to every response.
func (r *Relay) SetRedactor(rd Redactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redactor = rd
}

func (r *Relay) UpdateConfig(cfg config.RelayConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxHops = cfg.MaxHops
	if r.maxHops <= 0 {
		r.maxHops = defaultMaxHops
	}
}

// Start subscribes to IPC and user input and starts consuming the durable
// agent input stream. Messages arriving on the bus are processed under ctx.
func (r *Relay) Start(ctx context.Context) error {
	ipc, err := r.client.Subscribe(natsbus.TopicIPCAll, func(msg *nats.Msg) {
		r.handleIPC(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe ipc: %w", err)
	}
	user, err := r.client.Subscribe(natsbus.TopicUserInput, func(msg *nats.Msg) {
		r.handleUserInput(ctx, msg)
	})
	if err != nil {
		_ = ipc.Unsubscribe()
		return fmt.Errorf("subscribe user input: %w", err)
	}

	input, err := r.client.ConsumeDurable(ctx, natsbus.StreamAgentInput, natsbus.ConsumerAgentInput, natsbus.TopicAgentInputAll, func(msg jetstream.Msg) {
		if err := r.handleInput(ctx, msg.Subject(), msg.Data()); errors.Is(err, ErrStopped) {
			// Left in the stream for the next start.
			_ = msg.Nak()
			return
		}
		if err := msg.Ack(); err != nil {
			slog.Warn("ack agent input failed", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		_ = ipc.Unsubscribe()
		_ = user.Unsubscribe()
		return fmt.Errorf("consume agent input: %w", err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, ipc, user)
	r.input = input
	r.mu.Unlock()
	return r.client.Flush()
}

// Stop unsubscribes, rejects further messages and waits for queued work to
// finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	subs := r.subs
	input := r.input
	r.subs = nil
	r.input = nil
	r.stopped = true
	r.mu.Unlock()

	if input != nil {
		input.Stop()
	}
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	r.wg.Wait()
}

func (r *Relay) OnOutput(listener OutputListener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Reset makes the agent's next invocation start a fresh conversation.
func (r *Relay) Reset(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets[agentID] = true
}

func (r *Relay) takeReset(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset := r.resets[agentID]
	delete(r.resets, agentID)
	return reset
}

// Activity reports the recent work of every agent the relay has invoked,
// with the number of messages still waiting in its queue.
func (r *Relay) Activity() []Activity {
	list := r.sessions.List()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range list {
		if q, ok := r.queues[list[i].AgentID]; ok {
			list[i].Queued = q.Len()
		}
	}
	return list
}

func (r *Relay) HandleMessage(ctx context.Context, agentID, text string, meta map[string]string) error {
	if _, ok := r.registry.Definition(agentID); !ok {
		return fmt.Errorf("agent not registered: %s", agentID)
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	msg := &store.Message{
		AgentID: agentID,
		Sender:  senderOf(meta),
		Content: text,
	}
	if err := r.store.SaveMessage(msg); err != nil {
		slog.Warn("save inbound message failed", "agent", agentID, "error", err)
	}
	r.publishMessageEvent(msg)

	q := r.getQueue(agentID)
	q.Enqueue(QueuedMessage{
		AgentID: agentID,
		Text:    text,
		Meta:    meta,
	})

	go func() {
		defer r.wg.Done()
		r.processQueue(ctx, agentID)
	}()
	return nil
}

func (r *Relay) getQueue(agentID string) *AgentQueue {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[agentID]
	if !ok {
		q = NewAgentQueue(agentID)
		r.queues[agentID] = q
	}
	return q
}

func (r *Relay) processQueue(ctx context.Context, agentID string) {
	q := r.getQueue(agentID)

	if !q.TryLock() {
		return // Already processing
	}

	for {
		msg, ok := q.Dequeue()
		if !ok {
			if q.Unlock() {
				return
			}
			continue
		}

		if err := r.executeMessage(ctx, msg); err != nil {
			slog.Error("execute message failed", "agent", agentID, "error", err)
		}
	}
}

func (r *Relay) executeMessage(ctx context.Context, msg QueuedMessage) error {
	agentID := msg.AgentID
	def, ok := r.registry.Definition(agentID)
	if !ok {
		return fmt.Errorf("agent not registered: %s", agentID)
	}

	reset := r.takeReset(agentID) || msg.Meta[MetaReset] == "true"
	source := teammateOf(msg.Meta)

	r.sessions.Start(agentID)
	r.publishStatusEvent(agentID, StatusRunning)

	start := time.Now()
	res, err := r.invoker.Invoke(ctx, dispatch.Request{
		Agent:         def,
		AgentID:       agentID,
		Message:       msg.Text,
		WorkspaceRoot: r.registry.BasePath(),
		Reset:         reset,
		Agents:        r.registry.Agents(),
		Teams:         r.registry.Teams(),
	})
	if source != "" {
		r.resolvePending(source, agentID)
	}
	if err != nil {
		r.sessions.Finish(agentID, "")
		r.publishStatusEvent(agentID, StatusIdle)
		r.publishOutput(agentID, Output{Type: "error", Content: err.Error(), Meta: msg.Meta})
		return fmt.Errorf("invoke: %w", err)
	}

	var sessionID string
	if sr, ok := res.(dispatch.StreamResult); ok {
		sessionID = sr.SessionID
	}
	r.sessions.Finish(agentID, sessionID)
	r.publishStatusEvent(agentID, StatusIdle)

	content := res.Text()
	r.mu.Lock()
	redactor := r.redactor
	r.mu.Unlock()
	if redactor != nil {
		content = redactor.Redact(agentID, def.Secrets, content)
	}

	agentMsg := &store.Message{
		AgentID: agentID,
		Sender:  SenderAgent,
		Content: content,
	}
	if sessionID != "" {
		agentMsg.Metadata, _ = json.Marshal(map[string]string{"session_id": sessionID})
	}
	if err := r.store.SaveMessage(agentMsg); err != nil {
		slog.Warn("save response failed", "agent", agentID, "error", err)
	}
	r.publishMessageEvent(agentMsg)

	// Listeners see a response before any teammate it addresses is invoked.
	r.listenerMu.RLock()
	for _, l := range r.listeners {
		l(agentID, content, msg.Meta)
	}
	r.listenerMu.RUnlock()

	mentions := mention.Extract(content, agentID, r.registry.TeamOf(agentID), r.registry.Teams(), r.registry.Agents())
	targets := r.fanOut(agentID, mentions, hopsOf(msg.Meta))

	slog.Info("agent responded", "agent", agentID, "duration", time.Since(start), "reset", reset, "mentions", len(targets))
	r.publishOutput(agentID, Output{Type: "result", Content: content, Mentions: targets, Meta: msg.Meta})
	return nil
}

// fanOut publishes each mention to its teammate's input subject and returns
// the teammates reached.
func (r *Relay) fanOut(source string, mentions []mention.Mention, hops int) []string {
	if len(mentions) == 0 {
		return nil
	}

	r.mu.Lock()
	maxHops := r.maxHops
	r.mu.Unlock()
	if hops+1 > maxHops {
		slog.Warn("hop limit reached, dropping teammate messages", "agent", source, "hops", hops, "max_hops", maxHops, "mentions", len(mentions))
		return nil
	}

	targets := make([]string, 0, len(mentions))
	for _, m := range mentions {
		r.addPending(source, m.TeammateID)
	}
	for _, m := range mentions {
		text := fmt.Sprintf("[Message from teammate @%s]:\n%s", source, m.Text())
		if n := r.pendingCount(m.TeammateID, source); n > 0 {
			noun := "responses"
			if n == 1 {
				noun = "response"
			}
			text += fmt.Sprintf("\n\n(%d other teammate %s still pending)", n, noun)
		}

		in := Inbound{
			Text: text,
			Meta: map[string]string{
				MetaSender: teammatePrefix + source,
				MetaHops:   strconv.Itoa(hops + 1),
			},
		}
		if err := r.client.PublishJSON(natsbus.TopicAgentInput(m.TeammateID), in); err != nil {
			slog.Error("publish teammate message failed", "from", source, "to", m.TeammateID, "error", err)
			r.resolvePending(source, m.TeammateID)
			continue
		}
		targets = append(targets, m.TeammateID)
	}
	if err := r.client.Flush(); err != nil {
		slog.Warn("flush teammate messages failed", "agent", source, "error", err)
	}
	return targets
}

func (r *Relay) addPending(agentID, teammateID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.pending[agentID]
	if !ok {
		set = make(map[string]bool)
		r.pending[agentID] = set
	}
	set[teammateID] = true
}

func (r *Relay) resolvePending(agentID, teammateID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending[agentID], teammateID)
	if len(r.pending[agentID]) == 0 {
		delete(r.pending, agentID)
	}
}

// pendingCount returns how many teammates besides except agentID is still
// waiting on.
func (r *Relay) pendingCount(agentID, except string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.pending[agentID])
	if r.pending[agentID][except] {
		n--
	}
	return n
}

// handleInput delivers one message from the input stream. Only ErrStopped
// is returned; other failures are logged and the message is dropped.
func (r *Relay) handleInput(ctx context.Context, subject string, data []byte) error {
	agentID := natsbus.AgentFromSubject(subject)
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Warn("invalid agent input", "subject", subject, "error", err)
		return nil
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil
	}
	err := r.HandleMessage(ctx, agentID, in.Text, in.Meta)
	if errors.Is(err, ErrStopped) {
		return err
	}
	if err != nil {
		slog.Warn("agent input rejected", "agent", agentID, "error", err)
		if source := teammateOf(in.Meta); source != "" {
			r.resolvePending(source, agentID)
		}
	}
	return nil
}

// handleUserInput routes an unaddressed user message to its agent.
func (r *Relay) handleUserInput(ctx context.Context, msg *nats.Msg) {
	var in Inbound
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		slog.Warn("invalid user input", "error", err)
		return
	}
	agentID, text, err := r.router.Route(in.Text)
	if err != nil {
		slog.Warn("user input not routed", "error", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	meta := in.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	meta[MetaSender] = SenderUser
	if err := r.HandleMessage(ctx, agentID, text, meta); err != nil {
		slog.Warn("user input rejected", "agent", agentID, "error", err)
	}
}

func (r *Relay) publishOutput(agentID string, out Output) {
	if err := r.client.PublishJSON(natsbus.TopicAgentOutput(agentID), out); err != nil {
		slog.Warn("publish output failed", "agent", agentID, "error", err)
	}
}

func (r *Relay) publishMessageEvent(msg *store.Message) {
	role := "user"
	if msg.Sender == SenderAgent {
		role = "assistant"
	}

	event := map[string]any{
		"type":      "message",
		"agent_id":  msg.AgentID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":     msg.ID,
			"role":   role,
			"sender": msg.Sender,
			"text":   msg.Content,
		},
	}
	_ = r.client.PublishJSON(natsbus.TopicEventsAgent(msg.AgentID), event)
}

func (r *Relay) publishStatusEvent(agentID, status string) {
	event := map[string]any{
		"type":      "agent_" + status,
		"agent_id":  agentID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	_ = r.client.PublishJSON(natsbus.TopicEventsAgent(agentID), event)
}

func senderOf(meta map[string]string) string {
	if s := meta[MetaSender]; s != "" {
		return s
	}
	return SenderUser
}

// teammateOf returns the source agent of a teammate message, or "".
func teammateOf(meta map[string]string) string {
	id, ok := strings.CutPrefix(meta[MetaSender], teammatePrefix)
	if !ok {
		return ""
	}
	return id
}

func hopsOf(meta map[string]string) int {
	n, err := strconv.Atoi(meta[MetaHops])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
