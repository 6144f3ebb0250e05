package natsbus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func newTestBus(t *testing.T) (*Bus, *Client) {
	t.Helper()
	bus, err := New(config.NATSConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return bus, client
}

func TestBusStartStop(t *testing.T) {
	bus, _ := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
	if !filepath.IsAbs(bus.StoreDir()) {
		t.Errorf("expected absolute store dir, got %q", bus.StoreDir())
	}
	if entries, _ := os.ReadDir(bus.StoreDir()); len(entries) == 0 {
		t.Error("expected jetstream to initialise its store")
	}
}

func TestPublishJSONWildcard(t *testing.T) {
	_, client := newTestBus(t)

	received := make(chan *nats.Msg, 1)
	if _, err := client.Subscribe(TopicAgentInputAll, func(msg *nats.Msg) {
		received <- msg
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.PublishJSON(TopicAgentInput("coder"), map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case msg := <-received:
		if string(msg.Data) != `{"text":"hi"}` {
			t.Errorf("unexpected payload %s", msg.Data)
		}
		if got := AgentFromSubject(msg.Subject); got != "coder" {
			t.Errorf("expected agent coder, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestConsumeDurableResumes(t *testing.T) {
	_, client := newTestBus(t)
	ctx := context.Background()

	received := make(chan string, 4)
	handler := func(msg jetstream.Msg) {
		received <- AgentFromSubject(msg.Subject()) + ":" + string(msg.Data())
		_ = msg.Ack()
	}
	next := func() string {
		t.Helper()
		select {
		case got := <-received:
			return got
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for durable message")
			return ""
		}
	}

	cc, err := client.ConsumeDurable(ctx, StreamAgentInput, ConsumerAgentInput, TopicAgentInputAll, handler)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	client.Publish(TopicAgentInput("coder"), []byte("first"))
	if got := next(); got != "coder:first" {
		t.Errorf("got %q", got)
	}
	cc.Stop()

	// Published while nobody consumes; kept by the stream.
	client.Publish(TopicAgentInput("writer"), []byte("while down"))
	client.Flush()

	cc, err = client.ConsumeDurable(ctx, StreamAgentInput, ConsumerAgentInput, TopicAgentInputAll, handler)
	if err != nil {
		t.Fatalf("consume again: %v", err)
	}
	defer cc.Stop()
	if got := next(); got != "writer:while down" {
		t.Errorf("got %q", got)
	}
	select {
	case extra := <-received:
		t.Errorf("acked message redelivered: %q", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRequestJSON(t *testing.T) {
	_, client := newTestBus(t)

	if _, err := client.Subscribe(TopicIPCAll, func(msg *nats.Msg) {
		_ = msg.Respond([]byte(`{"ok":true,"agent":"` + AgentFromSubject(msg.Subject) + `"}`))
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	var resp struct {
		OK    bool   `json:"ok"`
		Agent string `json:"agent"`
	}
	if err := client.RequestJSON(TopicIPC("writer"), map[string]string{"type": "list_tasks"}, &resp, 2*time.Second); err != nil {
		t.Fatalf("request: %v", err)
	}
	if !resp.OK || resp.Agent != "writer" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicAgentInput("g1"); got != "agent.g1.input" {
		t.Errorf("expected agent.g1.input, got %s", got)
	}
	if got := TopicAgentOutput("g1"); got != "agent.g1.output" {
		t.Errorf("expected agent.g1.output, got %s", got)
	}
	if got := TopicIPC("g1"); got != "host.ipc.g1" {
		t.Errorf("expected host.ipc.g1, got %s", got)
	}
	if got := AgentFromSubject("events.agent.g1"); got != "" {
		t.Errorf("expected no agent for event subject, got %q", got)
	}
}
