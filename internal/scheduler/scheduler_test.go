package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/natsbus"
	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/nats-io/nats.go"
)

type delivery struct {
	agentID string
	text    string
	meta    map[string]string
}

type fakeRelay struct {
	mu   sync.Mutex
	got  []delivery
	fail error
}

func (f *fakeRelay) HandleMessage(_ context.Context, agentID, text string, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, delivery{agentID, text, meta})
	return f.fail
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestPollDeliversDueTasks(t *testing.T) {
	s := newTestStore(t)
	relay := &fakeRelay{}
	sched := New(s, relay, nil, config.SchedulerConfig{})

	now := time.Now()
	_ = s.SaveTask(&store.ScheduledTask{
		ID: "due", AgentID: "lead", Name: "digest", Prompt: "summarize the day",
		Schedule:  `{"kind":"interval","interval_ms":60000}`,
		NextRunAt: ptrTime(now.Add(-time.Minute)),
	})
	_ = s.SaveTask(&store.ScheduledTask{
		ID: "later", AgentID: "lead", Name: "later", Prompt: "not yet",
		Schedule:  `{"kind":"interval","interval_ms":60000}`,
		NextRunAt: ptrTime(now.Add(time.Hour)),
	})

	sched.poll(context.Background(), now)

	if len(relay.got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(relay.got))
	}
	d := relay.got[0]
	if d.agentID != "lead" || d.text != "summarize the day" {
		t.Errorf("unexpected delivery %+v", d)
	}
	if d.meta["sender"] != "scheduler" || d.meta["task_id"] != "due" || d.meta["reset"] != "true" {
		t.Errorf("unexpected meta %v", d.meta)
	}

	task, _ := s.GetTask("due")
	if task.LastStatus != "success" || task.NextRunAt == nil || !task.NextRunAt.After(now) {
		t.Errorf("unexpected task after run %+v", task)
	}
}

func TestAgentContextModeContinues(t *testing.T) {
	s := newTestStore(t)
	relay := &fakeRelay{}
	sched := New(s, relay, nil, config.SchedulerConfig{})

	now := time.Now()
	_ = s.SaveTask(&store.ScheduledTask{
		ID: "t1", AgentID: "coder", Name: "check", Prompt: "check ci",
		Schedule: `{"kind":"interval","interval_ms":60000}`, ContextMode: store.ContextAgent,
		NextRunAt: ptrTime(now.Add(-time.Second)),
	})
	sched.poll(context.Background(), now)

	if len(relay.got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(relay.got))
	}
	if _, ok := relay.got[0].meta["reset"]; ok {
		t.Error("expected agent context mode to continue the conversation")
	}
}

func TestOnceTaskCompletes(t *testing.T) {
	s := newTestStore(t)
	relay := &fakeRelay{fail: errors.New("agent not registered: gone")}
	sched := New(s, relay, nil, config.SchedulerConfig{})

	now := time.Now()
	at := now.Add(-time.Minute)
	_ = s.SaveTask(&store.ScheduledTask{
		ID: "once", AgentID: "gone", Name: "reminder", Prompt: "ping",
		Schedule:  `{"kind":"once","at_ms":` + strconv.FormatInt(at.UnixMilli(), 10) + `}`,
		NextRunAt: &at,
	})
	sched.poll(context.Background(), now)

	task, _ := s.GetTask("once")
	if task.Status != store.TaskCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if task.LastStatus != "error" || task.LastError == "" {
		t.Errorf("expected recorded error, got %+v", task)
	}

	relay.got = nil
	sched.poll(context.Background(), now.Add(time.Hour))
	if len(relay.got) != 0 {
		t.Error("completed task was delivered again")
	}
}

func TestPublishesTaskEvent(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(client.Close)

	events := make(chan string, 1)
	if _, err := client.Subscribe(natsbus.TopicEventsTask("t1"), func(m *nats.Msg) {
		events <- string(m.Data)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = client.Flush()

	s := newTestStore(t)
	sched := New(s, &fakeRelay{}, client, config.SchedulerConfig{})
	now := time.Now()
	_ = s.SaveTask(&store.ScheduledTask{
		ID: "t1", AgentID: "lead", Name: "n", Prompt: "p",
		Schedule:  `{"kind":"cron","cron_expr":"* * * * *"}`,
		NextRunAt: ptrTime(now.Add(-time.Second)),
	})
	sched.poll(context.Background(), now)
	_ = client.Flush()

	select {
	case data := <-events:
		if !strings.Contains(data, `"type":"task_executed"`) || !strings.Contains(data, `"status":"success"`) {
			t.Errorf("unexpected event %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for task event")
	}
}

func TestUpdateConfig(t *testing.T) {
	sched := New(newTestStore(t), &fakeRelay{}, nil, config.SchedulerConfig{})
	if sched.pollInterval() != 30*time.Second {
		t.Errorf("expected default interval, got %v", sched.pollInterval())
	}
	sched.UpdateConfig(config.SchedulerConfig{PollInterval: time.Second})
	if sched.pollInterval() != time.Second {
		t.Errorf("expected updated interval, got %v", sched.pollInterval())
	}
	select {
	case <-sched.reloadCh:
	default:
		t.Error("expected reload signal")
	}
}
