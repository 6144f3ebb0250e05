package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/natsbus"
	"github.com/nats-io/nats.go"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "empty",
			args: []string{},
			want: map[string]string{},
		},
		{
			name: "multiple flags",
			args: []string{"--name", "test", "--schedule", "* * * * *", "--prompt", "hello"},
			want: map[string]string{"name": "test", "schedule": "* * * * *", "prompt": "hello"},
		},
		{
			name: "flag without value is ignored",
			args: []string{"--name"},
			want: map[string]string{},
		},
		{
			name: "non-flag args ignored",
			args: []string{"positional", "--name", "test"},
			want: map[string]string{"name": "test"},
		},
		{
			name: "short prefix not treated as flag",
			args: []string{"-n", "test"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if len(got) != len(tt.want) {
				t.Errorf("parseArgs(%v) returned %d entries, want %d", tt.args, len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, got[k], v)
				}
			}
		})
	}
}

// startResponder runs an embedded bus and answers IPC for agent "coder"
// with handle.
func startResponder(t *testing.T, handle func(req ipcRequest) ipcResponse) string {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	_, err = client.Subscribe(natsbus.TopicIPC("coder"), func(msg *nats.Msg) {
		var req ipcRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		resp, _ := json.Marshal(handle(req))
		_ = msg.Respond(resp)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = client.Flush()
	return bus.ClientURL()
}

func TestRunCreate(t *testing.T) {
	url := startResponder(t, func(req ipcRequest) ipcResponse {
		if req.Type != "create_task" {
			t.Errorf("expected type create_task, got %s", req.Type)
		}
		if req.Payload["name"] != "my task" || req.Payload["context_mode"] != "agent" {
			t.Errorf("unexpected payload %v", req.Payload)
		}
		return ipcResponse{OK: true, ID: "task-123"}
	})

	out, err := run(url, "coder", "create", []string{"--name", "my task", "--schedule", "every 1h", "--prompt", "hello", "--context", "agent"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "Task created: task-123" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRunList(t *testing.T) {
	url := startResponder(t, func(req ipcRequest) ipcResponse {
		if req.Type != "list_tasks" {
			t.Errorf("expected type list_tasks, got %s", req.Type)
		}
		return ipcResponse{
			OK: true,
			Tasks: []task{
				{ID: "t1", Name: "task one", Schedule: "Every hour", Status: "active"},
				{ID: "t2", Name: "task two", Schedule: "Cron: 0 9 * * *", Status: "paused"},
			},
		}
	})

	out, err := run(url, "coder", "list", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "t2  paused  task two") {
		t.Errorf("unexpected listing %q", out)
	}
}

func TestRunErrorResponse(t *testing.T) {
	url := startResponder(t, func(ipcRequest) ipcResponse {
		return ipcResponse{Error: "task not found: nonexistent"}
	})

	_, err := run(url, "coder", "delete", []string{"--id", "nonexistent"})
	if err == nil || err.Error() != "task not found: nonexistent" {
		t.Errorf("expected error response, got %v", err)
	}
}

func TestRunReset(t *testing.T) {
	url := startResponder(t, func(req ipcRequest) ipcResponse {
		if req.Type != "reset_session" {
			t.Errorf("expected type reset_session, got %s", req.Type)
		}
		return ipcResponse{OK: true}
	})
	if _, err := run(url, "coder", "reset", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunValidatesLocally(t *testing.T) {
	for _, tc := range []struct {
		command string
		args    []string
	}{
		{"create", []string{"--name", "x"}},
		{"delete", nil},
		{"bogus", nil},
	} {
		if _, err := run("nats://127.0.0.1:1", "coder", tc.command, tc.args); err == nil {
			t.Errorf("expected %s %v to fail before connecting", tc.command, tc.args)
		}
	}
}
