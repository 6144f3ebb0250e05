package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mtzanidakis/teamrelay/internal/natsbus"
	"github.com/mtzanidakis/teamrelay/internal/schedule"
	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/nats-io/nats.go"
)

// IPCCommand is a request sent by an agent's tools on host.ipc.<agent>.
type IPCCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (r *Relay) handleIPC(msg *nats.Msg) {
	var cmd IPCCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid IPC command", "error", err)
		r.respondIPC(msg, map[string]any{"error": "invalid command"})
		return
	}

	agentID := natsbus.AgentFromSubject(msg.Subject)
	if _, ok := r.registry.Definition(agentID); !ok {
		r.respondIPC(msg, map[string]any{"error": "unknown agent: " + agentID})
		return
	}

	slog.Info("IPC command received", "type", cmd.Type, "agent", agentID)

	switch cmd.Type {
	case "create_task":
		r.ipcCreateTask(msg, agentID, cmd.Payload)
	case "list_tasks":
		r.ipcListTasks(msg, agentID)
	case "delete_task":
		r.ipcDeleteTask(msg, agentID, cmd.Payload)
	case "reset_session":
		r.Reset(agentID)
		r.respondIPC(msg, map[string]any{"ok": true})
	default:
		slog.Warn("unknown IPC command", "type", cmd.Type)
		r.respondIPC(msg, map[string]any{"error": "unknown command: " + cmd.Type})
	}
}

func (r *Relay) respondIPC(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}

func (r *Relay) ipcCreateTask(msg *nats.Msg, agentID string, payload json.RawMessage) {
	var req struct {
		Name        string `json:"name"`
		Schedule    string `json:"schedule"`
		Prompt      string `json:"prompt"`
		ContextMode string `json:"context_mode"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		r.respondIPC(msg, map[string]any{"error": "invalid payload"})
		return
	}
	if req.Name == "" || req.Schedule == "" || req.Prompt == "" {
		r.respondIPC(msg, map[string]any{"error": "name, schedule, and prompt are required"})
		return
	}
	switch req.ContextMode {
	case "":
		req.ContextMode = store.ContextIsolated
	case store.ContextIsolated, store.ContextAgent:
	default:
		r.respondIPC(msg, map[string]any{"error": "context_mode must be isolated or agent"})
		return
	}

	normalized, err := schedule.NormalizeSchedule(req.Schedule)
	if err != nil {
		r.respondIPC(msg, map[string]any{"error": fmt.Sprintf("invalid schedule: %v", err)})
		return
	}

	t := &store.ScheduledTask{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Name:        req.Name,
		Schedule:    normalized,
		Prompt:      req.Prompt,
		ContextMode: req.ContextMode,
		Status:      store.TaskActive,
		NextRunAt:   schedule.CalculateNextRun(normalized),
	}

	if err := r.store.SaveTask(t); err != nil {
		r.respondIPC(msg, map[string]any{"error": fmt.Sprintf("save failed: %v", err)})
		return
	}

	slog.Info("task created via IPC", "id", t.ID, "name", t.Name, "agent", agentID)
	r.respondIPC(msg, map[string]any{"ok": true, "id": t.ID})
}

func (r *Relay) ipcListTasks(msg *nats.Msg, agentID string) {
	tasks, err := r.store.ListTasksForAgent(agentID)
	if err != nil {
		r.respondIPC(msg, map[string]any{"error": fmt.Sprintf("list failed: %v", err)})
		return
	}

	type taskEntry struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Prompt   string `json:"prompt"`
		Status   string `json:"status"`
	}
	out := make([]taskEntry, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskEntry{
			ID:       t.ID,
			Name:     t.Name,
			Schedule: schedule.FormatSchedule(t.Schedule),
			Prompt:   t.Prompt,
			Status:   t.Status,
		})
	}
	r.respondIPC(msg, map[string]any{"ok": true, "tasks": out})
}

func (r *Relay) ipcDeleteTask(msg *nats.Msg, agentID string, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		r.respondIPC(msg, map[string]any{"error": "id is required"})
		return
	}
	t, err := r.store.GetTask(req.ID)
	if err != nil {
		r.respondIPC(msg, map[string]any{"error": fmt.Sprintf("lookup failed: %v", err)})
		return
	}
	if t == nil || t.AgentID != agentID {
		r.respondIPC(msg, map[string]any{"error": "task not found: " + req.ID})
		return
	}
	if err := r.store.DeleteTask(req.ID); err != nil {
		r.respondIPC(msg, map[string]any{"error": fmt.Sprintf("delete failed: %v", err)})
		return
	}
	slog.Info("task deleted via IPC", "id", req.ID, "agent", agentID)
	r.respondIPC(msg, map[string]any{"ok": true})
}
