// Package scheduler delivers due scheduled tasks to agents.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/natsbus"
	"github.com/mtzanidakis/teamrelay/internal/schedule"
	"github.com/mtzanidakis/teamrelay/internal/store"
)

// Deliverer hands a prompt to an agent. The relay implements it.
type Deliverer interface {
	HandleMessage(ctx context.Context, agentID, text string, meta map[string]string) error
}

type Scheduler struct {
	store    *store.Store
	relay    Deliverer
	client   *natsbus.Client
	mu       sync.Mutex
	interval time.Duration
	reloadCh chan struct{}
}

// New builds a scheduler. client may be nil, in which case no task events
// are published.
func New(s *store.Store, relay Deliverer, client *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:    s,
		relay:    relay,
		client:   client,
		interval: cfg.PollInterval,
		reloadCh: make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and resets the running ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	s.interval = cfg.PollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval <= 0 {
		return 30 * time.Second
	}
	return s.interval
}

// Start polls until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval())
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval())
		case <-ticker.C:
			s.poll(ctx, time.Now())
		}
	}
}

func (s *Scheduler) poll(ctx context.Context, now time.Time) {
	tasks, err := s.store.GetDueTasks(now)
	if err != nil {
		slog.Error("failed to get due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		s.execute(ctx, task, now)
	}
}

// execute delivers the task and advances its schedule. Delivery only
// enqueues the prompt; the agent's answer arrives through the relay.
func (s *Scheduler) execute(ctx context.Context, task store.ScheduledTask, now time.Time) {
	slog.Info("executing scheduled task", "id", task.ID, "name", task.Name, "agent", task.AgentID)

	meta := map[string]string{
		"sender":  "scheduler",
		"task_id": task.ID,
	}
	if task.ContextMode != store.ContextAgent {
		meta["reset"] = "true"
	}

	err := s.relay.HandleMessage(ctx, task.AgentID, task.Prompt, meta)

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("task execution failed", "id", task.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	var nextRun *time.Time
	if sched, err := schedule.ParseSchedule(task.Schedule); err == nil {
		nextRun = sched.Next(now)
	} else {
		slog.Warn("task has an unreadable schedule", "id", task.ID, "error", err)
	}

	if err := s.store.UpdateTaskRun(task.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update task run", "id", task.ID, "error", err)
	}

	s.publishTaskEvent(task, lastStatus, nextRun)

	if nextRun == nil {
		slog.Info("no next run, marking task as completed", "id", task.ID, "name", task.Name)
		if err := s.store.UpdateTaskStatus(task.ID, store.TaskCompleted); err != nil {
			slog.Error("failed to complete task", "id", task.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishTaskEvent(task store.ScheduledTask, status string, nextRun *time.Time) {
	if s.client == nil {
		return
	}

	data := map[string]any{
		"id":       task.ID,
		"name":     task.Name,
		"agent_id": task.AgentID,
		"status":   status,
	}
	if nextRun != nil {
		data["next_run_at"] = nextRun.UTC().Format(time.RFC3339)
	}
	event := map[string]any{
		"type":      "task_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	if err := s.client.PublishJSON(natsbus.TopicEventsTask(task.ID), event); err != nil {
		slog.Warn("publish task event failed", "id", task.ID, "error", err)
	}
}
