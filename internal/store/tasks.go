package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Task statuses.
const (
	TaskActive    = "active"
	TaskPaused    = "paused"
	TaskCompleted = "completed"
)

// Task context modes.
const (
	ContextIsolated = "isolated"
	ContextAgent    = "agent"
)

// ScheduledTask delivers Prompt to AgentID on Schedule. ContextMode
// "isolated" runs the prompt in a fresh conversation; "agent" continues the
// agent's current one.
type ScheduledTask struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Prompt      string     `json:"prompt"`
	ContextMode string     `json:"context_mode"`
	Status      string     `json:"status"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastStatus  string     `json:"last_status,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

const taskColumns = `id, agent_id, name, schedule, prompt, context_mode, status,
	next_run_at, last_run_at, last_status, last_error, created_at`

func scanTask(s scanner) (*ScheduledTask, error) {
	t := &ScheduledTask{}
	var contextMode, status, lastStatus, lastError sql.NullString
	err := s.Scan(&t.ID, &t.AgentID, &t.Name, &t.Schedule, &t.Prompt, &contextMode, &status,
		&t.NextRunAt, &t.LastRunAt, &lastStatus, &lastError, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ContextMode = contextMode.String
	t.Status = status.String
	t.LastStatus = lastStatus.String
	t.LastError = lastError.String
	return t, nil
}

func (s *Store) queryTasks(op, query string, args ...any) ([]ScheduledTask, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tasks []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) SaveTask(t *ScheduledTask) error {
	if t.ContextMode == "" {
		t.ContextMode = ContextIsolated
	}
	if t.Status == "" {
		t.Status = TaskActive
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks (id, agent_id, name, schedule, prompt, context_mode, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			prompt = excluded.prompt,
			context_mode = excluded.context_mode,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		t.ID, t.AgentID, t.Name, t.Schedule, t.Prompt, t.ContextMode, t.Status, t.NextRunAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*ScheduledTask, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks() ([]ScheduledTask, error) {
	return s.queryTasks("list tasks",
		`SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY created_at`)
}

func (s *Store) ListTasksForAgent(agentID string) ([]ScheduledTask, error) {
	return s.queryTasks("list tasks for agent",
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE agent_id = ? ORDER BY created_at`, agentID)
}

// GetDueTasks returns active tasks whose next run is at or before now.
func (s *Store) GetDueTasks(now time.Time) ([]ScheduledTask, error) {
	return s.queryTasks("get due tasks",
		`SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) UpdateTaskRun(id, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_tasks
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	if err != nil {
		return fmt.Errorf("update task run: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_tasks SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
