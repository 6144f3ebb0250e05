package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Agent is the persisted view of a configured agent, refreshed on every
// registry sync.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	WorkDir   string    `json:"work_dir"`
	TeamID    string    `json:"team_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, provider, model, work_dir, team_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			provider = excluded.provider,
			model = excluded.model,
			work_dir = excluded.work_dir,
			team_id = excluded.team_id,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Provider, a.Model, a.WorkDir, a.TeamID)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`
		SELECT id, name, provider, model, work_dir, team_id, created_at, updated_at
		FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`
		SELECT id, name, provider, model, work_dir, team_id, created_at, updated_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func scanAgent(s scanner) (*Agent, error) {
	a := &Agent{}
	var provider, model, teamID sql.NullString
	if err := s.Scan(&a.ID, &a.Name, &provider, &model, &a.WorkDir, &teamID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Provider = provider.String
	a.Model = model.String
	a.TeamID = teamID.String
	return a, nil
}

// DeleteAgentsNotIn removes agents that are no longer configured.
func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.Exec(`DELETE FROM agents WHERE id NOT IN (`+placeholders+`)`, args...)
	return err
}
