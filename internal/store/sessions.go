package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/stream"
)

// Session is a persisted native transcript that later turns continue.
type Session struct {
	ID        string           `json:"id"`
	AgentID   string           `json:"agent_id"`
	WorkDir   string           `json:"work_dir,omitempty"`
	Messages  []stream.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (s *Store) SaveSession(sess *Session) error {
	transcript, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, agent_id, work_dir, transcript, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			transcript = excluded.transcript,
			work_dir = excluded.work_dir,
			updated_at = CURRENT_TIMESTAMP`,
		sess.ID, sess.AgentID, sess.WorkDir, string(transcript))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, work_dir, transcript, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// LatestSession returns the agent's most recently updated session that has
// not been ended, or nil.
func (s *Store) LatestSession(agentID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, work_dir, transcript, created_at, updated_at
		FROM sessions WHERE agent_id = ? AND ended = 0
		ORDER BY updated_at DESC, rowid DESC
		LIMIT 1`, agentID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	return sess, nil
}

// EndSessions marks every stored session of an agent as ended, so no later
// turn continues them. Transcripts are kept.
func (s *Store) EndSessions(agentID string) error {
	_, err := s.db.Exec(`UPDATE sessions SET ended = 1 WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("end sessions: %w", err)
	}
	return nil
}

func scanSession(s scanner) (*Session, error) {
	sess := &Session{}
	var workDir sql.NullString
	var transcript string
	if err := s.Scan(&sess.ID, &sess.AgentID, &workDir, &transcript, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.WorkDir = workDir.String
	if err := json.Unmarshal([]byte(transcript), &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return sess, nil
}
