// Package anthropic implements the native streaming backend over the
// Anthropic Messages API, keeping session transcripts in the store.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/mtzanidakis/teamrelay/internal/stream"
)

// SessionStore persists transcripts between turns.
type SessionStore interface {
	LatestSession(agentID string) (*store.Session, error)
	SaveSession(sess *store.Session) error
	EndSessions(agentID string) error
}

type Streamer struct {
	client    anthropic.Client
	sessions  SessionStore
	model     string
	maxTokens int64
}

// New builds a streamer. Extra request options are applied after the API
// key, so callers can point the client elsewhere.
func New(cfg config.AnthropicConfig, sessions SessionStore, opts ...option.RequestOption) *Streamer {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Streamer{
		client:    anthropic.NewClient(clientOpts...),
		sessions:  sessions,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Stream runs one turn. Continued transcripts are replayed as isReplay
// events before the new user message. A reset turn ends earlier sessions
// first, so the next continuing turn starts clean.
func (s *Streamer) Stream(ctx context.Context, req stream.Request) (<-chan stream.Event, error) {
	if req.Reset {
		if err := s.sessions.EndSessions(req.AgentID); err != nil {
			return nil, fmt.Errorf("end sessions: %w", err)
		}
	}

	var history []stream.Message
	sessionID := req.SessionID
	if req.Continue {
		sess, err := s.sessions.LatestSession(req.AgentID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if sess != nil {
			history = sess.Messages
			sessionID = sess.ID
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	model := req.Model
	if model == "" {
		model = s.model
	}

	out := make(chan stream.Event, 16)
	go func() {
		defer close(out)
		send := func(ev stream.Event) bool {
			ev.SessionID = sessionID
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			send(stream.Event{Type: stream.TypeResult, Subtype: stream.SubtypeError, Errors: []string{err.Error()}})
		}

		if !send(stream.Event{Type: stream.TypeSystem, Subtype: stream.SubtypeInit}) {
			return
		}
		for i := range history {
			m := history[i]
			if !send(stream.Event{Type: m.Role, Message: &m, IsReplay: true}) {
				return
			}
		}

		user := stream.TextMessage(stream.TypeUser, req.Prompt)
		if !send(stream.Event{Type: stream.TypeUser, Message: &user}) {
			return
		}

		transcript := append(append([]stream.Message{}, history...), user)
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: s.maxTokens,
			Messages:  toParams(transcript),
		}
		if system := systemPrompt(req); system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		st := s.client.Messages.NewStreaming(ctx, params)
		defer st.Close()
		acc := anthropic.Message{}
		for st.Next() {
			if err := acc.Accumulate(st.Current()); err != nil {
				fail(fmt.Errorf("accumulate stream: %w", err))
				return
			}
		}
		if err := st.Err(); err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("anthropic api error: %w", err))
			}
			return
		}

		assistant := fromAPI(acc)
		if !send(stream.Event{Type: stream.TypeAssistant, Message: &assistant}) {
			return
		}

		if req.PersistSession {
			transcript = append(transcript, assistant)
			err := s.sessions.SaveSession(&store.Session{ID: sessionID, AgentID: req.AgentID, WorkDir: req.WorkDir, Messages: transcript})
			if err != nil {
				slog.Warn("save session failed", "agent", req.AgentID, "session", sessionID, "error", err)
			}
		}

		send(stream.Event{Type: stream.TypeResult, Subtype: stream.SubtypeSuccess, Result: assistant.Content.Text()})
	}()
	return out, nil
}

func systemPrompt(req stream.Request) string {
	base := fmt.Sprintf("You are the agent @%s.", req.AgentID)
	if req.WorkDir != "" {
		base += fmt.Sprintf(" Your working directory is %s.", req.WorkDir)
	}
	if req.SystemPrompt == "" {
		return base
	}
	return base + "\n\n" + req.SystemPrompt
}

// toParams converts a transcript to API messages. Only text survives;
// messages without text are skipped.
func toParams(msgs []stream.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			if b.Type == stream.BlockText && b.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == stream.TypeAssistant {
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		} else {
			params = append(params, anthropic.NewUserMessage(blocks...))
		}
	}
	return params
}

func fromAPI(msg anthropic.Message) stream.Message {
	out := stream.Message{Role: stream.TypeAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, stream.Block{Type: stream.BlockText, Text: block.AsText().Text})
		case "tool_use":
			tool := block.AsToolUse()
			input, _ := json.Marshal(tool.Input)
			out.Content = append(out.Content, stream.Block{Type: stream.BlockToolUse, ID: tool.ID, Name: tool.Name, Input: input})
		}
	}
	return out
}
