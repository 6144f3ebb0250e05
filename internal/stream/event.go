// Package stream defines the typed event sequence produced by a native
// streaming backend: system, assistant, user and result events.
package stream

import (
	"encoding/json"
	"strings"
)

// Event types.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
)

// Event subtypes.
const (
	SubtypeInit    = "init"
	SubtypeSuccess = "success"
	SubtypeError   = "error"
)

// Block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

type Event struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Message   *Message `json:"message,omitempty"`
	IsReplay  bool     `json:"isReplay,omitempty"`
	Result    string   `json:"result,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// IsError reports whether e is a terminal result carrying an error subtype
// (error, error_max_turns, error_during_execution, ...).
func (e Event) IsError() bool {
	return e.Type == TypeResult && strings.HasPrefix(e.Subtype, SubtypeError)
}

type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// TextMessage builds a message holding a single text block.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: Content{{Type: BlockText, Text: text}}}
}

// Content is a message body. On the wire it is either a plain string or a
// list of typed blocks; a plain string decodes to one text block.
type Content []Block

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{{Type: BlockText, Text: s}}
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}

// Text concatenates the text blocks.
func (c Content) Text() string {
	var parts []string
	for _, b := range c {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ResultText returns the body of a tool_result block. The body is either a
// string or a list of text blocks.
func (b Block) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var nested Content
	if err := json.Unmarshal(b.Content, &nested); err == nil {
		return nested.Text()
	}
	return string(b.Content)
}

// Request describes one native streaming turn.
type Request struct {
	AgentID      string
	Prompt       string
	SystemPrompt string
	Model        string
	WorkDir      string
	// SessionID names a fresh session. Ignored when Continue finds one.
	SessionID string
	// Continue resumes the agent's most recent session.
	Continue bool
	// PersistSession stores the transcript so a later turn can continue it.
	PersistSession bool
	// Reset ends the agent's stored sessions before the turn runs.
	Reset bool
}
