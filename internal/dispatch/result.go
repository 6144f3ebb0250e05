package dispatch

import "github.com/mtzanidakis/teamrelay/internal/stream"

// Result is the outcome of one invocation: a TextResult from a subprocess
// backend or a StreamResult from the native backend.
type Result interface {
	Text() string
	isResult()
}

type TextResult struct {
	Response string
}

func (r TextResult) Text() string { return r.Response }
func (TextResult) isResult()      {}

// StreamResult carries the final text, the non-replayed message log and the
// session the turn ran in.
type StreamResult struct {
	Response  string
	Messages  []stream.Message
	SessionID string
}

func (r StreamResult) Text() string { return r.Response }
func (StreamResult) isResult()      {}
