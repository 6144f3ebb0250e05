package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrWorkDir         = errors.New("working directory unavailable")
	ErrTimeout         = errors.New("invocation timed out")
	ErrNoResult        = errors.New("stream ended without a result")
)

// ExitError reports a backend process that exited non-zero.
type ExitError struct {
	Provider Provider
	Code     int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("exited with code %d", e.Code)
}

// StreamError carries the errors of a failed native result event.
type StreamError struct {
	Subtype string
	Errors  []string
}

func (e *StreamError) Error() string {
	if len(e.Errors) == 0 {
		return "stream failed: " + e.Subtype
	}
	return strings.Join(e.Errors, "; ")
}
