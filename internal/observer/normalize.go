package observer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mtzanidakis/teamrelay/internal/stream"
)

const (
	maxToolInputChars  = 500
	maxToolResultChars = 1000
)

// Entry is one flattened message handed to the summarizer.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	teammateHeaderRe = regexp.MustCompile(`(?m)^\s*\[Message from teammate @[A-Za-z0-9_-]+\]:[ \t]*\n?`)
	pendingTrailerRe = regexp.MustCompile(`(?im)\s*^\(?\d+ other teammate responses? (?:still )?pending\.?\)?\s*\z`)
)

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// StripArtifacts removes relay framing from message text: the teammate
// header line and the pending-responses trailer.
func StripArtifacts(s string) string {
	s = teammateHeaderRe.ReplaceAllString(s, "")
	s = pendingTrailerRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Normalize flattens a structured message log. Messages that end up empty
// are dropped.
func Normalize(msgs []stream.Message) []Entry {
	var out []Entry
	for _, m := range msgs {
		var parts []string
		for _, b := range m.Content {
			if s := renderBlock(b); s != "" {
				parts = append(parts, s)
			}
		}
		content := StripArtifacts(strings.Join(parts, "\n"))
		if content == "" {
			continue
		}
		out = append(out, Entry{Role: m.Role, Content: content})
	}
	return out
}

func renderBlock(b stream.Block) string {
	switch b.Type {
	case stream.BlockText:
		return b.Text
	case stream.BlockToolUse:
		input := strings.TrimSpace(string(b.Input))
		return fmt.Sprintf("[Tool call: %s] %s", b.Name, Truncate(input, maxToolInputChars))
	case stream.BlockToolResult:
		return "[Tool result] " + Truncate(b.ResultText(), maxToolResultChars)
	default:
		return ""
	}
}
