package dispatch

import (
	"bufio"
	"bytes"
	"encoding/json"
)

// FallbackResponse is returned when a subprocess backend produced no
// recognizable response event.
const FallbackResponse = "(The agent finished without producing a response.)"

type execEvent struct {
	Type string `json:"type"`
	Item struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

type runEvent struct {
	Type string `json:"type"`
	Part struct {
		Text string `json:"text"`
	} `json:"part"`
}

// scanLines calls fn for every non-blank line of out. Lines have no length
// limit; tool output can put several megabytes on one line.
func scanLines(out []byte, fn func(line []byte)) {
	r := bufio.NewReader(bytes.NewReader(out))
	for {
		line, err := r.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			fn(line)
		}
		if err != nil {
			return
		}
	}
}

// parseExecOutput returns the text of the last completed agent_message item.
func parseExecOutput(out []byte) string {
	var last string
	found := false
	scanLines(out, func(line []byte) {
		var ev execEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return
		}
		if ev.Type == "item.completed" && ev.Item.Type == "agent_message" {
			last, found = ev.Item.Text, true
		}
	})
	if !found {
		return FallbackResponse
	}
	return last
}

// parseRunOutput returns the text of the last text event.
func parseRunOutput(out []byte) string {
	var last string
	found := false
	scanLines(out, func(line []byte) {
		var ev runEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return
		}
		if ev.Type == "text" {
			last, found = ev.Part.Text, true
		}
	})
	if !found {
		return FallbackResponse
	}
	return last
}
