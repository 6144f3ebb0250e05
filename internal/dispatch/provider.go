package dispatch

import (
	"fmt"
	"strings"
)

// Provider selects the backend protocol used for an invocation.
type Provider string

const (
	// ProviderExec runs a one-shot exec subprocess with NDJSON item events.
	ProviderExec Provider = "codex"
	// ProviderRun runs a run-mode subprocess with NDJSON text events.
	ProviderRun Provider = "opencode"
	// ProviderNative streams in-process through a Streamer.
	ProviderNative Provider = "anthropic"
)

// ParseProvider maps an agent's provider tag to a Provider. The empty tag
// and "claude" select the native backend; anything unrecognized is
// rejected.
func ParseProvider(tag string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "codex":
		return ProviderExec, nil
	case "opencode":
		return ProviderRun, nil
	case "", "anthropic", "claude":
		return ProviderNative, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
}
