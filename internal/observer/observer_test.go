package observer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/stream"
)

func writeState(t *testing.T, root, agentID, content string) {
	t.Helper()
	dir := StateDir(agentID, root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
}

func TestLoadStateMissing(t *testing.T) {
	if st, ok := LoadState("agent-a", t.TempDir()); ok || st != nil {
		t.Errorf("expected absent state, got %+v", st)
	}
}

func TestLoadStateMalformed(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, "agent-a", "{not json")

	if st, ok := LoadState("agent-a", root); ok || st != nil {
		t.Errorf("expected absent state for malformed file, got %+v", st)
	}
}

func TestLoadStateDefaultsMissingFields(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, "agent-a", `{"observations_text":"saw things","last_observed_at":null}`)

	st, ok := LoadState("agent-a", root)
	if !ok {
		t.Fatal("expected state")
	}
	if st.ObservationsText != "saw things" {
		t.Errorf("unexpected observations: %q", st.ObservationsText)
	}
	if st.TotalTokensObserved != 0 || st.ObservationCount != 0 || st.CurrentTask != "" {
		t.Errorf("expected zero defaults, got %+v", st)
	}
	if st.LastObservedAt != nil || st.SuggestedResponse != nil {
		t.Errorf("expected nil optional fields, got %+v", st)
	}
}

func TestLoadStateFull(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, "agent-a", `{
		"observations_text": "obs",
		"total_tokens_observed": 1200,
		"observation_count": 3,
		"reflection_count": 1,
		"last_observed_at": "2026-01-02T03:04:05Z",
		"current_task": "migrate db",
		"suggested_response": "ask about indexes"
	}`)

	st, ok := LoadState("agent-a", root)
	if !ok {
		t.Fatal("expected state")
	}
	if st.TotalTokensObserved != 1200 || st.ObservationCount != 3 || st.ReflectionCount != 1 {
		t.Errorf("unexpected counters: %+v", st)
	}
	if at, ok := st.ObservedAt(); !ok || at.Year() != 2026 {
		t.Errorf("unexpected timestamp: %v", st.LastObservedAt)
	}
	if st.SuggestedResponse == nil || *st.SuggestedResponse != "ask about indexes" {
		t.Errorf("unexpected suggested response: %v", st.SuggestedResponse)
	}
}

func TestLoadStateTimestampWithoutOffset(t *testing.T) {
	for _, ts := range []string{"2025-01-01T10:00:00", "2025-01-01T10:00:00.123456", "2025-01-01 10:00:00", "2025-01-01T10:00:00+02:00"} {
		root := t.TempDir()
		writeState(t, root, "agent-a", `{"observations_text":"obs","last_observed_at":"`+ts+`"}`)

		st, ok := LoadState("agent-a", root)
		if !ok {
			t.Fatalf("%s: expected state to load", ts)
		}
		at, ok := st.ObservedAt()
		if !ok || at.Year() != 2025 || at.Day() != 1 {
			t.Errorf("%s: parsed %v (%v)", ts, at, ok)
		}
	}

	root := t.TempDir()
	writeState(t, root, "agent-a", `{"observations_text":"obs","last_observed_at":"yesterday"}`)
	st, ok := LoadState("agent-a", root)
	if !ok || st.ObservationsText != "obs" {
		t.Fatal("unparseable timestamp should not drop the state")
	}
	if _, ok := st.ObservedAt(); ok {
		t.Error("expected unparseable timestamp to report false")
	}
}

func TestFormatContextOptionalTags(t *testing.T) {
	out := FormatContext(State{})
	if strings.Contains(out, "<current-task>") || strings.Contains(out, "<suggested-response>") {
		t.Errorf("expected optional tags omitted:\n%s", out)
	}
	for _, want := range []string{"<observer-context>", "<observations>", "</observations>", "</observer-context>"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s:\n%s", want, out)
		}
	}

	empty := ""
	if out := FormatContext(State{SuggestedResponse: &empty}); strings.Contains(out, "<suggested-response>") {
		t.Error("empty suggested response should be omitted")
	}

	hint := "reply with the plan"
	out = FormatContext(State{ObservationsText: "obs", CurrentTask: "task", SuggestedResponse: &hint})
	if !strings.Contains(out, "<current-task>\ntask\n</current-task>") {
		t.Errorf("expected current task block:\n%s", out)
	}
	if !strings.Contains(out, "<suggested-response>\nreply with the plan\n</suggested-response>") {
		t.Errorf("expected suggested response block:\n%s", out)
	}
	if !strings.Contains(out, "most recent information") {
		t.Errorf("expected trailing instructions:\n%s", out)
	}
}

func TestFilterStaleTeamReferences(t *testing.T) {
	in := strings.Join([]string{
		"- User asked for a login page.",
		"- Your team includes @coder and @tester.",
		"- You are in team dev with coder and tester.",
		"- Team dev comprises three agents.",
		"- The Ops team with 4 agents handles deploys.",
		"- The team discussed the API design.",
		"- User requested a team feature in the dashboard.",
		"- Teamwork improved after the retro.",
		"",
		"- Your teammates are @a and @b.",
		"- We are on the team page fixing the layout.",
		"- I am part of the team effort to ship the feature.",
		"- User asked whether we are in the team channel.",
		"- Bug: team dashboard includes 3 agents twice.",
		"- The team page consists of two panels.",
		"- We are part of the backend team.",
		"- Coder belongs to team dev.",
		"- Team dev has 3 agents.",
	}, "\n")

	want := strings.Join([]string{
		"- User asked for a login page.",
		"- The team discussed the API design.",
		"- User requested a team feature in the dashboard.",
		"- Teamwork improved after the retro.",
		"",
		"- We are on the team page fixing the layout.",
		"- I am part of the team effort to ship the feature.",
		"- User asked whether we are in the team channel.",
		"- Bug: team dashboard includes 3 agents twice.",
		"- The team page consists of two panels.",
	}, "\n")

	got := FilterStaleTeamReferences(in)
	if got != want {
		t.Fatalf("unexpected filter output:\n%q\nwant:\n%q", got, want)
	}
	if again := FilterStaleTeamReferences(got); again != got {
		t.Errorf("filter is not idempotent:\n%q\n%q", got, again)
	}
}

func TestFilterKeepsTextWithoutTeamStructure(t *testing.T) {
	in := "line one\n  indented line\n\nteam spirit is high"
	if got := FilterStaleTeamReferences(in); got != in {
		t.Errorf("expected unchanged text, got %q", got)
	}
	if got := FilterStaleTeamReferences(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestBridgeContext(t *testing.T) {
	root := t.TempDir()
	b := NewBridge(config.ObserverConfig{})

	if _, ok := b.Context("agent-a", root); ok {
		t.Error("expected no context without state")
	}

	writeState(t, root, "agent-a", `{"observations_text":"   "}`)
	if _, ok := b.Context("agent-a", root); ok {
		t.Error("expected no context for blank observations")
	}

	writeState(t, root, "agent-a", `{"observations_text":"- fixed the parser\n- Your team includes @b"}`)
	ctx, ok := b.Context("agent-a", root)
	if !ok {
		t.Fatal("expected context")
	}
	if !strings.Contains(ctx, "fixed the parser") {
		t.Errorf("missing observation:\n%s", ctx)
	}
	if strings.Contains(ctx, "Your team includes") {
		t.Errorf("stale team line not filtered:\n%s", ctx)
	}
}

func TestNormalize(t *testing.T) {
	longInput := `{"command":"` + strings.Repeat("x", 900) + `"}`
	msgs := []stream.Message{
		stream.TextMessage("user", "[Message from teammate @agent-b]:\nplease check the build\n\n(2 other teammate responses still pending)"),
		{Role: "assistant", Content: stream.Content{
			{Type: stream.BlockText, Text: "Running it."},
			{Type: stream.BlockToolUse, Name: "Bash", Input: json.RawMessage(longInput)},
		}},
		{Role: "user", Content: stream.Content{
			{Type: stream.BlockToolResult, Content: json.RawMessage(`"` + strings.Repeat("y", 1500) + `"`)},
		}},
		stream.TextMessage("assistant", "   "),
	}

	got := Normalize(msgs)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(got), got)
	}
	if got[0].Content != "please check the build" {
		t.Errorf("artifacts not stripped: %q", got[0].Content)
	}
	if !strings.HasPrefix(got[1].Content, "Running it.\n[Tool call: Bash] ") {
		t.Errorf("unexpected tool call rendering: %q", got[1].Content)
	}
	if n := len(strings.TrimPrefix(got[1].Content, "Running it.\n[Tool call: Bash] ")); n != 500 {
		t.Errorf("expected tool input truncated to 500, got %d", n)
	}
	if !strings.HasPrefix(got[2].Content, "[Tool result] ") || len(got[2].Content) != len("[Tool result] ")+1000 {
		t.Errorf("expected tool result truncated to 1000, got %d chars", len(got[2].Content))
	}
}

func TestStripArtifactsLeavesPlainText(t *testing.T) {
	in := "Message from teammate is quoted here, 2 other things pending"
	if got := StripArtifacts(in); got != in {
		t.Errorf("expected unchanged, got %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestRecorderRunsSummarizerAndCleansUp(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(t.TempDir(), "captured")
	script := filepath.Join(t.TempDir(), "summarize.sh")
	body := "#!/bin/sh\necho \"$@\" > " + out + ".args\ncp \"$2\" " + out + ".json\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	r := NewRecorder(config.ObserverConfig{Script: script, Runtime: ""})
	r.Record(RecordRequest{
		AgentID:             "agent-a",
		WorkspaceRoot:       root,
		Provider:            "codex",
		Messages:            []stream.Message{stream.TextMessage("user", "hi"), stream.TextMessage("assistant", "hello")},
		TokenThreshold:      50000,
		ReflectionThreshold: 40000,
	})
	r.Wait()

	args, err := os.ReadFile(out + ".args")
	if err != nil {
		t.Fatalf("summarizer did not run: %v", err)
	}
	for _, want := range []string{"--agent agent-a", "--provider codex", "--token-threshold 50000", "--reflection-threshold 40000"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}

	data, err := os.ReadFile(out + ".json")
	if err != nil {
		t.Fatalf("read captured exchange: %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("decode exchange: %v", err)
	}
	if len(entries) != 2 || entries[1].Content != "hello" {
		t.Errorf("unexpected exchange: %+v", entries)
	}

	assertNoExchangeFiles(t, root, "agent-a")
}

func TestRecorderCleansUpOnFailure(t *testing.T) {
	root := t.TempDir()
	script := filepath.Join(t.TempDir(), "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	r := NewRecorder(config.ObserverConfig{Script: script})
	r.Record(RecordRequest{
		AgentID:       "agent-a",
		WorkspaceRoot: root,
		Messages:      []stream.Message{stream.TextMessage("user", "hi")},
	})
	r.Wait()

	assertNoExchangeFiles(t, root, "agent-a")
}

func TestRecorderWithoutScriptIsNoop(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(config.ObserverConfig{})
	r.Record(RecordRequest{AgentID: "agent-a", WorkspaceRoot: root, Messages: []stream.Message{stream.TextMessage("user", "hi")}})
	r.Wait()

	if _, err := os.Stat(StateDir("agent-a", root)); !os.IsNotExist(err) {
		t.Errorf("expected no observer dir, got %v", err)
	}
}

func assertNoExchangeFiles(t *testing.T, root, agentID string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(StateDir(agentID, root), "exchange-*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("transient exchange files left behind: %v", matches)
	}
}

func TestRecorderUpdateConfig(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(t.TempDir(), "ran")
	script := filepath.Join(t.TempDir(), "touch.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ntouch "+marker+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	r := NewRecorder(config.ObserverConfig{})
	r.UpdateConfig(config.ObserverConfig{Script: script})
	r.Record(RecordRequest{AgentID: "agent-a", WorkspaceRoot: root, Messages: []stream.Message{stream.TextMessage("user", "hi")}})
	r.Wait()

	if _, err := os.Stat(marker); err != nil {
		t.Errorf("expected reloaded script to run: %v", err)
	}
}
