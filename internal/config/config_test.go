package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Dispatch.Timeout != 120*time.Second {
		t.Errorf("expected dispatch timeout 120s, got %v", cfg.Dispatch.Timeout)
	}
	if cfg.Observer.TokenThreshold != 50000 {
		t.Errorf("expected token threshold 50000, got %d", cfg.Observer.TokenThreshold)
	}
	if cfg.Observer.ReflectionThreshold != 40000 {
		t.Errorf("expected reflection threshold 40000, got %d", cfg.Observer.ReflectionThreshold)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "data/teamrelay.db" {
		t.Errorf("expected store path data/teamrelay.db, got %s", cfg.Store.Path)
	}
	if cfg.Relay.MaxHops != 8 {
		t.Errorf("expected max hops 8, got %d", cfg.Relay.MaxHops)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("TEAMRELAY_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("TEAMRELAY_WORKSPACE", "/tmp/ws")
	t.Setenv("TEAMRELAY_NATS_PORT", "5222")
	t.Setenv("TEAMRELAY_INVOKE_TIMEOUT", "45s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Workspace.Path != "/tmp/ws" {
		t.Errorf("expected workspace /tmp/ws, got %s", cfg.Workspace.Path)
	}
	if cfg.NATS.Port != 5222 {
		t.Errorf("expected nats port 5222, got %d", cfg.NATS.Port)
	}
	if cfg.Dispatch.Timeout != 45*time.Second {
		t.Errorf("expected timeout 45s, got %v", cfg.Dispatch.Timeout)
	}
	if cfg.Anthropic.APIKey != "sk-test-key" {
		t.Errorf("expected anthropic key sk-test-key, got %s", cfg.Anthropic.APIKey)
	}
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEAMRELAY_CONFIG", cfgPath)
}

func TestLoadFromYAML(t *testing.T) {
	writeConfig(t, `
workspace:
  path: "/srv/agents"
agents:
  coder:
    name: "Coder"
    provider: codex
    model: gpt-5-codex
    observer: true
    token_threshold: 1000
  reviewer:
    provider: anthropic
  writer:
    provider: opencode
    working_directory: "/srv/docs"
teams:
  zeta:
    name: "Zeta"
    agents: [writer]
  dev:
    name: "Dev Team"
    agents: [coder, reviewer]
    leader_agent: coder
dispatch:
  timeout: 90s
`)
	t.Setenv("TEAMRELAY_WORKSPACE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Workspace.Path != "/srv/agents" {
		t.Errorf("expected /srv/agents, got %s", cfg.Workspace.Path)
	}
	if len(cfg.Agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(cfg.Agents))
	}
	coder := cfg.Agents["coder"]
	if coder.Provider != "codex" || !coder.Observer || coder.TokenThreshold != 1000 {
		t.Errorf("unexpected coder definition: %+v", coder)
	}
	if cfg.Agents["writer"].WorkingDirectory != "/srv/docs" {
		t.Errorf("expected writer working directory, got %q", cfg.Agents["writer"].WorkingDirectory)
	}

	if len(cfg.Teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(cfg.Teams))
	}
	if cfg.Teams[0].ID != "zeta" || cfg.Teams[1].ID != "dev" {
		t.Errorf("expected declaration order [zeta dev], got [%s %s]", cfg.Teams[0].ID, cfg.Teams[1].ID)
	}
	dev, ok := cfg.Teams.Get("dev")
	if !ok {
		t.Fatal("expected dev team")
	}
	if dev.LeaderAgent != "coder" || len(dev.Agents) != 2 {
		t.Errorf("unexpected dev team: %+v", dev)
	}
	if cfg.Dispatch.Timeout != 90*time.Second {
		t.Errorf("expected timeout 90s, got %v", cfg.Dispatch.Timeout)
	}
	// Defaults survive partial sections
	if cfg.Dispatch.CodexCommand != "codex" {
		t.Errorf("expected default codex command, got %q", cfg.Dispatch.CodexCommand)
	}
}

func TestLoadRejectsUnknownTeamMember(t *testing.T) {
	writeConfig(t, `
agents:
  coder: {}
teams:
  dev:
    agents: [coder, ghost]
`)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unknown team member")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("expected error to name the agent, got %v", err)
	}
}

func TestLoadRejectsNonMemberLeader(t *testing.T) {
	writeConfig(t, `
agents:
  coder: {}
  reviewer: {}
teams:
  dev:
    agents: [coder]
    leader_agent: reviewer
`)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-member leader")
	}
}

func TestThresholds(t *testing.T) {
	obs := ObserverConfig{}
	tok, refl := obs.Thresholds(AgentDefinition{})
	if tok != DefaultTokenThreshold || refl != DefaultReflectionThreshold {
		t.Errorf("expected defaults, got %d/%d", tok, refl)
	}

	obs = ObserverConfig{TokenThreshold: 10, ReflectionThreshold: 20}
	tok, refl = obs.Thresholds(AgentDefinition{ReflectionThreshold: 5})
	if tok != 10 || refl != 5 {
		t.Errorf("expected 10/5, got %d/%d", tok, refl)
	}
}

func TestDisplayName(t *testing.T) {
	if got := (AgentDefinition{}).DisplayName("coder"); got != "coder" {
		t.Errorf("expected id fallback, got %q", got)
	}
	if got := (AgentDefinition{Name: "Ada"}).DisplayName("coder"); got != "Ada" {
		t.Errorf("expected Ada, got %q", got)
	}
}
