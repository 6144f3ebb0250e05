package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/mtzanidakis/teamrelay/internal/vault"
)

func newVaultEnv(t *testing.T) (*store.Store, *vault.Secrets) {
	t.Helper()
	db, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, vault.NewSecrets(db, vault.New("test-passphrase"))
}

func runVaultCmd(t *testing.T, db *store.Store, secrets *vault.Secrets, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := vaultCommand(db, secrets, args, &buf)
	return buf.String(), err
}

func TestVaultSetGet(t *testing.T) {
	db, secrets := newVaultEnv(t)

	if _, err := runVaultCmd(t, db, secrets, "set", "gh-token", "--value", "ghp_secretvalue", "--description", "GitHub"); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := runVaultCmd(t, db, secrets, "get", "gh-token")
	if err != nil || out != "ghp_secretvalue" {
		t.Fatalf("get = %q (%v)", out, err)
	}

	sec, _ := db.GetSecret("gh-token")
	if sec.EnvName != "GH_TOKEN" || sec.Description != "GitHub" || sec.Global {
		t.Errorf("unexpected secret %+v", sec)
	}

	if _, err := runVaultCmd(t, db, secrets, "get", "missing"); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestVaultSetOptions(t *testing.T) {
	db, secrets := newVaultEnv(t)

	if _, err := runVaultCmd(t, db, secrets, "set", "key", "--value", "v", "--env", "MY_KEY", "--global"); err != nil {
		t.Fatalf("set: %v", err)
	}
	sec, _ := db.GetSecret("key")
	if sec.EnvName != "MY_KEY" || !sec.Global {
		t.Errorf("unexpected secret %+v", sec)
	}

	if _, err := runVaultCmd(t, db, secrets, "set", "key", "--env", "BAD-NAME", "--value", "v"); err == nil {
		t.Error("expected invalid env name error")
	}
	if _, err := runVaultCmd(t, db, secrets, "set", "key", "--description", "d", "--global"); err == nil {
		t.Error("expected error without a value")
	}
	if _, err := runVaultCmd(t, db, secrets, "set", "key", "--value"); err == nil {
		t.Error("expected usage error")
	}
}

func TestVaultAssignAndList(t *testing.T) {
	db, secrets := newVaultEnv(t)
	runVaultCmd(t, db, secrets, "set", "api", "--value", "abcdefgh12345")

	if _, err := runVaultCmd(t, db, secrets, "assign", "api", "--agent", "coder"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := runVaultCmd(t, db, secrets, "global", "api", "--enable"); err != nil {
		t.Fatalf("global: %v", err)
	}

	out, err := runVaultCmd(t, db, secrets, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "API") || !strings.Contains(out, "coder") || !strings.Contains(out, "yes") {
		t.Errorf("unexpected list output:\n%s", out)
	}

	if _, err := runVaultCmd(t, db, secrets, "unassign", "api", "--agent", "coder"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if ids, _ := db.GetSecretAgentIDs("api"); len(ids) != 0 {
		t.Errorf("expected no assignments, got %v", ids)
	}

	if _, err := runVaultCmd(t, db, secrets, "assign", "nope", "--agent", "coder"); err == nil {
		t.Error("expected error assigning a missing secret")
	}
}

func TestVaultDeleteAndEmptyList(t *testing.T) {
	db, secrets := newVaultEnv(t)
	runVaultCmd(t, db, secrets, "set", "tmp", "--value", "x")

	if _, err := runVaultCmd(t, db, secrets, "delete", "tmp"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, _ := runVaultCmd(t, db, secrets, "list")
	if !strings.Contains(out, "No secrets stored.") {
		t.Errorf("unexpected list output %q", out)
	}
}

func TestVaultUnknownCommand(t *testing.T) {
	db, secrets := newVaultEnv(t)
	if _, err := runVaultCmd(t, db, secrets, "rotate"); err == nil {
		t.Error("expected error for unknown command")
	}
	if _, err := runVaultCmd(t, db, secrets, "global", "x", "--toggle"); err == nil {
		t.Error("expected usage error")
	}
}
