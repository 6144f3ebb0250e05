package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/dispatch"
	"github.com/mtzanidakis/teamrelay/internal/observer"
	"github.com/mtzanidakis/teamrelay/internal/registry"
	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/mtzanidakis/teamrelay/internal/stream/anthropic"
	"github.com/mtzanidakis/teamrelay/internal/vault"
)

// app holds the components shared by serve and invoke.
type app struct {
	cfg        *config.Config
	store      *store.Store
	registry   *registry.Registry
	secrets    *vault.Secrets // nil without a vault passphrase
	bridge     *observer.Bridge
	dispatcher *dispatch.Dispatcher
}

func openApp(cfg *config.Config) (*app, error) {
	root, err := filepath.Abs(cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	slog.Info("store initialized", "path", cfg.Store.Path)

	reg := registry.New(db, cfg.Agents, cfg.Teams, root)
	if err := reg.Sync(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync agent registry: %w", err)
	}

	a := &app{
		cfg:      cfg,
		store:    db,
		registry: reg,
		bridge:   observer.NewBridge(cfg.Observer),
	}
	if cfg.Vault.Passphrase != "" {
		a.secrets = vault.NewSecrets(db, vault.New(cfg.Vault.Passphrase))
	}

	anthropicCfg := cfg.Anthropic
	if anthropicCfg.APIKey == "" && a.secrets != nil {
		key, err := a.secrets.Get(vault.AnthropicKeySecret)
		if err != nil {
			slog.Warn("read anthropic key from vault failed", "error", err)
		} else if key != nil {
			anthropicCfg.APIKey = strings.TrimSpace(string(key))
		}
	}

	a.dispatcher = dispatch.New(cfg.Dispatch, cfg.Observer, anthropic.New(anthropicCfg, db), a.bridge)
	if a.secrets != nil {
		a.dispatcher.SetSecretResolver(a.secrets)
	}
	return a, nil
}

// redact scrubs the agent's secret values when a vault is configured.
func (a *app) redact(agentID, content string) string {
	if a.secrets == nil {
		return content
	}
	def, _ := a.registry.Definition(agentID)
	return a.secrets.Redact(agentID, def.Secrets, content)
}

// Close waits for in-flight observer recordings and closes the store.
func (a *app) Close() {
	a.bridge.Wait()
	a.store.Close()
}
