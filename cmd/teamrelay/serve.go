package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/natsbus"
	"github.com/mtzanidakis/teamrelay/internal/relay"
	"github.com/mtzanidakis/teamrelay/internal/scheduler"
)

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting teamrelay", "version", version, "agents", len(cfg.Agents), "teams", len(cfg.Teams))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "url", bus.ClientURL(), "store_dir", bus.StoreDir())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer client.Close()

	// Backend processes reach the host over the bus (ptask).
	a.dispatcher.SetEnv("NATS_URL=" + bus.ClientURL())

	rl := relay.New(client, a.store, a.registry, a.dispatcher, cfg.Relay)
	if a.secrets != nil {
		rl.SetRedactor(a.secrets)
	}
	rl.OnOutput(func(agentID, content string, meta map[string]string) {
		slog.Debug("agent output", "agent", agentID, "sender", meta[relay.MetaSender], "chars", len(content))
	})
	if err := rl.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	slog.Info("relay started", "max_hops", cfg.Relay.MaxHops)

	sched := scheduler.New(a.store, rl, client, cfg.Scheduler)
	go sched.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	current := cfg
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			current = reload(current, a, rl, sched)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}

	cancel()
	rl.Stop()
	for _, act := range rl.Activity() {
		slog.Info("agent activity",
			"agent", act.AgentID,
			"invocations", act.Invocations,
			"queued", act.Queued,
			"last_active", act.LastActive)
	}
	return nil
}

// reload re-reads the config and applies the reloadable parts. It returns
// the config to diff the next reload against.
func reload(old *config.Config, a *app, rl *relay.Relay, sched *scheduler.Scheduler) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("reload config failed", "error", err)
		return old
	}

	d := config.Diff(old, cfg)
	for _, field := range d.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if !d.HasChanges() {
		slog.Info("config reloaded, no changes")
		return cfg
	}

	if len(d.AgentsAdded) > 0 || len(d.AgentsRemoved) > 0 || len(d.AgentsChanged) > 0 || d.TeamsChanged {
		if err := a.registry.Update(cfg.Agents, cfg.Teams); err != nil {
			slog.Error("update agent registry failed", "error", err)
		}
	}
	if d.DispatchChanged || d.ObserverChanged {
		a.dispatcher.UpdateConfig(cfg.Dispatch, cfg.Observer)
	}
	if d.ObserverChanged {
		a.bridge.UpdateConfig(cfg.Observer)
	}
	if d.SchedulerChanged {
		sched.UpdateConfig(cfg.Scheduler)
	}
	if d.RelayChanged {
		rl.UpdateConfig(cfg.Relay)
	}

	slog.Info("config reloaded",
		"agents_added", d.AgentsAdded,
		"agents_removed", d.AgentsRemoved,
		"agents_changed", d.AgentsChanged,
		"teams_changed", d.TeamsChanged)
	return cfg
}
