package natsbus

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Bus is the in-process NATS server. It carries agent input, events and
// task IPC, and keeps the durable input stream in its JetStream store.
type Bus struct {
	server   *natsserver.Server
	storeDir string
}

// New starts a loopback-only server with JetStream stored under
// cfg.DataDir. Port -1 picks a free port.
func New(cfg config.NATSConfig) (*Bus, error) {
	storeDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve nats data dir: %w", err)
	}
	if err := os.MkdirAll(storeDir, 0o700); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName:        "teamrelay",
		Host:              "127.0.0.1",
		Port:              cfg.Port,
		NoLog:             true,
		NoSigs:            true,
		JetStream:         true,
		StoreDir:          storeDir,
		JetStreamMaxStore: cfg.MaxStoreMB << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}
	if !ns.JetStreamEnabled() {
		ns.Shutdown()
		return nil, fmt.Errorf("jetstream unavailable in %s", storeDir)
	}
	slog.Debug("jetstream ready", "store_dir", storeDir)

	return &Bus{server: ns, storeDir: storeDir}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// StoreDir is the absolute JetStream store directory.
func (b *Bus) StoreDir() string {
	return b.storeDir
}

// Close stops the server and waits until its store is flushed.
func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
