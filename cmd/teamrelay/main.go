package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mtzanidakis/teamrelay/internal/config"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("teamrelay %s\n", version)
	case "serve":
		err = runServe()
	case "invoke":
		err = runInvoke(os.Args[2:])
	case "agents":
		err = runAgents()
	case "history":
		err = runHistory(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	case "vault":
		err = runVault(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: teamrelay <command>

Commands:
  serve                              Run the bus, relay and scheduler
  invoke <agent> <message> [--reset] Run a single invocation and print the response
  agents                             List agents with message counts
  history [-n N] <agent>             Print an agent's recent messages
  backup -f <file.tar.zst>           Archive the workspace and database
  restore -f <file.tar.zst>          Restore an archive [-overwrite]
  vault <command>                    Manage secrets
  version                            Print version
`)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the config and installs the configured logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))
	return cfg, nil
}
