package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/registry"
	"github.com/mtzanidakis/teamrelay/internal/store"
)

func runAgents() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return listAgents(os.Stdout, a.registry, a.store)
}

// listAgents prints the synced agents with their transcript counts.
func listAgents(w io.Writer, reg *registry.Registry, db *store.Store) error {
	agents, err := reg.List()
	if err != nil {
		return err
	}
	stats, err := db.GetAgentMessageStats()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tTEAM\tMESSAGES\tLAST ACTIVE")
	for _, ag := range agents {
		st := stats[ag.ID]
		last := "-"
		if !st.LastActive.IsZero() {
			last = st.LastActive.Format(time.DateTime)
		}
		team := ag.TeamID
		if team == "" {
			team = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", ag.ID, ag.Provider, team, st.MessageCount, last)
	}
	return tw.Flush()
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: teamrelay history [-n N] <agent>")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return printHistory(os.Stdout, a.registry, a.store, fs.Arg(0), *limit)
}

// printHistory prints the agent's last limit messages, oldest first.
func printHistory(w io.Writer, reg *registry.Registry, db *store.Store, agentID string, limit int) error {
	ag, err := reg.Get(agentID)
	if err != nil {
		return err
	}
	if ag == nil {
		return fmt.Errorf("unknown agent: %s", agentID)
	}

	msgs, err := db.GetMessages(agentID, limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		body := strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", "\n    ")
		fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Format(time.DateTime), m.Sender, body)
	}
	return nil
}
