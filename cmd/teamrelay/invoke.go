package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mtzanidakis/teamrelay/internal/dispatch"
	"github.com/mtzanidakis/teamrelay/internal/mention"
	"github.com/mtzanidakis/teamrelay/internal/relay"
	"github.com/mtzanidakis/teamrelay/internal/store"
)

type invokeArgs struct {
	agentID string
	message string
	reset   bool
}

func parseInvokeArgs(args []string) (invokeArgs, error) {
	var out invokeArgs
	var positional []string
	for _, arg := range args {
		switch arg {
		case "--reset", "-reset":
			out.reset = true
		default:
			positional = append(positional, arg)
		}
	}
	if len(positional) < 2 {
		return out, fmt.Errorf("usage: teamrelay invoke <agent> <message> [--reset]")
	}
	out.agentID = positional[0]
	out.message = strings.Join(positional[1:], " ")
	return out, nil
}

func runInvoke(args []string) error {
	in, err := parseInvokeArgs(args)
	if err != nil {
		return err
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

	def, ok := a.registry.Definition(in.agentID)
	if !ok {
		return fmt.Errorf("agent not configured: %s", in.agentID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	saveMessage(a.store, &store.Message{AgentID: in.agentID, Sender: relay.SenderUser, Content: in.message})
	res, err := a.dispatcher.Invoke(ctx, dispatch.Request{
		Agent:         def,
		AgentID:       in.agentID,
		Message:       in.message,
		WorkspaceRoot: a.registry.BasePath(),
		Reset:         in.reset,
		Agents:        a.registry.Agents(),
		Teams:         a.registry.Teams(),
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", in.agentID, err)
	}

	content := a.redact(in.agentID, res.Text())
	saveMessage(a.store, &store.Message{AgentID: in.agentID, Sender: relay.SenderAgent, Content: content})
	if sr, ok := res.(dispatch.StreamResult); ok {
		slog.Info("native session", "agent", in.agentID, "session", sr.SessionID)
	}

	fmt.Println(content)
	mentions := mention.Extract(content, in.agentID, a.registry.TeamOf(in.agentID), a.registry.Teams(), a.registry.Agents())
	if len(mentions) > 0 {
		fmt.Print("\n" + formatMentions(mentions))
	}
	return nil
}

// saveMessage records msg in the transcript. Failures are logged, not returned.
func saveMessage(db *store.Store, msg *store.Message) {
	if err := db.SaveMessage(msg); err != nil {
		slog.Warn("save message failed", "agent", msg.AgentID, "sender", msg.Sender, "error", err)
	}
}

func formatMentions(mentions []mention.Mention) string {
	var b strings.Builder
	b.WriteString("Mentions:\n")
	for _, m := range mentions {
		fmt.Fprintf(&b, "  @%s: %s\n", m.TeammateID, strings.ReplaceAll(m.Message, "\n", "\n    "))
	}
	return b.String()
}
