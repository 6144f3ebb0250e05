// Command ptask lets an agent manage its scheduled tasks from inside its
// working directory. It talks to the teamrelay host over NATS.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mtzanidakis/teamrelay/internal/natsbus"
)

type ipcRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type ipcResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	ID    string `json:"id,omitempty"`
	Tasks []task `json:"tasks,omitempty"`
}

type task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Status   string `json:"status"`
}

func sendIPC(natsURL, agentID, reqType string, payload map[string]any) (*ipcResponse, error) {
	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var resp ipcResponse
	if err := client.RequestJSON(natsbus.TopicIPC(agentID), ipcRequest{Type: reqType, Payload: payload}, &resp, 10*time.Second); err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  ptask create --name "..." --schedule "..." --prompt "..." [--context isolated|agent]`)
	fmt.Fprintln(os.Stderr, "  ptask list")
	fmt.Fprintln(os.Stderr, `  ptask delete --id "..."`)
	fmt.Fprintln(os.Stderr, "  ptask reset")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, `Schedules: a cron expression, "every 30m" or "at 2026-01-02T15:04:05Z".`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// run executes one command and returns the line to print.
func run(natsURL, agentID, command string, rest []string) (string, error) {
	var (
		reqType string
		payload = map[string]any{}
	)
	args := parseArgs(rest)

	switch command {
	case "create":
		if args["name"] == "" || args["schedule"] == "" || args["prompt"] == "" {
			return "", fmt.Errorf("--name, --schedule, and --prompt are required")
		}
		reqType = "create_task"
		payload["name"] = args["name"]
		payload["schedule"] = args["schedule"]
		payload["prompt"] = args["prompt"]
		if args["context"] != "" {
			payload["context_mode"] = args["context"]
		}
	case "list":
		reqType = "list_tasks"
	case "delete":
		if args["id"] == "" {
			return "", fmt.Errorf("--id is required")
		}
		reqType = "delete_task"
		payload["id"] = args["id"]
	case "reset":
		reqType = "reset_session"
	default:
		return "", fmt.Errorf("unknown command: %s", command)
	}

	resp, err := sendIPC(natsURL, agentID, reqType, payload)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%s", resp.Error)
	}

	switch command {
	case "create":
		return "Task created: " + resp.ID, nil
	case "list":
		if len(resp.Tasks) == 0 {
			return "No tasks found.", nil
		}
		var out string
		for i, t := range resp.Tasks {
			if i > 0 {
				out += "\n"
			}
			out += fmt.Sprintf("  %s  %s  %s  [%s]", t.ID, t.Status, t.Name, t.Schedule)
		}
		return out, nil
	case "delete":
		return "Task deleted.", nil
	default:
		return "Next message starts a fresh conversation.", nil
	}
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	agentID := os.Getenv("TEAMRELAY_AGENT")
	if agentID == "" {
		fatal("TEAMRELAY_AGENT is not set")
	}

	if len(os.Args) < 2 {
		usage()
	}

	out, err := run(natsURL, agentID, os.Args[1], os.Args[2:])
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(out)
}
