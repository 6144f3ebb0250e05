package natsbus

import (
	"fmt"
	"strings"
)

// Topic patterns for NATS pub/sub communication.

func TopicAgentInput(agentID string) string {
	return fmt.Sprintf("agent.%s.input", agentID)
}

func TopicAgentOutput(agentID string) string {
	return fmt.Sprintf("agent.%s.output", agentID)
}

func TopicIPC(agentID string) string {
	return fmt.Sprintf("host.ipc.%s", agentID)
}

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

func TopicEventsTask(taskID string) string {
	return fmt.Sprintf("events.task.%s", taskID)
}

const (
	TopicAgentInputAll  = "agent.*.input"
	TopicAgentOutputAll = "agent.*.output"
	TopicIPCAll         = "host.ipc.*"
	TopicEventsAll      = "events.>"

	// TopicUserInput carries user messages that are not addressed to a
	// specific agent subject.
	TopicUserInput = "user.input"
)

// AgentFromSubject extracts the agent id from agent.<id>.<kind> and
// host.ipc.<id> subjects.
func AgentFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	switch {
	case len(parts) == 3 && parts[0] == "agent":
		return parts[1]
	case len(parts) == 3 && parts[0] == "host" && parts[1] == "ipc":
		return parts[2]
	}
	return ""
}
