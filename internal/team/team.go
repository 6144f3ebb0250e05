package team

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/teamrelay/internal/config"
)

// FindTeam returns the first team, in declaration order, that lists agentID
// as a member. Teams are expected not to overlap.
func FindTeam(agentID string, teams config.Teams) (config.Team, bool) {
	for _, t := range teams {
		if t.Has(agentID) {
			return t, true
		}
	}
	return config.Team{}, false
}

// Teammates returns the members of t other than agentID, in roster order.
func Teammates(agentID string, t config.Team) []string {
	var out []string
	for _, id := range t.Agents {
		if id != agentID {
			out = append(out, id)
		}
	}
	return out
}

// InstructionBlock builds the system prompt section that teaches agentID how
// to reach its teammates. It reports false when the team has no other members.
func InstructionBlock(agentID string, t config.Team) (string, bool) {
	mates := Teammates(agentID, t)
	if len(mates) == 0 {
		return "", false
	}

	name := t.Name
	if name == "" {
		name = t.ID
	}

	handles := make([]string, len(mates))
	for i, id := range mates {
		handles[i] = "@" + id
	}

	var sb strings.Builder
	sb.WriteString("## Team Communication\n\n")
	fmt.Fprintf(&sb, "You are @%s, a member of team %q (@%s).\n", agentID, name, t.ID)
	fmt.Fprintf(&sb, "Your teammates: %s\n", strings.Join(handles, ", "))
	if t.LeaderAgent != "" && t.LeaderAgent != agentID {
		fmt.Fprintf(&sb, "Team leader: @%s\n", t.LeaderAgent)
	}
	sb.WriteString("\nTo message teammates, put a bracket tag in your response:\n")
	sb.WriteString("[@teammate_id: your message]\n")
	sb.WriteString("[@teammate_id1,teammate_id2: a message for several teammates]\n\n")
	sb.WriteString("Bracket tags are the ONLY way to communicate with other agents. ")
	sb.WriteString("Do not use any other tool, command, file or messaging mechanism to send messages to agents.\n\n")
	sb.WriteString("Example:\n")
	fmt.Fprintf(&sb, "[@%s: Can you review the changes I just made?]", mates[0])
	return sb.String(), true
}

// Context returns the instruction block for the team agentID belongs to.
func Context(agentID string, teams config.Teams) (string, bool) {
	t, ok := FindTeam(agentID, teams)
	if !ok {
		return "", false
	}
	return InstructionBlock(agentID, t)
}
