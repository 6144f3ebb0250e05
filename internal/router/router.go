// Package router picks the agent that receives a message from a user.
package router

import (
	"errors"
	"strings"

	"github.com/mtzanidakis/teamrelay/internal/config"
)

// ErrNoRoute is returned when a message names no agent and no team is
// configured to fall back to.
var ErrNoRoute = errors.New("no agent to route to")

// Directory is the agent and team lookup the router needs.
type Directory interface {
	Definition(agentID string) (config.AgentDefinition, bool)
	Teams() config.Teams
}

type Router struct {
	dir Directory
}

func New(dir Directory) *Router {
	return &Router{dir: dir}
}

// Route resolves the target of a user message. A leading @agent addresses
// that agent; a leading @team addresses the team's entry agent. Anything
// else goes to the entry agent of the first team. The address is stripped
// from the returned message.
func (r *Router) Route(message string) (agentID, cleaned string, err error) {
	message = strings.TrimSpace(message)

	if strings.HasPrefix(message, "@") {
		head, rest, _ := strings.Cut(message, " ")
		name := strings.TrimPrefix(head, "@")
		rest = strings.TrimSpace(rest)

		if _, ok := r.dir.Definition(name); ok {
			return name, rest, nil
		}
		if t, ok := r.dir.Teams().Get(name); ok {
			if id := EntryAgent(t); id != "" {
				return id, rest, nil
			}
		}
		// Unknown name in prefix, fall through to the default team
	}

	teams := r.dir.Teams()
	if len(teams) == 0 {
		return "", message, ErrNoRoute
	}
	if id := EntryAgent(teams[0]); id != "" {
		return id, message, nil
	}
	return "", message, ErrNoRoute
}

// EntryAgent returns the team leader, or the first member when the team has
// no leader.
func EntryAgent(t config.Team) string {
	if t.LeaderAgent != "" {
		return t.LeaderAgent
	}
	if len(t.Agents) > 0 {
		return t.Agents[0]
	}
	return ""
}
