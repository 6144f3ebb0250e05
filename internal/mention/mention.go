// Package mention extracts directed teammate messages from an agent response.
//
// Two syntaxes are recognised. Bracket tags, [@id: message] or
// [@id1,id2: message], address one or more teammates with a specific clause.
// A clause may hold brackets nested one level deep, as in "check arr[0]".
// Bare @id or @name tokens are a fallback used only when the response holds
// no well-formed bracket tag at all.
package mention

import (
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/mtzanidakis/teamrelay/internal/config"
)

// Mention is a message directed from one agent to a teammate.
type Mention struct {
	TeammateID    string
	SourceAgentID string
	// Message is the directed clause. In bare mode it is the whole response.
	Message string
	// Context is the response text outside bracket tags. Empty in bare mode.
	Context string
}

// Text renders the message as delivered to the teammate: shared context first,
// then the directed clause.
func (m Mention) Text() string {
	if m.Context == "" {
		return m.Message
	}
	return m.Context + "\n\n------\n\nDirected to you:\n" + m.Message
}

var (
	bracketRe = regexp.MustCompile(`\[@([A-Za-z0-9_-]+(?:\s*,\s*@?[A-Za-z0-9_-]+)*)\s*:((?:[^\[\]]|\[[^\[\]]*\])*)\]`)
	bareRe    = regexp.MustCompile(`(?:^|[^A-Za-z0-9_@-])@([A-Za-z0-9_-]+)`)
)

// Extract returns the mentions in response addressed by selfID to members of
// team teamID. It never fails; no matches yields nil.
func Extract(response, selfID, teamID string, teams config.Teams, agents map[string]config.AgentDefinition) []Mention {
	team, ok := teams.Get(teamID)
	if !ok {
		return nil
	}
	isTeammate := func(id string) bool {
		if id == selfID || !team.Has(id) {
			return false
		}
		_, known := agents[id]
		return known
	}

	if tags := bracketRe.FindAllStringSubmatchIndex(response, -1); len(tags) > 0 {
		return extractBracket(response, tags, selfID, isTeammate)
	}
	return extractBare(response, selfID, agents, isTeammate)
}

func extractBracket(response string, tags [][]int, selfID string, isTeammate func(string) bool) []Mention {
	shared := strings.TrimSpace(bracketRe.ReplaceAllString(response, ""))

	var out []Mention
	index := make(map[string]int)
	delivered := make(map[[2]string]bool) // teammate, clause
	for _, loc := range tags {
		ids := response[loc[2]:loc[3]]
		directed := strings.TrimSpace(response[loc[4]:loc[5]])
		if directed == "" {
			continue
		}
		for _, raw := range strings.Split(ids, ",") {
			id := strings.TrimPrefix(strings.TrimSpace(raw), "@")
			if !isTeammate(id) {
				continue
			}
			if delivered[[2]string{id, directed}] {
				continue
			}
			delivered[[2]string{id, directed}] = true
			if i, seen := index[id]; seen {
				out[i].Message += "\n\n" + directed
				continue
			}
			index[id] = len(out)
			out = append(out, Mention{
				TeammateID:    id,
				SourceAgentID: selfID,
				Message:       directed,
				Context:       shared,
			})
		}
	}
	return out
}

func extractBare(response, selfID string, agents map[string]config.AgentDefinition, isTeammate func(string) bool) []Mention {
	var out []Mention
	seen := make(map[string]bool)
	for _, m := range bareRe.FindAllStringSubmatch(response, -1) {
		id, ok := resolve(m[1], agents)
		if !ok || seen[id] || !isTeammate(id) {
			continue
		}
		seen[id] = true
		out = append(out, Mention{
			TeammateID:    id,
			SourceAgentID: selfID,
			Message:       response,
		})
	}
	return out
}

// resolve maps a bare token to an agent id: exact id first, then display
// name ignoring case.
func resolve(token string, agents map[string]config.AgentDefinition) (string, bool) {
	if _, ok := agents[token]; ok {
		return token, true
	}
	for _, id := range slices.Sorted(maps.Keys(agents)) {
		if def := agents[id]; def.Name != "" && strings.EqualFold(def.Name, token) {
			return id, true
		}
	}
	return "", false
}
