// Package registry keeps the configured agents and teams, mirrors them into
// the store and makes sure every agent has a working directory.
package registry

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/store"
	"github.com/mtzanidakis/teamrelay/internal/team"
)

type Registry struct {
	store    *store.Store
	basePath string

	mu     sync.RWMutex
	agents map[string]config.AgentDefinition
	teams  config.Teams
}

func New(s *store.Store, agents map[string]config.AgentDefinition, teams config.Teams, basePath string) *Registry {
	return &Registry{
		store:    s,
		agents:   agents,
		teams:    teams,
		basePath: basePath,
	}
}

// Sync writes every configured agent to the store, creates missing working
// directories and drops agents no longer configured.
func (r *Registry) Sync() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(r.agents))
	for _, id := range ids {
		def := r.agents[id]
		dir := r.agentPath(id, def)

		var teamID string
		if t, ok := team.FindTeam(id, r.teams); ok {
			teamID = t.ID
		}

		a := &store.Agent{
			ID:       id,
			Name:     def.DisplayName(id),
			Provider: def.Provider,
			Model:    def.Model,
			WorkDir:  dir,
			TeamID:   teamID,
		}
		if err := r.store.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", id, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create working directory for %s: %w", id, err)
		}
	}

	if err := r.store.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}

// Update swaps in a reloaded agent and team configuration and syncs it.
func (r *Registry) Update(agents map[string]config.AgentDefinition, teams config.Teams) error {
	r.mu.Lock()
	r.agents = agents
	r.teams = teams
	r.mu.Unlock()
	return r.Sync()
}

func (r *Registry) Get(agentID string) (*store.Agent, error) {
	return r.store.GetAgent(agentID)
}

func (r *Registry) List() ([]store.Agent, error) {
	return r.store.ListAgents()
}

func (r *Registry) Definition(agentID string) (config.AgentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[agentID]
	return def, ok
}

// Agents returns a copy of the agent table.
func (r *Registry) Agents() map[string]config.AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.agents)
}

// Teams returns a copy of the teams in declaration order.
func (r *Registry) Teams() config.Teams {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.teams)
}

// TeamOf returns the id of the first team listing agentID, or "".
func (r *Registry) TeamOf(agentID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := team.FindTeam(agentID, r.teams); ok {
		return t.ID
	}
	return ""
}

func (r *Registry) BasePath() string {
	return r.basePath
}

// AgentPath returns the agent's working directory without checking that it
// exists.
func (r *Registry) AgentPath(agentID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentPath(agentID, r.agents[agentID])
}

func (r *Registry) agentPath(agentID string, def config.AgentDefinition) string {
	switch wd := def.WorkingDirectory; {
	case wd == "":
		return filepath.Join(r.basePath, agentID)
	case filepath.IsAbs(wd):
		return wd
	default:
		return filepath.Join(r.basePath, wd)
	}
}
