package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	AgentsAdded   []string
	AgentsRemoved []string
	AgentsChanged []string

	TeamsChanged bool

	DispatchChanged bool
	NewDispatch     DispatchConfig

	ObserverChanged bool
	NewObserver     ObserverConfig

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	RelayChanged bool
	NewRelay     RelayConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.AgentsAdded) > 0 ||
		len(d.AgentsRemoved) > 0 ||
		len(d.AgentsChanged) > 0 ||
		d.TeamsChanged ||
		d.DispatchChanged ||
		d.ObserverChanged ||
		d.SchedulerChanged ||
		d.RelayChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	for name := range new.Agents {
		if _, ok := old.Agents[name]; !ok {
			d.AgentsAdded = append(d.AgentsAdded, name)
		}
	}
	for name := range old.Agents {
		if _, ok := new.Agents[name]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, name)
		}
	}
	for name, newDef := range new.Agents {
		if oldDef, ok := old.Agents[name]; ok {
			if !reflect.DeepEqual(oldDef, newDef) {
				d.AgentsChanged = append(d.AgentsChanged, name)
			}
		}
	}

	// Order matters for teams: FindTeam picks the first match.
	if !reflect.DeepEqual(old.Teams, new.Teams) {
		d.TeamsChanged = true
	}

	if old.Dispatch != new.Dispatch {
		d.DispatchChanged = true
		d.NewDispatch = new.Dispatch
	}

	if old.Observer != new.Observer {
		d.ObserverChanged = true
		d.NewObserver = new.Observer
	}

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	if old.Relay != new.Relay {
		d.RelayChanged = true
		d.NewRelay = new.Relay
	}

	if old.Workspace.Path != new.Workspace.Path {
		d.NonReloadable = append(d.NonReloadable, "workspace.path")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Anthropic != new.Anthropic {
		d.NonReloadable = append(d.NonReloadable, "anthropic")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}
	if old.Log != new.Log {
		d.NonReloadable = append(d.NonReloadable, "log")
	}

	return d
}
