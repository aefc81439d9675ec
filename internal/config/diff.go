package config

import "github.com/MrWong99/introcoach/internal/coach"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	PersonasChanged bool
	PersonaChanges  []PersonaDiff

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed settings that are not applied live.
	RestartRequired []string
}

// PersonaDiff describes what changed for a single configured persona.
type PersonaDiff struct {
	ID      string
	Added   bool
	Removed bool

	// Modified is set when name, description, prompt or type changed.
	Modified bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldByID := make(map[string]coach.Persona, len(old.Personas))
	for _, p := range old.Personas {
		oldByID[p.ID] = p
	}
	newByID := make(map[string]coach.Persona, len(new.Personas))
	for _, p := range new.Personas {
		newByID[p.ID] = p
	}

	// Walk in config order so the result is deterministic.
	for _, p := range old.Personas {
		np, ok := newByID[p.ID]
		switch {
		case !ok:
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: p.ID, Removed: true})
		case np != p:
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: p.ID, Modified: true})
		}
	}
	for _, p := range new.Personas {
		if _, ok := oldByID[p.ID]; !ok {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: p.ID, Added: true})
		}
	}
	d.PersonasChanged = len(d.PersonaChanges) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.MCP != new.Server.MCP {
		d.RestartRequired = append(d.RestartRequired, "server.mcp")
	}
	if !sameEntry(old.Providers.LLM, new.Providers.LLM) || len(old.Providers.LLMFallbacks) != len(new.Providers.LLMFallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	} else {
		for i := range old.Providers.LLMFallbacks {
			if !sameEntry(old.Providers.LLMFallbacks[i], new.Providers.LLMFallbacks[i]) {
				d.RestartRequired = append(d.RestartRequired, "providers.llm")
				break
			}
		}
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	return d
}

// sameEntry compares the scalar fields of two provider entries. Options are
// not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
