package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	PoolChanged bool
	NewPool     PoolConfig

	EngineChanged bool
	NewEngine     EngineConfig

	JanitorChanged bool
	NewJanitor     JanitorConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.PoolChanged || d.EngineChanged || d.JanitorChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if !reflect.DeepEqual(old.Pool, new.Pool) {
		d.PoolChanged = true
		d.NewPool = new.Pool
	}
	if !reflect.DeepEqual(old.Engine, new.Engine) {
		d.EngineChanged = true
		d.NewEngine = new.Engine
	}
	if old.Janitor != new.Janitor {
		d.JanitorChanged = true
		d.NewJanitor = new.Janitor
	}

	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store != new.Store {
		d.NonReloadable = append(d.NonReloadable, "store")
	}
	if old.Web != new.Web {
		d.NonReloadable = append(d.NonReloadable, "web")
	}
	if !reflect.DeepEqual(old.LLM, new.LLM) {
		d.NonReloadable = append(d.NonReloadable, "llm")
	}
	if old.Build != new.Build {
		d.NonReloadable = append(d.NonReloadable, "build")
	}
	if old.Deploy != new.Deploy {
		d.NonReloadable = append(d.NonReloadable, "deploy")
	}
	if old.Review != new.Review {
		d.NonReloadable = append(d.NonReloadable, "review")
	}

	return d
}
