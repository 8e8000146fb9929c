// Package config provides configuration management for Filewarden.
package config

import "sync/atomic"

// Rules is the hot-reloadable subset of configuration: folder definitions and
// quota limits. Quota checks and upload validation read a Rules snapshot, so
// a config reload takes effect on the next check without a restart.
type Rules struct {
	// GlobalQuota is the deployment-wide cumulative byte ceiling.
	GlobalQuota int64

	// ActiveProvider is the default provider for folders without a route.
	ActiveProvider string

	folders map[string]FolderConfig
}

// NewRules builds a Rules snapshot from storage configuration.
func NewRules(sc StorageConfig) *Rules {
	folders := make(map[string]FolderConfig, len(sc.Folders))
	for _, f := range sc.Folders {
		folders[f.Name] = f
	}
	return &Rules{
		GlobalQuota:    sc.GlobalQuota,
		ActiveProvider: sc.ActiveProvider,
		folders:        folders,
	}
}

// Folder looks up a folder definition by name.
func (r *Rules) Folder(name string) (FolderConfig, bool) {
	f, ok := r.folders[name]
	return f, ok
}

// Folders returns all folder definitions.
func (r *Rules) Folders() []FolderConfig {
	out := make([]FolderConfig, 0, len(r.folders))
	for _, f := range r.folders {
		out = append(out, f)
	}
	return out
}

// ProviderFor returns the provider name a folder routes to.
func (r *Rules) ProviderFor(f FolderConfig) string {
	if f.Provider != "" {
		return f.Provider
	}
	return r.ActiveProvider
}

// RulesHolder hands out the current Rules snapshot and accepts replacements
// atomically. Readers never block writers and vice versa.
type RulesHolder struct {
	current atomic.Pointer[Rules]
}

// NewRulesHolder creates a holder seeded with rules from storage config.
func NewRulesHolder(sc StorageConfig) *RulesHolder {
	h := &RulesHolder{}
	h.current.Store(NewRules(sc))
	return h
}

// Current returns the rules snapshot in effect.
func (h *RulesHolder) Current() *Rules {
	return h.current.Load()
}

// Replace swaps in a new rules snapshot. In-flight checks finish against the
// snapshot they started with.
func (h *RulesHolder) Replace(sc StorageConfig) {
	h.current.Store(NewRules(sc))
}
