package lifecycle

import (
	"strings"
	"sync"
)

// LegacyEntry is a page-scoped registration made by older tools that
// predate module exports.
type LegacyEntry struct {
	Mount   MountFunc
	RunTool RunToolFunc
}

// LegacyRegistry holds legacy entries keyed by tool id.
type LegacyRegistry struct {
	mu      sync.RWMutex
	entries map[string]LegacyEntry
}

var (
	defaultLegacy     *LegacyRegistry
	defaultLegacyOnce sync.Once
)

// DefaultLegacy returns the process-wide legacy registry.
func DefaultLegacy() *LegacyRegistry {
	defaultLegacyOnce.Do(func() {
		defaultLegacy = NewLegacyRegistry()
	})
	return defaultLegacy
}

// NewLegacyRegistry creates an empty registry.
func NewLegacyRegistry() *LegacyRegistry {
	return &LegacyRegistry{entries: make(map[string]LegacyEntry)}
}

// Register stores entry under toolID, replacing any previous entry.
func (r *LegacyRegistry) Register(toolID string, entry LegacyEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[strings.TrimSpace(toolID)] = entry
}

// Lookup returns the entry for toolID.
func (r *LegacyRegistry) Lookup(toolID string) (LegacyEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.TrimSpace(toolID)]
	return e, ok
}

// Unregister removes toolID's entry.
func (r *LegacyRegistry) Unregister(toolID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, strings.TrimSpace(toolID))
}

// ResetForTesting removes every entry.
func (r *LegacyRegistry) ResetForTesting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]LegacyEntry)
}
