package registry

import (
	"sort"
	"sync"
)

// CoreProviders are visible to every session regardless of per-session state.
var CoreProviders = []string{"skills", "toolmanager"}

// VisibilityTracker is a per-session overlay on the shared registry: it
// decides which non-core providers a session currently sees, without
// affecting the provider pool other sessions use. Visibility is advisory
// routing, not ownership: unloading a name here never disposes anything.
type VisibilityTracker struct {
	mu       sync.RWMutex
	core     map[string]struct{}
	sessions map[string]map[string]struct{}
}

// NewVisibilityTracker creates a tracker with the given always-visible core
// names, defaulting to CoreProviders.
func NewVisibilityTracker(core ...string) *VisibilityTracker {
	if len(core) == 0 {
		core = CoreProviders
	}
	coreSet := make(map[string]struct{}, len(core))
	for _, name := range core {
		coreSet[name] = struct{}{}
	}
	return &VisibilityTracker{
		core:     coreSet,
		sessions: make(map[string]map[string]struct{}),
	}
}

// Load marks a provider visible for a session, creating the session's set on
// first use.
func (t *VisibilityTracker) Load(sessionID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.sessions[sessionID]
	if !ok {
		set = make(map[string]struct{})
		t.sessions[sessionID] = set
	}
	set[name] = struct{}{}
}

// Unload removes a provider from a session's visible set.
func (t *VisibilityTracker) Unload(sessionID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.sessions[sessionID]; ok {
		delete(set, name)
	}
}

// IsVisible reports whether a session sees the named provider.
func (t *VisibilityTracker) IsVisible(sessionID, name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.core[name]; ok {
		return true
	}
	if set, ok := t.sessions[sessionID]; ok {
		_, visible := set[name]
		return visible
	}
	return false
}

// Visible returns the sorted union of the core set and the session's set.
func (t *VisibilityTracker) Visible(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.core))
	for name := range t.core {
		names = append(names, name)
	}
	for name := range t.sessions[sessionID] {
		if _, isCore := t.core[name]; !isCore {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Cleanup deletes a session's set entirely. Called when a session ends.
func (t *VisibilityTracker) Cleanup(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}
