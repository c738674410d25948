package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/codefionn/werkzeug/internal/logger"
)

// Registry is a process-wide directory of providers. It is safe for
// concurrent use; construct one per process at the composition root and pass
// it by reference.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	protected map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		protected: make(map[string]struct{}),
	}
}

// Register adds a provider under a name not yet taken. Used for the one-time
// bootstrap of core providers; a duplicate name is a caller bug and fails
// without mutating the existing entry.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("provider already registered: %s", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Replace upserts a provider. Protected names cannot be replaced.
func (r *Registry) Replace(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, isProtected := r.protected[p.Name()]; isProtected {
		return fmt.Errorf("provider is protected: %s", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Unregister removes a provider. Protected names cannot be removed; an
// absent name is a no-op.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, isProtected := r.protected[name]; isProtected {
		return fmt.Errorf("provider is protected: %s", name)
	}
	delete(r.providers, name)
	return nil
}

// Protect marks a name so it survives any dynamic reconfiguration. Applied
// out-of-band by whoever bootstraps core providers.
func (r *Registry) Protect(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protected[name] = struct{}{}
}

// IsProtected reports whether name is in the protected set.
func (r *Registry) IsProtected(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.protected[name]
	return ok
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns all registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListAllTools collects every provider's tools with qualified names.
// Providers are visited in sorted name order and each provider's own tool
// order is preserved, so the output is deterministic. A provider whose
// ListTools fails is logged and skipped; one broken provider must not hide
// the rest of the tool surface.
func (r *Registry) ListAllTools(ctx context.Context) []ToolDescriptor {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name() < providers[j].Name() })

	var all []ToolDescriptor
	for _, p := range providers {
		tools, err := p.ListTools(ctx)
		if err != nil {
			logger.Warn("provider %s: failed to list tools: %v", p.Name(), err)
			continue
		}
		for _, tool := range tools {
			tool.Name = QualifyName(p.Name(), tool.Name)
			all = append(all, tool)
		}
	}
	return all
}

// CallTool dispatches a qualified tool call to its provider. It never
// returns a Go error and never panics across the dispatch boundary: unknown
// provider, provider failure and provider panic all come back as
// error-flagged results. A single broken tool call must never crash the
// caller's request loop.
func (r *Registry) CallTool(ctx context.Context, qualifiedName string, args map[string]interface{}) (result *CallResult) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tool call %s panicked: %v", qualifiedName, rec)
			result = ErrorResult("tool call %s failed: %v", qualifiedName, rec)
		}
	}()

	providerName, toolName, ok := ParseQualifiedName(qualifiedName)
	if !ok {
		return ErrorResult("invalid tool name %q: expected <provider>%s<tool>", qualifiedName, NameSeparator)
	}

	provider, found := r.Get(providerName)
	if !found {
		return ErrorResult("unknown provider: %s", providerName)
	}

	res, err := provider.CallTool(ctx, toolName, args)
	if err != nil {
		return ErrorResult("tool %s failed: %v", qualifiedName, err)
	}
	if res == nil {
		return ErrorResult("tool %s returned no result", qualifiedName)
	}
	return res
}
