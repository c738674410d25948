// Package loader restores persisted providers into sandboxes at startup and
// keeps a watched script directory in sync with the registry.
package loader

import (
	"context"
	"fmt"

	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/registry"
	"github.com/codefionn/werkzeug/internal/sandbox"
	"github.com/codefionn/werkzeug/internal/store"
)

// Loader turns persisted provider code into live, registered sandboxes.
type Loader struct {
	store    *store.Store
	manager  *sandbox.Manager
	registry *registry.Registry
}

// New creates a loader over its collaborators.
func New(s *store.Store, m *sandbox.Manager, r *registry.Registry) *Loader {
	return &Loader{store: s, manager: m, registry: r}
}

// RestoreAll loads every enabled persisted provider. A provider whose code no
// longer loads is logged and skipped; one rotten module must not block
// startup. Returns the number of providers restored.
func (l *Loader) RestoreAll(ctx context.Context) (int, error) {
	records, err := l.store.ListProviders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list persisted providers: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if !rec.Enabled {
			continue
		}
		if err := l.LoadAndRegister(ctx, rec.Name, rec.Code); err != nil {
			logger.Warn("loader: skipping provider %s: %v", rec.Name, err)
			continue
		}
		restored++
	}
	return restored, nil
}

// LoadAndRegister loads source into a sandbox and swaps it into the registry.
// Protected names are refused before any context is created.
func (l *Loader) LoadAndRegister(ctx context.Context, name, code string) error {
	if l.registry.IsProtected(name) {
		return fmt.Errorf("provider name %s is reserved", name)
	}

	provider, err := l.manager.Load(ctx, name, code)
	if err != nil {
		return err
	}
	if err := l.registry.Replace(provider); err != nil {
		l.manager.Unload(name)
		return err
	}
	return nil
}

// Remove unregisters and unloads a provider. Protected names are refused.
func (l *Loader) Remove(name string) error {
	if err := l.registry.Unregister(name); err != nil {
		return err
	}
	l.manager.Unload(name)
	return nil
}
