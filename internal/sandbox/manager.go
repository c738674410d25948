// Package sandbox loads untrusted guest modules into isolated script-engine
// contexts and exposes each loaded module as a tool provider. Guest code
// reaches the outside world only through the three bridge functions the
// manager installs.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/werkzeug/internal/consts"
	"github.com/codefionn/werkzeug/internal/engine"
	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/registry"
)

// Options configures a Manager. Zero values fall back to the defaults in
// internal/consts.
type Options struct {
	MemoryLimitBytes int64
	LoadTimeout      time.Duration
	CallTimeout      time.Duration
	ListToolsTimeout time.Duration
	Fetcher          Fetcher
	Skills           SkillSource
	LogSink          LogSink
}

// Manager owns the collection of live sandbox instances. At most one
// instance exists per name; loading a name that is already loaded disposes
// the old instance first, so a reload always wins and there is never a
// moment where two instances for one name are live.
type Manager struct {
	mu        sync.Mutex
	backend   engine.Backend
	instances map[string]*Instance
	// nameLocks serializes Load/Unload per name so two racing loads can
	// never both insert a live context for one name.
	nameLocks map[string]*sync.Mutex

	memoryLimit int64
	loadTimeout time.Duration
	callTimeout time.Duration
	listTimeout time.Duration
	fetcher     Fetcher
	skills      SkillSource
	logSink     LogSink
}

// Instance is the live state for one loaded guest module: its execution
// context and the pausable deadline of the in-flight call, if any.
type Instance struct {
	name string
	ectx engine.Context

	mu       sync.Mutex
	deadline *execDeadline
}

func (i *Instance) setDeadline(d *execDeadline) {
	i.mu.Lock()
	i.deadline = d
	i.mu.Unlock()
}

func (i *Instance) currentDeadline() *execDeadline {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.deadline
}

// NewManager creates a sandbox manager on the given execution backend.
func NewManager(backend engine.Backend, opts Options) *Manager {
	if opts.MemoryLimitBytes <= 0 {
		opts.MemoryLimitBytes = consts.DefaultSandboxMemoryLimit
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = consts.DefaultLoadTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = consts.DefaultCallTimeout
	}
	if opts.ListToolsTimeout <= 0 {
		opts.ListToolsTimeout = consts.DefaultListToolsTimeout
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher()
	}
	if opts.Skills == nil {
		opts.Skills = noSkills{}
	}
	if opts.LogSink == nil {
		opts.LogSink = loggerSink{}
	}
	return &Manager{
		backend:     backend,
		instances:   make(map[string]*Instance),
		nameLocks:   make(map[string]*sync.Mutex),
		memoryLimit: opts.MemoryLimitBytes,
		loadTimeout: opts.LoadTimeout,
		callTimeout: opts.CallTimeout,
		listTimeout: opts.ListToolsTimeout,
		fetcher:     opts.Fetcher,
		skills:      opts.Skills,
		logSink:     opts.LogSink,
	}
}

// Load compiles and runs guest module source in a fresh isolated context and
// returns it as a provider. A compile error, runtime error or malformed
// exports shape is a load failure: the context is disposed and no provider
// is handed out, so a broken module can never end up registered.
func (m *Manager) Load(ctx context.Context, name, source string) (registry.Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("sandbox: provider name is required")
	}
	if len(source) > consts.MaxGuestSourceBytes {
		return nil, fmt.Errorf("sandbox: source for %s exceeds %d bytes", name, consts.MaxGuestSourceBytes)
	}

	// Held across unload, create and insert: two racing loads for one name
	// must resolve to exactly one live instance, with the other disposed.
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	// Loading is always replace, never stack.
	m.removeInstance(name)

	ectx, err := m.backend.CreateContext(m.memoryLimit)
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to create context for %s: %w", name, err)
	}

	inst := &Instance{name: name, ectx: ectx}
	if err := m.installBridge(ectx, name, inst); err != nil {
		disposeQuietly(inst)
		return nil, fmt.Errorf("sandbox: failed to install bridge for %s: %w", name, err)
	}

	if err := ectx.CompileAndRun(ctx, wrapModuleSource(source), m.loadTimeout); err != nil {
		disposeQuietly(inst)
		return nil, fmt.Errorf("sandbox: failed to load %s: %w", name, err)
	}

	problem, err := ectx.Eval(ctx, validateExportsExpr, m.listTimeout)
	if err != nil {
		disposeQuietly(inst)
		return nil, fmt.Errorf("sandbox: failed to validate exports of %s: %w", name, err)
	}
	if problem != "" {
		disposeQuietly(inst)
		return nil, fmt.Errorf("sandbox: invalid module %s: %s", name, problem)
	}

	m.mu.Lock()
	m.instances[name] = inst
	m.mu.Unlock()

	logger.Info("sandbox: loaded provider %s (%s backend)", name, m.backend.Name())
	return &sandboxProvider{mgr: m, inst: inst}, nil
}

// Unload disposes the named instance's context and removes it. Disposal
// panics are swallowed; a half-disposed context must not prevent cleanup.
func (m *Manager) Unload(name string) {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()
	m.removeInstance(name)
}

// nameLock returns the serialization lock for one provider name. Locks are
// never deleted; the set is bounded by the provider names ever loaded.
func (m *Manager) nameLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.nameLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.nameLocks[name] = lock
	}
	return lock
}

// removeInstance drops and disposes the named instance. Callers hold the
// name lock.
func (m *Manager) removeInstance(name string) {
	m.mu.Lock()
	inst, ok := m.instances[name]
	if ok {
		delete(m.instances, name)
	}
	m.mu.Unlock()

	if ok {
		disposeQuietly(inst)
		logger.Debug("sandbox: unloaded provider %s", name)
	}
}

// DisposeAll unloads every loaded instance.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Unload(name)
	}
}

// IsLoaded reports whether an instance with this name is live.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[name]
	return ok
}

// Loaded returns the names of all live instances.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	return names
}

func disposeQuietly(inst *Instance) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("sandbox: disposing %s panicked: %v", inst.name, r)
		}
	}()
	inst.ectx.Dispose()
}
