// Command werkzeug runs the tool execution engine: a registry of native and
// sandboxed tool providers behind an HTTP API with a websocket log stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codefionn/werkzeug/internal/config"
	"github.com/codefionn/werkzeug/internal/consts"
	"github.com/codefionn/werkzeug/internal/engine"
	"github.com/codefionn/werkzeug/internal/loader"
	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/pidfile"
	"github.com/codefionn/werkzeug/internal/providers"
	"github.com/codefionn/werkzeug/internal/registry"
	"github.com/codefionn/werkzeug/internal/sandbox"
	"github.com/codefionn/werkzeug/internal/store"
	"github.com/codefionn/werkzeug/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; it only provides overrides.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 0, "override listen port")
	backend := flag.String("engine", "", "script engine backend (goja or wazero)")
	watchDir := flag.String("watch", "", "hot-reload provider scripts from this directory")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error, none)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *backend != "" {
		cfg.Engine.Backend = *backend
	}
	if *watchDir != "" {
		cfg.Watch.Enabled = true
		cfg.Watch.Dir = *watchDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()
	// Library code logging through log/slog lands in the same file.
	slog.SetDefault(slog.New(logger.NewSlogHandler(logger.Global())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pf := pidfile.New(filepath.Join(cfg.DataDir, "werkzeug.pid"))
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer pf.Release()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	backendImpl, err := engine.New(ctx, cfg.Engine.Backend, engine.Options{
		WASMInterpreterPath: cfg.Engine.WASMInterpreterPath,
	})
	if err != nil {
		return err
	}
	logger.Info("Using %s execution backend", backendImpl.Name())

	hub := web.NewHub()

	manager := sandbox.NewManager(backendImpl, sandbox.Options{
		MemoryLimitBytes: int64(cfg.Engine.MemoryLimitMB) * 1024 * 1024,
		LoadTimeout:      time.Duration(cfg.Engine.LoadTimeoutSeconds) * time.Second,
		CallTimeout:      time.Duration(cfg.Engine.CallTimeoutSeconds) * time.Second,
		ListToolsTimeout: consts.DefaultListToolsTimeout,
		Skills:           st,
		LogSink:          web.NewHubLogSink(hub),
	})
	defer manager.DisposeAll()

	reg := registry.New()
	vis := registry.NewVisibilityTracker()

	// Core providers are always registered and cannot be replaced or removed.
	skillsProvider := providers.NewSkillsProvider(st)
	toolManager := providers.NewToolManagerProvider(st, manager, reg)
	for _, p := range []registry.Provider{skillsProvider, toolManager} {
		if err := reg.Register(p); err != nil {
			return fmt.Errorf("failed to register %s: %w", p.Name(), err)
		}
		reg.Protect(p.Name())
	}

	ld := loader.New(st, manager, reg)
	restored, err := ld.RestoreAll(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		logger.Info("Restored %d persisted providers", restored)
	}

	if cfg.Watch.Enabled && cfg.Watch.Dir != "" {
		watcher, err := loader.NewWatcher(ctx, ld, st, cfg.Watch.Dir)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.Watch.Dir, err)
		}
		defer watcher.Close()
		logger.Info("Watching %s for provider scripts", cfg.Watch.Dir)
	}

	addr := fmt.Sprintf("localhost:%d", cfg.Port)
	srv := web.NewServer(addr, reg, vis, manager, st, ld, hub)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return srv.Stop()
}
