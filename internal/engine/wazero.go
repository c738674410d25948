package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/codefionn/werkzeug/internal/consts"
	"github.com/codefionn/werkzeug/internal/logger"
)

const wasmPageSize = 65536

// WazeroBackend runs guest code on a JavaScript interpreter compiled to WASI,
// executed inside a wazero runtime. Unlike the goja backend it enforces a
// hard memory ceiling: the interpreter's linear memory cannot grow past the
// configured page limit, and exceeding it traps only the owning context.
//
// The interpreter module must export the following ABI:
//
//	ws_alloc(size u32) -> ptr u32
//	ws_free(ptr u32, size u32)
//	ws_eval(src_ptr u32, src_len u32) -> status u32   (0 ok, 1 guest error)
//	ws_result_ptr() -> u32
//	ws_result_len() -> u32
//
// ws_eval runs the interpreter's job queue to completion before returning,
// so promise-valued results are already settled when the host reads them.
// Host bridge functions are imported from module "env" with a uniform
// (args_ptr, args_len, resp_ptr, resp_cap) -> i32 signature where args is a
// JSON array of strings and the return value is the response length, or -1
// when the host call failed.
type WazeroBackend struct {
	wasm []byte
}

// NewWazeroBackend loads the interpreter module from interpreterPath.
func NewWazeroBackend(ctx context.Context, interpreterPath string) (*WazeroBackend, error) {
	if interpreterPath == "" {
		return nil, errors.New("engine: wazero backend requires an interpreter module path")
	}
	wasm, err := os.ReadFile(interpreterPath)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to read interpreter module: %w", err)
	}
	return &WazeroBackend{wasm: wasm}, nil
}

// Name returns the backend identifier.
func (b *WazeroBackend) Name() string { return "wazero" }

// CreateContext allocates a wazero runtime with a hard memory page limit.
// The interpreter is compiled and instantiated lazily on first run so host
// functions registered after creation still end up in the import namespace.
func (b *WazeroBackend) CreateContext(memoryLimitBytes int64) (Context, error) {
	if memoryLimitBytes <= 0 {
		memoryLimitBytes = consts.DefaultSandboxMemoryLimit
	}
	pages := uint32((memoryLimitBytes + wasmPageSize - 1) / wasmPageSize)

	rt := wazero.NewRuntimeWithConfig(context.Background(),
		wazero.NewRuntimeConfig().
			WithCloseOnContextDone(true).
			WithMemoryLimitPages(pages),
	)
	return &wazeroContext{
		backend: b,
		runtime: rt,
	}, nil
}

type hostFnEntry struct {
	name string
	fn   HostFunc
}

type wazeroContext struct {
	mu       sync.Mutex
	backend  *WazeroBackend
	runtime  wazero.Runtime
	mod      api.Module
	hostFns  []hostFnEntry
	disposed bool
}

func (c *wazeroContext) InstallHostFunction(name string, fn HostFunc, _ HostFunctionOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.mod != nil {
		return errors.New("engine: host functions must be installed before the first run")
	}
	c.hostFns = append(c.hostFns, hostFnEntry{name: name, fn: fn})
	return nil
}

// instantiate builds the env host module, instantiates WASI and the
// interpreter. Called once, under c.mu.
func (c *wazeroContext) instantiate(ctx context.Context) error {
	envBuilder := c.runtime.NewHostModuleBuilder("env")
	for _, entry := range c.hostFns {
		fn := entry.fn
		name := entry.name
		envBuilder.NewFunctionBuilder().
			WithFunc(func(ctx context.Context, m api.Module, argsPtr, argsLen, respPtr, respCap uint32) int32 {
				return c.dispatchHostCall(ctx, m, name, fn, argsPtr, argsLen, respPtr, respCap)
			}).
			Export(name)
	}
	if _, err := envBuilder.Instantiate(ctx); err != nil {
		return fmt.Errorf("engine: failed to instantiate host functions: %w", err)
	}

	wasi_snapshot_preview1.MustInstantiate(ctx, c.runtime)

	compiled, err := c.runtime.CompileModule(ctx, c.backend.wasm)
	if err != nil {
		return fmt.Errorf("engine: failed to compile interpreter module: %w", err)
	}

	// Reactor-style module: skip _start, run _initialize if present.
	mod, err := c.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().
			WithName("interpreter").
			WithStartFunctions().
			WithSysWalltime().
			WithSysNanotime(),
	)
	if err != nil {
		return fmt.Errorf("engine: failed to instantiate interpreter module: %w", err)
	}
	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return fmt.Errorf("engine: interpreter initialization failed: %w", err)
		}
	}
	c.mod = mod
	return nil
}

// dispatchHostCall decodes a guest bridge invocation, runs the host function
// and copies the response into guest memory, truncated at respCap.
func (c *wazeroContext) dispatchHostCall(ctx context.Context, m api.Module, name string, fn HostFunc, argsPtr, argsLen, respPtr, respCap uint32) int32 {
	memory := m.Memory()
	argBytes, ok := memory.Read(argsPtr, argsLen)
	if !ok {
		return -1
	}
	var args []string
	if err := json.Unmarshal(argBytes, &args); err != nil {
		logger.Debug("wazero host call %s: bad argument payload: %v", name, err)
		return -1
	}

	res, err := fn(ctx, args)
	if err != nil {
		logger.Debug("wazero host call %s failed: %v", name, err)
		return -1
	}

	resBytes := []byte(res)
	if uint32(len(resBytes)) > respCap {
		resBytes = resBytes[:respCap]
	}
	if len(resBytes) > 0 && !memory.Write(respPtr, resBytes) {
		return -1
	}
	return int32(len(resBytes))
}

func (c *wazeroContext) CompileAndRun(ctx context.Context, source string, timeout time.Duration) error {
	_, err := c.eval(ctx, source, timeout)
	return err
}

func (c *wazeroContext) Eval(ctx context.Context, code string, timeout time.Duration) (string, error) {
	return c.eval(ctx, code, timeout)
}

func (c *wazeroContext) eval(ctx context.Context, source string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return "", ErrDisposed
	}
	if c.mod == nil {
		if err := c.instantiate(ctx); err != nil {
			return "", err
		}
	}

	if timeout <= 0 {
		timeout = consts.DefaultCallTimeout
	}
	// The runtime is configured WithCloseOnContextDone: deadline expiry
	// closes the module mid-execution, which leaves the context unusable.
	// That matches the engine-error contract; callers unload on timeout.
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	src := []byte(source)
	ptr, err := c.guestAlloc(runCtx, uint32(len(src)))
	if err != nil {
		return "", err
	}
	if !c.mod.Memory().Write(ptr, src) {
		return "", errors.New("engine: failed to copy source into guest memory")
	}
	defer c.guestFree(context.WithoutCancel(runCtx), ptr, uint32(len(src)))

	status, err := c.call(runCtx, "ws_eval", uint64(ptr), uint64(len(src)))
	if err != nil {
		return "", c.classify(runCtx, err)
	}

	out, err := c.readResult(runCtx)
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", &GuestError{Message: out}
	}
	return out, nil
}

func (c *wazeroContext) guestAlloc(ctx context.Context, size uint32) (uint32, error) {
	ret, err := c.call(ctx, "ws_alloc", uint64(size))
	if err != nil {
		return 0, fmt.Errorf("engine: guest allocation failed: %w", err)
	}
	return uint32(ret), nil
}

func (c *wazeroContext) guestFree(ctx context.Context, ptr, size uint32) {
	if _, err := c.call(ctx, "ws_free", uint64(ptr), uint64(size)); err != nil {
		logger.Debug("guest free failed: %v", err)
	}
}

func (c *wazeroContext) readResult(ctx context.Context) (string, error) {
	ptr, err := c.call(ctx, "ws_result_ptr")
	if err != nil {
		return "", fmt.Errorf("engine: failed to locate result: %w", err)
	}
	length, err := c.call(ctx, "ws_result_len")
	if err != nil {
		return "", fmt.Errorf("engine: failed to size result: %w", err)
	}
	if length == 0 {
		return "", nil
	}
	out, ok := c.mod.Memory().Read(uint32(ptr), uint32(length))
	if !ok {
		return "", errors.New("engine: failed to read result from guest memory")
	}
	return string(out), nil
}

func (c *wazeroContext) call(ctx context.Context, name string, params ...uint64) (uint64, error) {
	fn := c.mod.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("engine: interpreter does not export %s", name)
	}
	ret, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	if len(ret) == 0 {
		return 0, nil
	}
	return ret[0], nil
}

func (c *wazeroContext) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrTimeout
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("engine: interpreter exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("engine: %w", err)
}

func (c *wazeroContext) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	if err := c.runtime.Close(context.Background()); err != nil {
		logger.Debug("wazero runtime close: %v", err)
	}
}
