package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/codefionn/werkzeug/internal/consts"
	"github.com/codefionn/werkzeug/internal/logger"
)

// GojaBackend runs guest code on dop251/goja, a pure-Go JavaScript engine.
// Each context owns its own goja.Runtime, so guest globals never leak across
// contexts. Deadlines are enforced through the engine's interrupt mechanism.
//
// goja offers no hard per-runtime memory ceiling; the limit passed to
// CreateContext is recorded and recursion depth is capped, but the hard
// ceiling is only enforced by the wazero backend.
type GojaBackend struct{}

// NewGojaBackend creates the goja execution backend.
func NewGojaBackend() *GojaBackend {
	return &GojaBackend{}
}

// Name returns the backend identifier.
func (b *GojaBackend) Name() string { return "goja" }

// CreateContext allocates a fresh goja runtime.
func (b *GojaBackend) CreateContext(memoryLimitBytes int64) (Context, error) {
	if memoryLimitBytes <= 0 {
		memoryLimitBytes = consts.DefaultSandboxMemoryLimit
	}
	vm := goja.New()
	vm.SetMaxCallStackSize(consts.MaxGuestCallStackDepth)
	return &gojaContext{
		vm:          vm,
		memoryLimit: memoryLimitBytes,
	}, nil
}

type gojaContext struct {
	// evalMu serializes guest evaluations; a goja runtime is not safe for
	// concurrent use.
	evalMu sync.Mutex

	mu          sync.Mutex
	vm          *goja.Runtime
	memoryLimit int64
	disposed    bool
	evalGen     uint64
	evalActive  bool

	// callCtx is the host context of the in-flight evaluation; host
	// functions installed into the runtime pick it up from here.
	callCtx context.Context
}

// interruptReason is the sentinel passed to vm.Interrupt so timeouts can be
// told apart from other interrupts.
type interruptReason struct{ timeout bool }

func (c *gojaContext) InstallHostFunction(name string, fn HostFunc, _ HostFunctionOptions) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	vm := c.vm
	c.mu.Unlock()

	return vm.Set(name, func(call goja.FunctionCall) goja.Value {
		args := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			if goja.IsUndefined(a) || goja.IsNull(a) {
				args = append(args, "")
				continue
			}
			args = append(args, a.String())
		}
		res, err := fn(c.hostCtx(), args)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(res)
	})
}

func (c *gojaContext) CompileAndRun(ctx context.Context, source string, timeout time.Duration) error {
	prog, err := goja.Compile("guest.js", source, true)
	if err != nil {
		return &CompileError{Message: err.Error()}
	}
	_, err = c.evaluate(ctx, timeout, func() (goja.Value, error) {
		return c.vm.RunProgram(prog)
	})
	return err
}

func (c *gojaContext) Eval(ctx context.Context, code string, timeout time.Duration) (string, error) {
	v, err := c.evaluate(ctx, timeout, func() (goja.Value, error) {
		return c.vm.RunString(code)
	})
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// evaluate runs f on the guest runtime under a deadline. A watchdog arms the
// engine interrupt when the deadline or the host context expires; goja
// consults the interrupt flag between instructions, so a runaway loop is
// bounded by wall-clock time.
func (c *gojaContext) evaluate(ctx context.Context, timeout time.Duration, f func() (goja.Value, error)) (goja.Value, error) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	c.evalGen++
	gen := c.evalGen
	c.evalActive = true
	c.callCtx = ctx
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = consts.DefaultCallTimeout
	}

	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			c.interruptEval(gen)
		case <-ctx.Done():
			c.interruptEval(gen)
		}
	}()

	v, err := f()

	c.mu.Lock()
	c.evalActive = false
	c.callCtx = nil
	timedOut := c.evalGen != gen // interruptEval bumps the generation
	c.mu.Unlock()
	close(done)
	c.vm.ClearInterrupt()

	if err != nil {
		return nil, c.classify(err, timedOut)
	}

	// Settle a promise result. goja drains its job queue once the call
	// stack empties, so promise chains backed by synchronous host bridge
	// calls are settled by the time f returns.
	if v != nil {
		if p, ok := v.Export().(*goja.Promise); ok {
			switch p.State() {
			case goja.PromiseStateFulfilled:
				return p.Result(), nil
			case goja.PromiseStateRejected:
				return nil, &GuestError{Message: promiseRejectionText(p.Result())}
			default:
				return nil, fmt.Errorf("engine: guest promise did not settle; " +
					"the guest awaits something the backend does not provide")
			}
		}
	}
	return v, nil
}

// interruptEval fires the engine interrupt for the evaluation identified by
// gen. Bumping the generation marks the timeout and keeps a late watchdog
// from interrupting a subsequent evaluation.
func (c *gojaContext) interruptEval(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.evalActive || c.evalGen != gen {
		return
	}
	c.evalGen++
	c.vm.Interrupt(&interruptReason{timeout: true})
}

func (c *gojaContext) classify(err error, timedOut bool) error {
	if intr, ok := err.(*goja.InterruptedError); ok {
		if r, ok := intr.Value().(*interruptReason); (ok && r.timeout) || timedOut {
			return ErrTimeout
		}
		return fmt.Errorf("engine: interrupted: %v", intr.Value())
	}
	if ex, ok := err.(*goja.Exception); ok {
		return &GuestError{Message: ex.Value().String()}
	}
	if timedOut {
		return ErrTimeout
	}
	return fmt.Errorf("engine: %w", err)
}

func (c *gojaContext) hostCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callCtx != nil {
		return c.callCtx
	}
	return context.Background()
}

func (c *gojaContext) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.evalGen++
	vm := c.vm
	c.mu.Unlock()

	// Kick any in-flight evaluation off the runtime.
	vm.Interrupt(&interruptReason{})
	logger.Debug("goja context disposed")
}

func promiseRejectionText(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "promise rejected"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) {
			return msg.String()
		}
	}
	return v.String()
}
