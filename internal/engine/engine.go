// Package engine defines the execution backend contract for running untrusted
// guest scripts, together with two implementations: a pure-Go JavaScript
// engine (goja) and a WASM-compiled interpreter (wazero).
//
// A backend creates isolated contexts with a memory ceiling, installs host
// bridge functions into the guest global scope, and evaluates guest code
// under a deadline. Only strings cross the boundary between host and guest;
// no live references ever escape a context.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HostFunc is a host-implemented function exposed to guest code. Arguments
// and result are strings; structured data is JSON-encoded by the caller.
type HostFunc func(ctx context.Context, args []string) (string, error)

// HostFunctionOptions configures how a host function is exposed to the guest.
type HostFunctionOptions struct {
	// Async marks functions that perform host-side I/O. Guest execution
	// suspends at the call site and resumes with the result; in both
	// backends this is realized as a blocking host call, which gives the
	// same observable behavior without a guest-visible event loop.
	Async bool
}

// Context is an isolated guest evaluation environment.
//
// A context is logically single-threaded: calls into CompileAndRun and Eval
// are serialized by the implementation. After Dispose, all operations fail
// with ErrDisposed.
type Context interface {
	// InstallHostFunction binds fn into the guest global scope under name.
	// Must be called before CompileAndRun.
	InstallHostFunction(name string, fn HostFunc, opts HostFunctionOptions) error

	// CompileAndRun compiles and executes top-level guest source. The
	// deadline is enforced via the engine's interrupt mechanism: guest code
	// that never yields is interrupted within finitely many engine steps.
	CompileAndRun(ctx context.Context, source string, timeout time.Duration) error

	// Eval evaluates a guest expression and copies the result out of the
	// context as a string. If the expression produces a promise, the backend
	// settles it before returning; a rejection surfaces as *GuestError.
	Eval(ctx context.Context, code string, timeout time.Duration) (string, error)

	// Dispose releases all engine resources. Idempotent.
	Dispose()
}

// Backend creates isolated guest contexts.
type Backend interface {
	Name() string
	// CreateContext allocates an isolated evaluation environment. Exceeding
	// memoryLimitBytes terminates only that context, never the host process.
	CreateContext(memoryLimitBytes int64) (Context, error)
}

// Options configures backend construction.
type Options struct {
	// WASMInterpreterPath points at a JavaScript interpreter compiled to
	// WASI. Required for the wazero backend.
	WASMInterpreterPath string
}

// New constructs the backend selected by name ("goja" or "wazero").
func New(ctx context.Context, name string, opts Options) (Backend, error) {
	switch name {
	case "", "goja":
		return NewGojaBackend(), nil
	case "wazero":
		return NewWazeroBackend(ctx, opts.WASMInterpreterPath)
	default:
		return nil, fmt.Errorf("engine: unknown backend %q", name)
	}
}

// ErrTimeout is returned when guest execution exceeds its deadline.
var ErrTimeout = errors.New("engine: execution deadline exceeded")

// ErrDisposed is returned when operating on a disposed context.
var ErrDisposed = errors.New("engine: context disposed")

// CompileError reports guest source that failed to compile.
type CompileError struct {
	Message string
}

func (e *CompileError) Error() string {
	return "engine: compile error: " + e.Message
}

// GuestError carries an error the guest itself raised (a thrown exception or
// a rejected promise). The message is guest-controlled text.
type GuestError struct {
	Message string
}

func (e *GuestError) Error() string {
	return "guest error: " + e.Message
}

// IsGuestError reports whether err originates from guest code and extracts
// the guest-reported message.
func IsGuestError(err error) (string, bool) {
	var ge *GuestError
	if errors.As(err, &ge) {
		return ge.Message, true
	}
	return "", false
}
