package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGojaContext(t *testing.T) Context {
	t.Helper()
	ectx, err := NewGojaBackend().CreateContext(0)
	require.NoError(t, err)
	t.Cleanup(ectx.Dispose)
	return ectx
}

func TestGojaEval_SimpleExpression(t *testing.T) {
	ectx := newGojaContext(t)
	out, err := ectx.Eval(context.Background(), "1 + 2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3", out)
}

func TestGojaEval_UndefinedIsEmptyString(t *testing.T) {
	ectx := newGojaContext(t)
	out, err := ectx.Eval(context.Background(), "undefined", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestGojaCompileAndRun_SyntaxErrorIsCompileError(t *testing.T) {
	ectx := newGojaContext(t)
	err := ectx.CompileAndRun(context.Background(), "function {", time.Second)
	var ce *CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestGojaEval_ThrownExceptionIsGuestError(t *testing.T) {
	ectx := newGojaContext(t)
	_, err := ectx.Eval(context.Background(), `throw new Error("broken tool")`, time.Second)
	msg, ok := IsGuestError(err)
	require.True(t, ok)
	assert.Contains(t, msg, "broken tool")
}

func TestGojaEval_InfiniteLoopHitsDeadline(t *testing.T) {
	ectx := newGojaContext(t)
	start := time.Now()
	_, err := ectx.Eval(context.Background(), "for(;;){}", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGojaEval_ContextStaysResponsiveAfterTimeout(t *testing.T) {
	ectx := newGojaContext(t)
	_, err := ectx.Eval(context.Background(), "for(;;){}", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	out, err := ectx.Eval(context.Background(), "40 + 2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestGojaEval_CanceledHostContextInterrupts(t *testing.T) {
	ectx := newGojaContext(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := ectx.Eval(ctx, "for(;;){}", 10*time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGojaHostFunction_SyncRoundTrip(t *testing.T) {
	ectx := newGojaContext(t)
	require.NoError(t, ectx.InstallHostFunction("host_echo", func(_ context.Context, args []string) (string, error) {
		return "echo:" + args[0], nil
	}, HostFunctionOptions{}))

	out, err := ectx.Eval(context.Background(), `host_echo("hi")`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)
}

func TestGojaHostFunction_ErrorBecomesGuestException(t *testing.T) {
	ectx := newGojaContext(t)
	require.NoError(t, ectx.InstallHostFunction("host_fail", func(context.Context, []string) (string, error) {
		return "", errors.New("no network")
	}, HostFunctionOptions{}))

	out, err := ectx.Eval(context.Background(), `
		(function() {
			try {
				host_fail();
				return "unreachable";
			} catch (e) {
				return "caught";
			}
		})()
	`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "caught", out)
}

func TestGojaEval_PromiseChainSettles(t *testing.T) {
	ectx := newGojaContext(t)
	require.NoError(t, ectx.InstallHostFunction("host_fetch", func(context.Context, []string) (string, error) {
		return `{"ok":true}`, nil
	}, HostFunctionOptions{Async: true}))

	out, err := ectx.Eval(context.Background(), `
		Promise.resolve()
			.then(() => host_fetch("https://example.com"))
			.then(body => JSON.parse(body).ok ? "yes" : "no")
	`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
}

func TestGojaEval_RejectedPromiseIsGuestError(t *testing.T) {
	ectx := newGojaContext(t)
	_, err := ectx.Eval(context.Background(),
		`Promise.reject(new Error("guest refused"))`, time.Second)
	msg, ok := IsGuestError(err)
	require.True(t, ok)
	assert.Contains(t, msg, "guest refused")
}

func TestGojaContext_StateSurvivesAcrossEvals(t *testing.T) {
	ectx := newGojaContext(t)
	require.NoError(t, ectx.CompileAndRun(context.Background(), "globalThis.counter = 10;", time.Second))
	out, err := ectx.Eval(context.Background(), "++globalThis.counter", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "11", out)
}

func TestGojaContexts_AreIsolated(t *testing.T) {
	a := newGojaContext(t)
	b := newGojaContext(t)

	require.NoError(t, a.CompileAndRun(context.Background(), "globalThis.secret = 'a-only';", time.Second))
	out, err := b.Eval(context.Background(), "typeof globalThis.secret", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "undefined", out)
}

func TestGojaDispose_Idempotent(t *testing.T) {
	ectx, err := NewGojaBackend().CreateContext(0)
	require.NoError(t, err)
	ectx.Dispose()
	ectx.Dispose()

	_, err = ectx.Eval(context.Background(), "1", time.Second)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestGojaEval_DeepRecursionFailsWithoutKillingContext(t *testing.T) {
	ectx := newGojaContext(t)
	_, err := ectx.Eval(context.Background(), `
		(function blow(n) { return blow(n + 1); })(0)
	`, 5*time.Second)
	require.Error(t, err)

	out, err := ectx.Eval(context.Background(), "1 + 1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}

func TestEngineNew_SelectsBackend(t *testing.T) {
	b, err := New(context.Background(), "goja", Options{})
	require.NoError(t, err)
	assert.Equal(t, "goja", b.Name())

	_, err = New(context.Background(), "quickjs", Options{})
	assert.Error(t, err)
}
