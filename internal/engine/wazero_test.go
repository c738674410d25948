package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full wazero coverage needs a JS interpreter compiled to WASI; point
// WERKZEUG_TEST_WASM_INTERPRETER at one to run the integration cases.
func wazeroInterpreterPath(t *testing.T) string {
	t.Helper()
	path := os.Getenv("WERKZEUG_TEST_WASM_INTERPRETER")
	if path == "" {
		t.Skip("WERKZEUG_TEST_WASM_INTERPRETER not set")
	}
	return path
}

func TestNewWazeroBackend_RequiresPath(t *testing.T) {
	_, err := NewWazeroBackend(context.Background(), "")
	assert.Error(t, err)
}

func TestNewWazeroBackend_MissingFile(t *testing.T) {
	_, err := NewWazeroBackend(context.Background(), "/does/not/exist.wasm")
	assert.Error(t, err)
}

func TestWazeroContext_InstallAfterRunFails(t *testing.T) {
	path := wazeroInterpreterPath(t)
	b, err := NewWazeroBackend(context.Background(), path)
	require.NoError(t, err)

	ectx, err := b.CreateContext(0)
	require.NoError(t, err)
	defer ectx.Dispose()

	_, err = ectx.Eval(context.Background(), "1 + 1", 10*time.Second)
	require.NoError(t, err)

	err = ectx.InstallHostFunction("late", func(context.Context, []string) (string, error) {
		return "", nil
	}, HostFunctionOptions{})
	assert.Error(t, err)
}

func TestWazeroEval_SimpleExpression(t *testing.T) {
	path := wazeroInterpreterPath(t)
	b, err := NewWazeroBackend(context.Background(), path)
	require.NoError(t, err)

	ectx, err := b.CreateContext(0)
	require.NoError(t, err)
	defer ectx.Dispose()

	out, err := ectx.Eval(context.Background(), "1 + 2", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3", out)
}

func TestWazeroEval_InfiniteLoopHitsDeadline(t *testing.T) {
	path := wazeroInterpreterPath(t)
	b, err := NewWazeroBackend(context.Background(), path)
	require.NoError(t, err)

	ectx, err := b.CreateContext(0)
	require.NoError(t, err)
	defer ectx.Dispose()

	_, err = ectx.Eval(context.Background(), "for(;;){}", 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWazeroDispose_Idempotent(t *testing.T) {
	b := &WazeroBackend{wasm: []byte("\x00asm\x01\x00\x00\x00")}
	ectx, err := b.CreateContext(0)
	require.NoError(t, err)
	ectx.Dispose()
	ectx.Dispose()

	_, err = ectx.Eval(context.Background(), "1", time.Second)
	assert.ErrorIs(t, err, ErrDisposed)
}
