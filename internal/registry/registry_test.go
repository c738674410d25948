package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     string
	tools    []ToolDescriptor
	listErr  error
	callFunc func(ctx context.Context, tool string, args map[string]interface{}) (*CallResult, error)
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.tools, nil
}

func (p *fakeProvider) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*CallResult, error) {
	if p.callFunc != nil {
		return p.callFunc(ctx, tool, args)
	}
	return TextResult("ok"), nil
}

func TestParseQualifiedName_SplitsOnFirstSeparator(t *testing.T) {
	provider, tool, ok := ParseQualifiedName("weather__get__forecast")
	require.True(t, ok)
	assert.Equal(t, "weather", provider)
	assert.Equal(t, "get__forecast", tool)
}

func TestParseQualifiedName_NoSeparator(t *testing.T) {
	_, _, ok := ParseQualifiedName("plainname")
	assert.False(t, ok)
}

func TestRegister_DuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{name: "a"}))
	err := r.Register(&fakeProvider{name: "a"})
	assert.Error(t, err)
}

func TestReplace_ProtectedFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{name: "skills"}))
	r.Protect("skills")

	err := r.Replace(&fakeProvider{name: "skills"})
	assert.Error(t, err)

	// Unprotected names replace freely.
	require.NoError(t, r.Register(&fakeProvider{name: "weather"}))
	assert.NoError(t, r.Replace(&fakeProvider{name: "weather"}))
}

func TestUnregister_ProtectedFailsAbsentIsNoop(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{name: "skills"}))
	r.Protect("skills")

	assert.Error(t, r.Unregister("skills"))
	assert.NoError(t, r.Unregister("never-registered"))
}

func TestListAllTools_SortedAndQualified(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{
		name:  "zebra",
		tools: []ToolDescriptor{{Name: "run"}},
	}))
	require.NoError(t, r.Register(&fakeProvider{
		name:  "alpha",
		tools: []ToolDescriptor{{Name: "second"}, {Name: "first"}},
	}))

	tools := r.ListAllTools(context.Background())
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha__second", tools[0].Name)
	assert.Equal(t, "alpha__first", tools[1].Name)
	assert.Equal(t, "zebra__run", tools[2].Name)
}

func TestListAllTools_SkipsFailingProvider(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{name: "broken", listErr: errors.New("boom")}))
	require.NoError(t, r.Register(&fakeProvider{
		name:  "healthy",
		tools: []ToolDescriptor{{Name: "ping"}},
	}))

	tools := r.ListAllTools(context.Background())
	require.Len(t, tools, 1)
	assert.Equal(t, "healthy__ping", tools[0].Name)
}

func TestCallTool_Success(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{
		name: "echo",
		callFunc: func(_ context.Context, tool string, args map[string]interface{}) (*CallResult, error) {
			assert.Equal(t, "say", tool)
			return TextResult(args["text"].(string)), nil
		},
	}))

	result := r.CallTool(context.Background(), "echo__say", map[string]interface{}{"text": "hello"})
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello", result.Content[0].Text)
}

func TestCallTool_InvalidNameReturnsErrorResult(t *testing.T) {
	r := New()
	result := r.CallTool(context.Background(), "noseparator", nil)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestCallTool_UnknownProviderReturnsErrorResult(t *testing.T) {
	r := New()
	result := r.CallTool(context.Background(), "ghost__tool", nil)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "unknown provider")
}

func TestCallTool_ProviderErrorReturnsErrorResult(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{
		name: "flaky",
		callFunc: func(context.Context, string, map[string]interface{}) (*CallResult, error) {
			return nil, errors.New("network down")
		},
	}))

	result := r.CallTool(context.Background(), "flaky__op", nil)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "network down")
}

func TestCallTool_ProviderPanicReturnsErrorResult(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{
		name: "panicky",
		callFunc: func(context.Context, string, map[string]interface{}) (*CallResult, error) {
			panic("unexpected state")
		},
	}))

	result := r.CallTool(context.Background(), "panicky__op", nil)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestCallTool_NilResultReturnsErrorResult(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeProvider{
		name: "empty",
		callFunc: func(context.Context, string, map[string]interface{}) (*CallResult, error) {
			return nil, nil
		},
	}))

	result := r.CallTool(context.Background(), "empty__op", nil)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}
