// Package registry aggregates tool providers behind a single namespaced call
// surface. Providers expose tools under their own name; the registry
// qualifies tool names as "<provider>__<tool>" and dispatches calls back to
// the owning provider.
package registry

import (
	"context"
	"fmt"
	"strings"
)

// NameSeparator joins a provider name and a tool name into a qualified name.
// Neither side may rely on this sequence being meaningful within a name.
const NameSeparator = "__"

// ToolDescriptor describes a single callable tool. Descriptors returned by a
// provider's ListTools carry unqualified names; ListAllTools qualifies them.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ContentPart is one element of a tool result.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the outcome of a tool call. Failures are marked with IsError
// instead of an error return, so they stay representable as agent-visible
// text.
type CallResult struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// TextResult builds a successful single-text-part result.
func TextResult(text string) *CallResult {
	return &CallResult{Content: []ContentPart{{Type: "text", Text: text}}}
}

// ErrorResult builds an error-flagged result with a formatted message.
func ErrorResult(format string, args ...interface{}) *CallResult {
	return &CallResult{
		Content: []ContentPart{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// Provider is the uniform tool-exposing contract. Native providers implement
// it directly in trusted code; sandboxed providers are backed by a guest
// context. The registry does not care which.
type Provider interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error)
}

// QualifyName prefixes a tool name with its owning provider.
func QualifyName(provider, tool string) string {
	return provider + NameSeparator + tool
}

// ParseQualifiedName splits a qualified name on the first separator
// occurrence. ok is false when the name carries no separator.
func ParseQualifiedName(qualified string) (provider, tool string, ok bool) {
	idx := strings.Index(qualified, NameSeparator)
	if idx < 0 {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+len(NameSeparator):], true
}
