package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/codefionn/werkzeug/internal/registry"
	"github.com/codefionn/werkzeug/internal/sandbox"
	"github.com/codefionn/werkzeug/internal/store"
)

// ToolManagerProvider lets agents create, remove and inspect dynamically
// loaded tool providers. Creating a tool persists the source, loads it into a
// fresh sandbox and registers it; the whole chain either succeeds or leaves
// the registry untouched.
type ToolManagerProvider struct {
	store    *store.Store
	manager  *sandbox.Manager
	registry *registry.Registry
}

// NewToolManagerProvider wires the toolmanager over its three collaborators.
func NewToolManagerProvider(s *store.Store, m *sandbox.Manager, r *registry.Registry) *ToolManagerProvider {
	return &ToolManagerProvider{store: s, manager: m, registry: r}
}

func (p *ToolManagerProvider) Name() string { return "toolmanager" }

func (p *ToolManagerProvider) ListTools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	return []registry.ToolDescriptor{
		{
			Name:        "create_tool",
			Description: "Create or replace a tool provider from JavaScript source. The module must export a tools array and a callTool function.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Provider name; tools become callable as name__tool",
					},
					"code": map[string]interface{}{
						"type":        "string",
						"description": "JavaScript module source",
					},
				},
				"required": []string{"name", "code"},
			},
		},
		{
			Name:        "remove_tool",
			Description: "Unload and disable a dynamically created tool provider.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Provider name to remove",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "list_dynamic_tools",
			Description: "List dynamically created tool providers and their load state.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}, nil
}

func (p *ToolManagerProvider) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (*registry.CallResult, error) {
	switch toolName {
	case "create_tool":
		return p.createTool(ctx, args)
	case "remove_tool":
		return p.removeTool(ctx, args)
	case "list_dynamic_tools":
		return p.listDynamicTools(ctx)
	default:
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}
}

func (p *ToolManagerProvider) createTool(ctx context.Context, args map[string]interface{}) (*registry.CallResult, error) {
	name := stringArg(args, "name")
	code := stringArg(args, "code")
	if name == "" || code == "" {
		return registry.ErrorResult("create_tool requires name and code arguments"), nil
	}
	if strings.Contains(name, registry.NameSeparator) {
		return registry.ErrorResult("provider name must not contain %q", registry.NameSeparator), nil
	}
	if p.registry.IsProtected(name) {
		return registry.ErrorResult("provider name %s is reserved", name), nil
	}

	// Load before persisting enabled state, so broken code never survives a
	// restart as an enabled provider.
	provider, err := p.manager.Load(ctx, name, code)
	if err != nil {
		return registry.ErrorResult("failed to load tool code: %v", err), nil
	}

	if _, err := p.store.SaveProvider(ctx, name, code); err != nil {
		p.manager.Unload(name)
		return nil, fmt.Errorf("failed to persist provider %s: %w", name, err)
	}
	if err := p.store.SetProviderEnabled(ctx, name, true); err != nil {
		p.manager.Unload(name)
		return nil, fmt.Errorf("failed to enable provider %s: %w", name, err)
	}

	if err := p.registry.Replace(provider); err != nil {
		p.manager.Unload(name)
		return registry.ErrorResult("failed to register provider: %v", err), nil
	}

	tools, err := provider.ListTools(ctx)
	if err != nil {
		return registry.TextResult(fmt.Sprintf("Created provider %s (tool listing failed: %v)", name, err)), nil
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = registry.QualifyName(name, t.Name)
	}
	return registry.TextResult(fmt.Sprintf("Created provider %s with tools: %s", name, strings.Join(names, ", "))), nil
}

func (p *ToolManagerProvider) removeTool(ctx context.Context, args map[string]interface{}) (*registry.CallResult, error) {
	name := stringArg(args, "name")
	if name == "" {
		return registry.ErrorResult("remove_tool requires a non-empty name argument"), nil
	}
	if p.registry.IsProtected(name) {
		return registry.ErrorResult("provider %s is protected and cannot be removed", name), nil
	}

	rec, err := p.store.GetProvider(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec == nil && !p.manager.IsLoaded(name) {
		return registry.ErrorResult("no dynamic provider named %s", name), nil
	}

	if err := p.registry.Unregister(name); err != nil {
		return registry.ErrorResult("failed to unregister provider: %v", err), nil
	}
	p.manager.Unload(name)
	if rec != nil {
		if err := p.store.SetProviderEnabled(ctx, name, false); err != nil {
			return nil, fmt.Errorf("failed to disable provider %s: %w", name, err)
		}
	}
	return registry.TextResult(fmt.Sprintf("Removed provider %s", name)), nil
}

func (p *ToolManagerProvider) listDynamicTools(ctx context.Context) (*registry.CallResult, error) {
	records, err := p.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return registry.TextResult("No dynamic tool providers."), nil
	}

	var sb strings.Builder
	for _, rec := range records {
		state := "disabled"
		if rec.Enabled {
			state = "enabled"
		}
		loaded := "not loaded"
		if p.manager.IsLoaded(rec.Name) {
			loaded = "loaded"
		}
		fmt.Fprintf(&sb, "%s (%s, %s)\n", rec.Name, state, loaded)
	}
	return registry.TextResult(strings.TrimRight(sb.String(), "\n")), nil
}
