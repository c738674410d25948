package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codefionn/werkzeug/internal/engine"
	"github.com/codefionn/werkzeug/internal/registry"
)

// sandboxProvider adapts a loaded guest module to the provider contract.
type sandboxProvider struct {
	mgr  *Manager
	inst *Instance
}

func (p *sandboxProvider) Name() string { return p.inst.name }

// ListTools reads the guest's exported tools array. The shape was validated
// at load time, so this is a cheap read under a short timeout.
func (p *sandboxProvider) ListTools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	raw, err := p.inst.ectx.Eval(ctx, listToolsExpr, p.mgr.listTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to read tools of %s: %w", p.inst.name, err)
	}
	var tools []registry.ToolDescriptor
	if err := json.Unmarshal([]byte(raw), &tools); err != nil {
		return nil, fmt.Errorf("failed to decode tools of %s: %w", p.inst.name, err)
	}
	return tools, nil
}

// CallTool invokes the guest's exported callTool. The guest's execution
// budget is the manager's call timeout counted in guest time only: the
// pausable deadline stops ticking while a bridge call performs host-side
// I/O. A hard cap of twice the budget bounds the call including that I/O.
func (p *sandboxProvider) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (*registry.CallResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deadline := newExecDeadline(p.mgr.callTimeout, cancel)
	defer deadline.Stop()
	p.inst.setDeadline(deadline)
	defer p.inst.setDeadline(nil)

	raw, err := p.inst.ectx.Eval(callCtx, callExpression(toolName, string(argsJSON)), 2*p.mgr.callTimeout)
	if err != nil {
		// A guest throw or rejection leaves the context healthy. Any engine
		// failure does not: the context may be wedged (the wazero backend
		// closes the module on deadline expiry), so the instance is unloaded
		// rather than left registered and permanently broken.
		if errors.Is(err, engine.ErrTimeout) {
			p.mgr.Unload(p.inst.name)
			return nil, fmt.Errorf("tool %s in %s exceeded its %s execution budget",
				toolName, p.inst.name, p.mgr.callTimeout)
		}
		if msg, ok := engine.IsGuestError(err); ok {
			return nil, fmt.Errorf("tool %s in %s failed: %s", toolName, p.inst.name, msg)
		}
		p.mgr.Unload(p.inst.name)
		return nil, fmt.Errorf("tool %s in %s failed: %w", toolName, p.inst.name, err)
	}

	return normalizeResult(raw)
}

// normalizeResult decodes the JSON payload the guest returned. A bare string
// becomes a single text content part; anything else must already be a
// well-formed call result.
func normalizeResult(raw string) (*registry.CallResult, error) {
	if raw == "" || raw == "null" {
		return registry.TextResult(""), nil
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("guest returned invalid JSON: %w", err)
	}

	if s, ok := decoded.(string); ok {
		return registry.TextResult(s), nil
	}

	var result registry.CallResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("guest returned a malformed call result: %w", err)
	}
	if len(result.Content) == 0 {
		return nil, errors.New("guest returned a result without content parts")
	}
	return &result, nil
}
