// Package providers contains the native core providers. They run in-process
// and are always registered and protected; guest modules can neither replace
// nor unload them.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/codefionn/werkzeug/internal/registry"
	"github.com/codefionn/werkzeug/internal/store"
)

// SkillsProvider exposes persisted skill content as tools.
type SkillsProvider struct {
	store *store.Store
}

// NewSkillsProvider creates the skills provider over a store.
func NewSkillsProvider(s *store.Store) *SkillsProvider {
	return &SkillsProvider{store: s}
}

func (p *SkillsProvider) Name() string { return "skills" }

func (p *SkillsProvider) ListTools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	return []registry.ToolDescriptor{
		{
			Name:        "list_skills",
			Description: "List the names and descriptions of all available skills.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "get_skill",
			Description: "Fetch the full content of a skill by name.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Name of the skill to fetch",
					},
				},
				"required": []string{"name"},
			},
		},
	}, nil
}

func (p *SkillsProvider) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (*registry.CallResult, error) {
	switch toolName {
	case "list_skills":
		return p.listSkills(ctx)
	case "get_skill":
		return p.getSkill(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}
}

func (p *SkillsProvider) listSkills(ctx context.Context) (*registry.CallResult, error) {
	skills, err := p.store.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	if len(skills) == 0 {
		return registry.TextResult("No skills available."), nil
	}

	var sb strings.Builder
	for _, skill := range skills {
		sb.WriteString(skill.Name)
		if skill.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(skill.Description)
		}
		sb.WriteString("\n")
	}
	return registry.TextResult(strings.TrimRight(sb.String(), "\n")), nil
}

func (p *SkillsProvider) getSkill(ctx context.Context, args map[string]interface{}) (*registry.CallResult, error) {
	name := stringArg(args, "name")
	if name == "" {
		return registry.ErrorResult("get_skill requires a non-empty name argument"), nil
	}

	content, found, err := p.store.SkillContent(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return registry.ErrorResult("skill not found: %s", name), nil
	}
	return registry.TextResult(content), nil
}

// stringArg reads a string argument, tolerating absent or mistyped values.
func stringArg(args map[string]interface{}, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
