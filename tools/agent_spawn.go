package tools

import (
	"context"
	"fmt"

	"github.com/spoons-and-mirrors/pocket-universe/engine"
)

// AgentSpawnTool spawns fire-and-forget child agents.
type AgentSpawnTool struct {
	Engine *engine.Engine
}

func (t *AgentSpawnTool) Name() string { return "agent_spawn" }
func (t *AgentSpawnTool) Description() string {
	return "Spawn one or more child agents to work on a task in parallel. Children run fire-and-forget; their results arrive when they finish."
}
func (t *AgentSpawnTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "The task for the child agent(s)",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Number of identical children to spawn (default 1)",
				},
			},
			"required": []string{"prompt"},
		},
	}
}

func (t *AgentSpawnTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("agent_spawn: no session ID in context")
	}

	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return callerError(fmt.Errorf("prompt is required")), nil
	}
	count := 1
	if n, isNum := args["count"].(float64); isNum && n > 0 {
		count = int(n)
	}

	var spawned []string
	for i := 0; i < count; i++ {
		alias, err := t.Engine.SpawnChild(ctx, sessionID, prompt)
		if err != nil {
			if isCallerErr(err) {
				result := callerError(err)
				result["spawned"] = spawned
				return result, nil
			}
			return nil, err
		}
		spawned = append(spawned, alias)
	}
	return map[string]any{"spawned": spawned}, nil
}
