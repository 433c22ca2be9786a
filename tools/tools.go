// Package tools exposes the coordination engine to agents as LLM tools.
// Invalid requests (unknown recipient, empty body, spawn over the limit) are
// reported inside the tool result so the model can read and correct them;
// only internal failures surface as Go errors.
package tools

import (
	"context"

	"github.com/spoons-and-mirrors/pocket-universe/engine"
)

// ToolDef is the JSON-schema definition handed to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool is a model-invocable operation.
type Tool interface {
	Name() string
	Description() string
	Definition() ToolDef
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// All returns the full tool set over the given engine.
func All(e *engine.Engine) []Tool {
	return []Tool{
		&PeerSendTool{Engine: e},
		&AgentSpawnTool{Engine: e},
		&AgentStatusTool{Engine: e},
	}
}

// callerError wraps a bad request into the tool result payload.
func callerError(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// intSlice coerces a JSON array of numbers into ints. The model sends
// float64s; anything else in the array is skipped.
func intSlice(v any) []int {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []int
	for _, item := range arr {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}
