package tools

import (
	"context"
	"fmt"

	"github.com/spoons-and-mirrors/pocket-universe/engine"
	"github.com/spoons-and-mirrors/pocket-universe/session"
)

// AgentStatusTool publishes the caller's status line and reads the roster,
// including recall of agents that already finished.
type AgentStatusTool struct {
	Engine *engine.Engine
}

func (t *AgentStatusTool) Name() string { return "agent_status" }
func (t *AgentStatusTool) Description() string {
	return "Post a short status line about your current work and list peer agents. Query a specific alias (live or completed) for its status history; set include_output to recall a completed agent's final output."
}
func (t *AgentStatusTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"description": "One line describing what you are doing now",
				},
				"query_alias": map[string]any{
					"type":        "string",
					"description": "Alias to look up, live or completed",
				},
				"include_output": map[string]any{
					"type":        "boolean",
					"description": "Include the queried agent's final output (requires query_alias)",
				},
			},
		},
	}
}

func (t *AgentStatusTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("agent_status: no session ID in context")
	}
	alias, ok := t.Engine.EnsureRegistered(ctx, sessionID)
	if !ok {
		return callerError(engine.ErrNotRegistered), nil
	}

	if status, _ := args["status"].(string); status != "" {
		t.Engine.Ledger().AppendStatus(alias, status)
	}

	queryAlias, _ := args["query_alias"].(string)
	includeOutput, _ := args["include_output"].(bool)
	if includeOutput && queryAlias == "" {
		return callerError(fmt.Errorf("include_output requires query_alias")), nil
	}

	result := map[string]any{
		"alias": alias,
		"peers": t.peerRoster(sessionID),
	}
	if queryAlias != "" {
		records, err := t.Engine.Ledger().Query(queryAlias, includeOutput)
		if err != nil {
			return nil, fmt.Errorf("query ledger: %w", err)
		}
		if len(records) == 0 {
			return callerError(fmt.Errorf("no agent known as %s", queryAlias)), nil
		}
		result["records"] = records
	}
	return result, nil
}

type peerEntry struct {
	Alias   string `json:"alias"`
	State   string `json:"state"`
	Pending int    `json:"pending_messages"`
}

func (t *AgentStatusTool) peerRoster(sessionID string) []peerEntry {
	var peers []peerEntry
	for _, id := range t.Engine.Registry().Live() {
		if id.SessionID == sessionID {
			continue
		}
		state := string(session.StatusActive)
		if t.Engine.Sessions().IsIdle(id.SessionID) {
			state = string(session.StatusIdle)
		}
		peers = append(peers, peerEntry{
			Alias:   id.Alias,
			State:   state,
			Pending: t.Engine.Mail().Pending(id.SessionID),
		})
	}
	return peers
}
