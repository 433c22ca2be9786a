package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/spoons-and-mirrors/pocket-universe/engine"
)

// PeerSendTool sends a message to a peer agent, or to every peer with "*".
type PeerSendTool struct {
	Engine *engine.Engine
}

func (t *PeerSendTool) Name() string { return "peer_send" }
func (t *PeerSendTool) Description() string {
	return "Send a message to another agent by alias, or to all agents with to=\"*\". Cite reply_to seqs to mark inbox messages as answered; an empty body with reply_to is a plain acknowledgement."
}
func (t *PeerSendTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to": map[string]any{
					"type":        "string",
					"description": "Recipient alias (e.g. agentB) or \"*\" for broadcast",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Message text",
				},
				"reply_to": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "integer"},
					"description": "Seq numbers from your inbox this message answers",
				},
			},
			"required": []string{"to"},
		},
	}
}

func (t *PeerSendTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("peer_send: no session ID in context")
	}
	if _, ok := t.Engine.EnsureRegistered(ctx, sessionID); !ok {
		return callerError(engine.ErrNotRegistered), nil
	}

	to, _ := args["to"].(string)
	body, _ := args["body"].(string)
	replyTo := intSlice(args["reply_to"])

	receipt, err := t.Engine.Send(ctx, sessionID, to, body, replyTo)
	if err != nil {
		if isCallerErr(err) {
			return callerError(err), nil
		}
		return nil, err
	}

	seqs := make([]int, len(receipt.Delivered))
	recipients := make([]string, len(receipt.Delivered))
	for i, m := range receipt.Delivered {
		seqs[i] = m.Seq
		recipients[i] = t.Engine.Registry().Alias(m.To)
	}
	return map[string]any{
		"delivered":  len(receipt.Delivered),
		"recipients": recipients,
		"seqs":       seqs,
		"handled":    receipt.Handled,
	}, nil
}

// isCallerErr reports whether err is the agent's fault rather than ours.
func isCallerErr(err error) bool {
	for _, caller := range []error{
		engine.ErrEmptyBody,
		engine.ErrUnknownRecipient,
		engine.ErrSelfSend,
		engine.ErrNoPeers,
		engine.ErrTooManyChildren,
		engine.ErrNotRegistered,
	} {
		if errors.Is(err, caller) {
			return true
		}
	}
	return false
}
