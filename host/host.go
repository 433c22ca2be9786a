// Package host defines the collaborator surface the coordination core
// consumes. The host owns sessions, prompting, and the LLM; the core only
// asks it to create children, look up parentage, and deliver prompts. The
// core must not assume anything beyond these operations.
package host

import "context"

// Role identifies who produced a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is one content part of a history message.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// HistoryMessage is one entry of a session's transcript.
type HistoryMessage struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// SessionDirectory is the host's session/process API.
type SessionDirectory interface {
	// CreateChild creates a new session as a child of parentID and returns
	// its identifier.
	CreateChild(ctx context.Context, parentID string) (string, error)

	// Parent returns the parent identifier of sessionID, or "" for a root.
	Parent(ctx context.Context, sessionID string) (string, error)

	// Messages lists a session's transcript.
	Messages(ctx context.Context, sessionID string) ([]HistoryMessage, error)

	// Prompt sends text to a session and awaits its completion, returning
	// the session's final output.
	Prompt(ctx context.Context, sessionID, text string) (string, error)

	// PromptAsync sends text to a session fire-and-forget. onDone is invoked
	// from a background flow once the session's turn completes. The error
	// return covers submission only.
	PromptAsync(ctx context.Context, sessionID, text string, onDone func(output string, err error)) error
}
