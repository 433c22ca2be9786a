package tools

import "context"

type contextKey int

const (
	// contextKeySessionID carries the calling session's host identifier.
	contextKeySessionID contextKey = iota
)

// SessionIDFromContext returns the calling session's identifier, if set.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKeySessionID).(string)
	return v, ok && v != ""
}

// WithSessionID returns a context carrying the calling session's identifier.
// The host sets this before dispatching any tool call.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKeySessionID, sessionID)
}
