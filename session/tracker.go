// Package session tracks each session's coarse activity state. The tracker
// is the only source for the scheduling decision at the heart of the system:
// a message to an idle session must actively wake it, while a message to an
// active session just queues for passive delivery on the next turn.
package session

import (
	"context"
	"sync"
	"time"
)

// Status is a session's coarse activity state.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
)

// defaultPollInterval is the WaitIdle re-check cadence.
const defaultPollInterval = 200 * time.Millisecond

// State is a session's tracked activity record.
type State struct {
	SessionID      string    `json:"session_id"`
	Status         Status    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Tracker records idle/active transitions, timestamped. Sessions it has
// never seen report as not idle (an untracked session is assumed mid-turn,
// so it is never woken on guesswork).
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*State)}
}

func (t *Tracker) set(sessionID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, exists := t.states[sessionID]
	if !exists {
		st = &State{SessionID: sessionID}
		t.states[sessionID] = st
	}
	st.Status = status
	st.LastActivityAt = time.Now()
}

// MarkActive records the session as mid-turn.
func (t *Tracker) MarkActive(sessionID string) { t.set(sessionID, StatusActive) }

// MarkIdle records the session as between turns.
func (t *Tracker) MarkIdle(sessionID string) { t.set(sessionID, StatusIdle) }

// IsIdle reports whether the session is known to be between turns.
func (t *Tracker) IsIdle(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, exists := t.states[sessionID]
	return exists && st.Status == StatusIdle
}

// LastActivity returns the session's last transition time.
func (t *Tracker) LastActivity(sessionID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, exists := t.states[sessionID]
	if !exists {
		return time.Time{}, false
	}
	return st.LastActivityAt, true
}

// States returns a copy of every tracked state.
func (t *Tracker) States() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	return out
}

// Reset forgets every tracked session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[string]*State)
}

// WaitIdle polls until the session reports idle or the timeout elapses.
// A timeout is a give-up, not an error: it returns false and the caller
// proceeds without the session (host callbacks can be dropped or delayed,
// and nothing here may hang the agent tree).
func (t *Tracker) WaitIdle(ctx context.Context, sessionID string, timeout time.Duration) bool {
	if t.IsIdle(sessionID) {
		return true
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if t.IsIdle(sessionID) {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		}
	}
}
