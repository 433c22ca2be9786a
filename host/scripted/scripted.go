// Package scripted provides an in-memory SessionDirectory whose prompt
// responses come from a fixed script. It backs tests and the demo runtime;
// no real sessions or models are involved.
package scripted

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spoons-and-mirrors/pocket-universe/host"
)

// Host implements host.SessionDirectory from a canned response list.
type Host struct {
	mu        sync.Mutex
	responses []string
	idx       int
	delay     time.Duration
	failNext  error

	parents map[string]string
	prompts map[string][]string
	history map[string][]host.HistoryMessage

	wg sync.WaitGroup
}

// New creates a scripted host. Each prompt consumes the next response,
// cycling when the script runs out. delay is applied before async
// completions fire.
func New(delay time.Duration, responses ...string) *Host {
	if len(responses) == 0 {
		responses = []string{"ok"}
	}
	return &Host{
		responses: responses,
		delay:     delay,
		parents:   make(map[string]string),
		prompts:   make(map[string][]string),
		history:   make(map[string][]host.HistoryMessage),
	}
}

// FailNext makes the next prompt submission return err, then clears.
func (h *Host) FailNext(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = err
}

// CreateChild registers a fresh session under parentID.
func (h *Host) CreateChild(_ context.Context, parentID string) (string, error) {
	id := uuid.New().String()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parents[id] = parentID
	return id, nil
}

// Parent returns the recorded parent, or "" for roots and unknown sessions.
func (h *Host) Parent(_ context.Context, sessionID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.parents[sessionID], nil
}

// Messages returns the session's accumulated transcript.
func (h *Host) Messages(_ context.Context, sessionID string) ([]host.HistoryMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]host.HistoryMessage, len(h.history[sessionID]))
	copy(msgs, h.history[sessionID])
	return msgs, nil
}

// Prompt records the text and returns the script's next response.
func (h *Host) Prompt(_ context.Context, sessionID, text string) (string, error) {
	return h.consume(sessionID, text)
}

// PromptAsync records the text and fires onDone from a goroutine after the
// configured delay.
func (h *Host) PromptAsync(_ context.Context, sessionID, text string, onDone func(output string, err error)) error {
	out, err := h.consume(sessionID, text)
	if err != nil {
		return err
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if h.delay > 0 {
			time.Sleep(h.delay)
		}
		if onDone != nil {
			onDone(out, nil)
		}
	}()
	return nil
}

// Prompts returns every prompt text sent to sessionID, in order.
func (h *Host) Prompts(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.prompts[sessionID]))
	copy(out, h.prompts[sessionID])
	return out
}

// Wait blocks until every in-flight async completion has fired.
func (h *Host) Wait() { h.wg.Wait() }

func (h *Host) consume(sessionID, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext != nil {
		err := h.failNext
		h.failNext = nil
		return "", fmt.Errorf("prompt %s: %w", sessionID, err)
	}
	h.prompts[sessionID] = append(h.prompts[sessionID], text)
	h.history[sessionID] = append(h.history[sessionID],
		host.HistoryMessage{Role: host.RoleUser, Parts: []host.Part{{Type: "text", Text: text}}})

	out := h.responses[h.idx%len(h.responses)]
	h.idx++
	h.history[sessionID] = append(h.history[sessionID],
		host.HistoryMessage{Role: host.RoleAssistant, Parts: []host.Part{{Type: "text", Text: out}}})
	return out, nil
}
