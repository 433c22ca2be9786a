package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/spoons-and-mirrors/pocket-universe/mailbox"
	"github.com/spoons-and-mirrors/pocket-universe/session"
)

// agentView is one roster row returned by GET /api/agents.
type agentView struct {
	Alias         string    `json:"alias"`
	SessionID     string    `json:"session_id"`
	RootID        string    `json:"root_id"`
	State         string    `json:"state"`
	Pending       int       `json:"pending_messages"`
	StatusHistory []string  `json:"status_history,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// handleStatus returns liveness info. Public: no coordination data leaks.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"live_agents":    len(s.engine.Registry().Live()),
	})
}

// handleAgents returns the live roster with activity state and mail counts.
func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	var out []agentView
	for _, id := range s.engine.Registry().Live() {
		state := string(session.StatusActive)
		if s.engine.Sessions().IsIdle(id.SessionID) {
			state = string(session.StatusIdle)
		}
		out = append(out, agentView{
			Alias:         id.Alias,
			SessionID:     id.SessionID,
			RootID:        id.RootID,
			State:         state,
			Pending:       s.engine.Mail().Pending(id.SessionID),
			StatusHistory: s.engine.Ledger().History(id.Alias),
			RegisteredAt:  id.RegisteredAt,
		})
	}
	if out == nil {
		out = []agentView{}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMailbox returns the full queue for one recipient, by alias or raw
// session identifier.
func (s *Server) handleMailbox(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	sessionID, ok := s.engine.Registry().Resolve(ref)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown agent: "+ref)
		return
	}
	msgs := s.engine.Mail().Snapshot(sessionID)
	if msgs == nil {
		msgs = []mailbox.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alias":    s.engine.Registry().Alias(sessionID),
		"messages": msgs,
	})
}

// handleRecall queries the status ledger, live and archived. ?alias= narrows
// to one agent; &include_output=true additionally returns its final output.
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("alias")
	includeOutput := r.URL.Query().Get("include_output") == "true"
	if includeOutput && alias == "" {
		writeJSONError(w, http.StatusBadRequest, "include_output requires alias")
		return
	}

	records, err := s.engine.Ledger().Query(alias, includeOutput)
	if err != nil {
		s.logger.Error("recall query", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "recall query failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}
