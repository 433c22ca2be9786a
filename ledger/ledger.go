// Package ledger keeps a bounded per-alias history of status strings for
// live agents, plus an archive of completed agents' final output that
// survives registry resets for later recall.
package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Defaults applied when Options fields are zero.
const (
	DefaultMaxStatusLen = 200
	DefaultHistoryCap   = 20
)

// Record is one agent's ledger view, live or archived.
type Record struct {
	Alias         string     `json:"alias"`
	DisplayName   string     `json:"display_name,omitempty"`
	Live          bool       `json:"live"`
	StatusHistory []string   `json:"status_history,omitempty"`
	FinalOutput   string     `json:"final_output,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Options configures a Ledger.
type Options struct {
	MaxStatusLen int
	HistoryCap   int
}

// Ledger owns the live status histories and the recall archive. The archive
// is independent of the live registry's lifecycle: ResetLive clears live
// histories, archived records stay queryable.
type Ledger struct {
	mu           sync.Mutex
	maxStatusLen int
	historyCap   int
	history      map[string][]string

	recall *RecallStore
}

// New creates a Ledger over the given recall store.
func New(recall *RecallStore, opts Options) *Ledger {
	if opts.MaxStatusLen <= 0 {
		opts.MaxStatusLen = DefaultMaxStatusLen
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	return &Ledger{
		maxStatusLen: opts.MaxStatusLen,
		historyCap:   opts.HistoryCap,
		history:      make(map[string][]string),
		recall:       recall,
	}
}

// AppendStatus truncates text to the max length and appends it to the
// alias's history, dropping the oldest entry on overflow.
func (l *Ledger) AppendStatus(alias, text string) {
	text = truncate(text, l.maxStatusLen)
	l.mu.Lock()
	defer l.mu.Unlock()

	h := append(l.history[alias], text)
	if len(h) > l.historyCap {
		h = h[len(h)-l.historyCap:]
	}
	l.history[alias] = h
}

// History returns a copy of the alias's live status history.
func (l *Ledger) History(alias string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.history[alias]
	out := make([]string, len(h))
	copy(out, h)
	return out
}

// Archive copies the alias's status history and final output into the recall
// store. Idempotent: re-archiving the same alias updates in place.
func (l *Ledger) Archive(alias, finalOutput string) error {
	l.mu.Lock()
	history := make([]string, len(l.history[alias]))
	copy(history, l.history[alias])
	l.mu.Unlock()

	rec := CompletedAgentRecord{
		Alias:         alias,
		DisplayName:   displayName(alias, history),
		StatusHistory: history,
		FinalOutput:   finalOutput,
		CompletedAt:   time.Now().UTC(),
	}
	if err := l.recall.Put(rec); err != nil {
		return fmt.Errorf("archive %s: %w", alias, err)
	}
	return nil
}

// ResetLive clears every live status history. Archived records are untouched.
func (l *Ledger) ResetLive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = make(map[string][]string)
}

// Query merges archived records with still-live agents. When alias is empty,
// every record is returned without output text; output is included only when
// a specific alias is requested with includeOutput, so a general query is
// never flooded with large payloads.
func (l *Ledger) Query(alias string, includeOutput bool) ([]Record, error) {
	var archived []CompletedAgentRecord
	var err error
	if alias != "" {
		var rec CompletedAgentRecord
		var found bool
		rec, found, err = l.recall.Get(alias)
		if err == nil && found {
			archived = append(archived, rec)
		}
	} else {
		archived, err = l.recall.List()
	}
	if err != nil {
		return nil, fmt.Errorf("query recall: %w", err)
	}

	var out []Record
	seen := make(map[string]struct{}, len(archived))
	for _, rec := range archived {
		seen[rec.Alias] = struct{}{}
		completedAt := rec.CompletedAt
		r := Record{
			Alias:         rec.Alias,
			DisplayName:   rec.DisplayName,
			StatusHistory: rec.StatusHistory,
			CompletedAt:   &completedAt,
		}
		if includeOutput && alias != "" {
			r.FinalOutput = rec.FinalOutput
		}
		out = append(out, r)
	}

	l.mu.Lock()
	for liveAlias, history := range l.history {
		if alias != "" && liveAlias != alias {
			continue
		}
		if _, archivedToo := seen[liveAlias]; archivedToo {
			continue
		}
		h := make([]string, len(history))
		copy(h, history)
		out = append(out, Record{
			Alias:         liveAlias,
			DisplayName:   displayName(liveAlias, h),
			Live:          true,
			StatusHistory: h,
		})
	}
	l.mu.Unlock()

	return out, nil
}

// displayName derives a human-readable name from the agent's first status
// line, falling back to the alias itself.
func displayName(alias string, history []string) string {
	if len(history) == 0 {
		return alias
	}
	name := strings.ReplaceAll(truncate(history[0], 48), "-", " ")
	return cases.Title(language.English).String(name)
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so the
// result is always valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
