// Package mailbox provides one bounded, ordered message queue per recipient
// session, with handled/presented bookkeeping and TTL eviction.
//
// "Handled" means the recipient explicitly replied to the message.
// "Presented" means the message was shown to the recipient through a
// context-injection path; it exists only to prevent duplicate active
// wake-ups and never affects Handled.
package mailbox

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TruncationMarker is appended to any message body cut at MaxBodyLen.
const TruncationMarker = "... [truncated]"

// Defaults applied when Options fields are zero.
const (
	DefaultCapacity     = 50
	DefaultMaxBodyLen   = 4000
	DefaultHandledTTL   = 10 * time.Minute
	DefaultUnhandledTTL = 2 * time.Hour
)

// Message is a single inter-agent message. Seq is strictly increasing per
// recipient and assigned at enqueue time; eviction may create gaps, so
// consumers must not assume contiguity. ID is a random token used only for
// logging, never for ordering.
type Message struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Handled   bool      `json:"handled"`
}

// Options configures a Store. Zero fields take the package defaults.
type Options struct {
	Capacity     int
	MaxBodyLen   int
	HandledTTL   time.Duration
	UnhandledTTL time.Duration
}

type box struct {
	nextSeq   int
	msgs      []*Message
	presented map[int]struct{}
}

// Store owns every mailbox. No other component mutates a queue directly.
type Store struct {
	mu           sync.Mutex
	capacity     int
	maxBodyLen   int
	handledTTL   time.Duration
	unhandledTTL time.Duration
	boxes        map[string]*box
}

// NewStore creates a Store with the given options.
func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxBodyLen <= 0 {
		opts.MaxBodyLen = DefaultMaxBodyLen
	}
	if opts.HandledTTL <= 0 {
		opts.HandledTTL = DefaultHandledTTL
	}
	if opts.UnhandledTTL <= 0 {
		opts.UnhandledTTL = DefaultUnhandledTTL
	}
	return &Store{
		capacity:     opts.Capacity,
		maxBodyLen:   opts.MaxBodyLen,
		handledTTL:   opts.HandledTTL,
		unhandledTTL: opts.UnhandledTTL,
		boxes:        make(map[string]*box),
	}
}

func (s *Store) boxFor(sessionID string) *box {
	b, exists := s.boxes[sessionID]
	if !exists {
		b = &box{nextSeq: 1, presented: make(map[int]struct{})}
		s.boxes[sessionID] = b
	}
	return b
}

// Send assigns the next seq for the recipient and appends the message.
// Overlong bodies are truncated with a visible marker rather than rejected —
// delivery never hard-fails on size. At capacity, the oldest handled message
// is evicted first; only when none is handled does the oldest unconditionally
// go (unread work is kept in preference to read work).
func (s *Store) Send(from, to, body string) Message {
	if len(body) > s.maxBodyLen {
		cut := s.maxBodyLen
		// Back up to a rune boundary so the cut never produces invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + TruncationMarker
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.boxFor(to)
	if len(b.msgs) >= s.capacity {
		b.evictOne()
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Seq:       b.nextSeq,
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: time.Now(),
	}
	b.nextSeq++
	b.msgs = append(b.msgs, msg)
	return *msg
}

// evictOne removes the oldest handled message, or the oldest message
// unconditionally when none is handled.
func (b *box) evictOne() {
	for i, m := range b.msgs {
		if m.Handled {
			b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
			return
		}
	}
	if len(b.msgs) > 0 {
		b.msgs = b.msgs[1:]
	}
}

// Unhandled returns all messages with Handled=false, queue order preserved.
func (s *Store) Unhandled(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.boxes[sessionID]
	if !exists {
		return nil
	}
	var out []Message
	for _, m := range b.msgs {
		if !m.Handled {
			out = append(out, *m)
		}
	}
	return out
}

// NeedingWake returns the unhandled messages the session has neither replied
// to nor already seen injected into its context. This is the only predicate
// allowed to trigger an active resume.
func (s *Store) NeedingWake(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.boxes[sessionID]
	if !exists {
		return nil
	}
	var out []Message
	for _, m := range b.msgs {
		if m.Handled {
			continue
		}
		if _, seen := b.presented[m.Seq]; seen {
			continue
		}
		out = append(out, *m)
	}
	return out
}

// MarkHandled flips Handled for matching, currently-unhandled entries only.
// Idempotent on re-invocation with the same seqs. Returns the messages whose
// state actually changed.
func (s *Store) MarkHandled(sessionID string, seqs []int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.boxes[sessionID]
	if !exists {
		return nil
	}
	want := make(map[int]struct{}, len(seqs))
	for _, seq := range seqs {
		want[seq] = struct{}{}
	}
	var flipped []Message
	for _, m := range b.msgs {
		if _, match := want[m.Seq]; match && !m.Handled {
			m.Handled = true
			flipped = append(flipped, *m)
		}
	}
	return flipped
}

// MarkPresented records seqs as shown to the session and returns the seqs it
// newly claimed; already-presented seqs are excluded. Must be called before
// any resume or injection that shows those messages: the claim is atomic
// under the store lock, so of two racing wake attempts only one receives a
// given seq and the loser backs off instead of double-prompting.
func (s *Store) MarkPresented(sessionID string, seqs []int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.boxFor(sessionID)
	var claimed []int
	for _, seq := range seqs {
		if _, seen := b.presented[seq]; seen {
			continue
		}
		b.presented[seq] = struct{}{}
		claimed = append(claimed, seq)
	}
	return claimed
}

// Pending returns the number of unhandled messages for the session.
func (s *Store) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.boxes[sessionID]
	if !exists {
		return 0
	}
	n := 0
	for _, m := range b.msgs {
		if !m.Handled {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the session's full queue, oldest first.
func (s *Store) Snapshot(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.boxes[sessionID]
	if !exists {
		return nil
	}
	out := make([]Message, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = *m
	}
	return out
}

// Recipients returns every sessionID that currently has a mailbox.
func (s *Store) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.boxes))
	for id := range s.boxes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset drops every mailbox and every presented set.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxes = make(map[string]*box)
}

// Sweep drops messages older than their TTL — a short one for handled
// messages, a long one for unhandled, since unread work must survive longer —
// then re-enforces capacity preferring to keep unhandled. Returns the number
// of messages dropped.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, b := range s.boxes {
		kept := b.msgs[:0]
		for _, m := range b.msgs {
			age := now.Sub(m.CreatedAt)
			if m.Handled && age > s.handledTTL {
				dropped++
				continue
			}
			if !m.Handled && age > s.unhandledTTL {
				dropped++
				continue
			}
			kept = append(kept, m)
		}
		b.msgs = kept
		for len(b.msgs) > s.capacity {
			b.evictOne()
			dropped++
		}
	}
	return dropped
}
