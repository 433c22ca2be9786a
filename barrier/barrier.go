// Package barrier blocks a caller's completion until every fire-and-forget
// child it spawned is idle with no wake-worthy mail. It is a level-triggered,
// poll-based barrier: children or messages that arrive between polls are
// picked up on the next pass, because registration of a new pending child can
// legitimately race with an in-progress wait.
package barrier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spoons-and-mirrors/pocket-universe/mailbox"
)

// Defaults applied when Options fields are zero.
const (
	DefaultMaxIterations = 60
	DefaultChildWait     = 30 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
)

// IdleWaiter is the slice of the session tracker the barrier needs.
type IdleWaiter interface {
	IsIdle(sessionID string) bool
	WaitIdle(ctx context.Context, sessionID string, timeout time.Duration) bool
}

// MailChecker is the slice of the mailbox store the barrier needs.
type MailChecker interface {
	NeedingWake(sessionID string) []mailbox.Message
	MarkPresented(sessionID string, seqs []int) []int
}

// Outcome is the result of an Await pass.
//
// When ResumeText is non-empty the barrier is not satisfied: the caller has
// wake-worthy mail of its own, and the host must resume it with this text and
// invoke the barrier again afterwards. This hand-back avoids re-entrant
// invocation of the barrier from within itself.
type Outcome struct {
	Satisfied  bool
	ResumeText string
	Abandoned  []string // children given up on (timeout or iteration cap)
}

// Options configures a Barrier.
type Options struct {
	MaxIterations int           // hard cap on poll passes; past it the barrier aborts, logged
	ChildWait     time.Duration // per-child idle wait; expiry is a give-up, not an error
	PollInterval  time.Duration
}

// Barrier tracks per-caller sets of outstanding child sessions.
type Barrier struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{}

	sessions IdleWaiter
	mail     MailChecker
	opts     Options
	logger   *slog.Logger
}

// New creates a Barrier over the given tracker and mailbox store.
func New(sessions IdleWaiter, mail MailChecker, opts Options, logger *slog.Logger) *Barrier {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.ChildWait <= 0 {
		opts.ChildWait = DefaultChildWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Barrier{
		pending:  make(map[string]map[string]struct{}),
		sessions: sessions,
		mail:     mail,
		opts:     opts,
		logger:   logger,
	}
}

// AddPending records child as outstanding work for caller.
func (b *Barrier) AddPending(caller, child string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, exists := b.pending[caller]
	if !exists {
		set = make(map[string]struct{})
		b.pending[caller] = set
	}
	set[child] = struct{}{}
}

// RemovePending drops child from caller's outstanding set.
func (b *Barrier) RemovePending(caller, child string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, exists := b.pending[caller]; exists {
		delete(set, child)
		if len(set) == 0 {
			delete(b.pending, caller)
		}
	}
}

// PendingCount returns the number of outstanding children for caller.
func (b *Barrier) PendingCount(caller string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[caller])
}

// Reset clears every pending set.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[string]map[string]struct{})
}

func (b *Barrier) snapshot(caller string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.pending[caller]))
	for child := range b.pending[caller] {
		out = append(out, child)
	}
	return out
}

// Await blocks until caller's pending set is empty and caller itself has no
// wake-worthy mail. Every wait is bounded: children that never go idle are
// abandoned after ChildWait, and the whole loop aborts after MaxIterations
// passes. Both are expected, logged outcomes — never a hang.
func (b *Barrier) Await(ctx context.Context, caller string) Outcome {
	var abandoned []string

	for iter := 0; iter < b.opts.MaxIterations; iter++ {
		children := b.snapshot(caller)

		if len(children) > 0 {
			abandoned = append(abandoned, b.drainChildren(ctx, caller, children)...)

			// Re-poll: the set may have grown or shrunk while we waited.
			select {
			case <-ctx.Done():
				return Outcome{Satisfied: true, Abandoned: append(abandoned, b.snapshot(caller)...)}
			case <-time.After(b.opts.PollInterval):
			}
			continue
		}

		// No pending children: the caller's own mail decides.
		wake := b.mail.NeedingWake(caller)
		if len(wake) > 0 {
			seqs := make([]int, len(wake))
			for i, m := range wake {
				seqs[i] = m.Seq
			}
			// Presented before the host resumes, so the resume cannot
			// re-trigger delivery of the same messages. A racing wake may
			// have claimed some already; resume with what we actually hold.
			claimed := b.mail.MarkPresented(caller, seqs)
			if len(claimed) > 0 {
				return Outcome{ResumeText: resumeNote(filterBySeq(wake, claimed)), Abandoned: abandoned}
			}
			continue
		}

		return Outcome{Satisfied: true, Abandoned: abandoned}
	}

	remaining := b.snapshot(caller)
	b.logger.Warn("barrier iteration cap reached, abandoning wait",
		slog.String("caller", caller),
		slog.Int("iterations", b.opts.MaxIterations),
		slog.Int("remaining_children", len(remaining)),
	)
	return Outcome{Satisfied: true, Abandoned: append(abandoned, remaining...)}
}

// drainChildren waits for the given children in parallel, each with its own
// timeout, and removes the ones that are genuinely drained. An idle child
// with outstanding wake-worthy mail stays pending: it is expected to be
// resumed again (possibly by itself) before it counts as done.
func (b *Barrier) drainChildren(ctx context.Context, caller string, children []string) []string {
	type result struct {
		child string
		idle  bool
	}
	results := make([]result, len(children))

	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(i int, child string) {
			defer wg.Done()
			results[i] = result{child: child, idle: b.sessions.WaitIdle(ctx, child, b.opts.ChildWait)}
		}(i, child)
	}
	wg.Wait()

	var abandoned []string
	for _, r := range results {
		if !r.idle {
			b.logger.Warn("child never reported idle, giving up on it",
				slog.String("caller", caller),
				slog.String("child", r.child),
				slog.Duration("waited", b.opts.ChildWait),
			)
			b.RemovePending(caller, r.child)
			abandoned = append(abandoned, r.child)
			continue
		}
		if len(b.mail.NeedingWake(r.child)) > 0 {
			// Idle but not drained; keep pending for the next pass.
			continue
		}
		b.RemovePending(caller, r.child)
	}
	return abandoned
}

// filterBySeq keeps the messages whose seq appears in seqs, order preserved.
func filterBySeq(msgs []mailbox.Message, seqs []int) []mailbox.Message {
	want := make(map[int]struct{}, len(seqs))
	for _, seq := range seqs {
		want[seq] = struct{}{}
	}
	var out []mailbox.Message
	for _, m := range msgs {
		if _, match := want[m.Seq]; match {
			out = append(out, m)
		}
	}
	return out
}

// resumeNote renders the short notification prompt the host uses to resume
// the caller with its outstanding mail.
func resumeNote(msgs []mailbox.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d unread message(s) from other agents:\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[#%d from %s] %s\n", m.Seq, m.From, m.Body)
	}
	sb.WriteString("Address these before finishing. Reply with the peer_send tool.")
	return sb.String()
}
