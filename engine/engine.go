// Package engine coordinates the registry, mailboxes, session tracker,
// completion barrier, and status ledger behind the host-facing hooks and the
// agent-facing tools. All policy lives here; the stores underneath stay
// mechanism-only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spoons-and-mirrors/pocket-universe/barrier"
	"github.com/spoons-and-mirrors/pocket-universe/host"
	"github.com/spoons-and-mirrors/pocket-universe/ledger"
	"github.com/spoons-and-mirrors/pocket-universe/mailbox"
	"github.com/spoons-and-mirrors/pocket-universe/registry"
	"github.com/spoons-and-mirrors/pocket-universe/session"
)

// Broadcast is the recipient reference that fans a message out to every live
// peer except the sender.
const Broadcast = "*"

// Defaults applied when Options fields are zero.
const (
	DefaultMaxResumeChain      = 8
	DefaultMaxChildrenPerAgent = 5
	maxParentHops              = 16
)

// Caller errors: bad requests from an agent, reported back in the tool
// result rather than treated as system failures.
var (
	ErrEmptyBody        = errors.New("message body is empty")
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrSelfSend         = errors.New("cannot send a message to yourself")
	ErrNoPeers          = errors.New("no live peers to broadcast to")
	ErrTooManyChildren  = errors.New("too many outstanding children")
	ErrNotRegistered    = errors.New("session is not registered")
)

// Options configures an Engine.
type Options struct {
	// MaxResumeChain caps consecutive wake-ups of one session. Past the cap
	// the remaining mail stays queued for passive delivery.
	MaxResumeChain int
	// MaxChildrenPerAgent caps outstanding children per spawner.
	MaxChildrenPerAgent int
	// Strategy selects how a child's final output reaches its parent.
	Strategy session.DeliveryStrategy
}

// Event is a notification emitted to an optional observer sink.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// SendReceipt reports what a Send actually did.
type SendReceipt struct {
	Delivered []mailbox.Message
	Handled   []int
}

// Engine is the coordination core. One instance serves one host.
type Engine struct {
	registry *registry.Registry
	mail     *mailbox.Store
	sessions *session.Tracker
	barrier  *barrier.Barrier
	ledger   *ledger.Ledger
	host     host.SessionDirectory
	logger   *slog.Logger
	opts     Options

	mu          sync.Mutex
	registering map[string]chan struct{}
	chainDepth  map[string]int
	events      func(Event)
}

// New creates an Engine over the given components.
func New(
	reg *registry.Registry,
	mail *mailbox.Store,
	sessions *session.Tracker,
	bar *barrier.Barrier,
	led *ledger.Ledger,
	dir host.SessionDirectory,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.MaxResumeChain <= 0 {
		opts.MaxResumeChain = DefaultMaxResumeChain
	}
	if opts.MaxChildrenPerAgent <= 0 {
		opts.MaxChildrenPerAgent = DefaultMaxChildrenPerAgent
	}
	if opts.Strategy == "" {
		opts.Strategy = session.DeliverInbox
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:    reg,
		mail:        mail,
		sessions:    sessions,
		barrier:     bar,
		ledger:      led,
		host:        dir,
		logger:      logger,
		opts:        opts,
		registering: make(map[string]chan struct{}),
		chainDepth:  make(map[string]int),
	}
}

// Accessors for the read-only observe surface.

func (e *Engine) Registry() *registry.Registry { return e.registry }
func (e *Engine) Mail() *mailbox.Store         { return e.mail }
func (e *Engine) Sessions() *session.Tracker   { return e.sessions }
func (e *Engine) Ledger() *ledger.Ledger       { return e.ledger }

// SetEventSink installs an observer for engine events. Pass nil to remove.
func (e *Engine) SetEventSink(sink func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = sink
}

func (e *Engine) emit(eventType string, payload any) {
	e.mu.Lock()
	sink := e.events
	e.mu.Unlock()
	if sink != nil {
		sink(Event{Type: eventType, Payload: payload, At: time.Now()})
	}
}

// EnsureRegistered registers sessionID lazily, walking the host's parent
// chain to find the root task identifier. Concurrent calls for the same
// identifier collapse onto one registration; later callers block until the
// first finishes. Retired identifiers stay unregistered.
func (e *Engine) EnsureRegistered(ctx context.Context, sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}

	e.mu.Lock()
	if ch, inflight := e.registering[sessionID]; inflight {
		e.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", false
		}
		if id, ok := e.registry.Lookup(sessionID); ok {
			return id.Alias, true
		}
		return "", false
	}
	if id, ok := e.registry.Lookup(sessionID); ok {
		e.mu.Unlock()
		return id.Alias, true
	}
	ch := make(chan struct{})
	e.registering[sessionID] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.registering, sessionID)
		e.mu.Unlock()
		close(ch)
	}()

	rootID := e.rootOf(ctx, sessionID)
	alias, ok := e.registry.Register(sessionID, rootID)
	if !ok {
		e.logger.Debug("ignoring registration of retired session",
			slog.String("session_id", sessionID))
		return "", false
	}
	e.sessions.MarkActive(sessionID)
	e.emit("agent_registered", map[string]string{"alias": alias, "session_id": sessionID})
	return alias, true
}

// rootOf walks parent links until a root, with a hop bound against cycles in
// a misbehaving host.
func (e *Engine) rootOf(ctx context.Context, sessionID string) string {
	current := sessionID
	for i := 0; i < maxParentHops; i++ {
		parent, err := e.host.Parent(ctx, current)
		if err != nil {
			e.logger.Error("parent lookup failed, treating session as root",
				slog.String("session_id", current), slog.Any("error", err))
			return current
		}
		if parent == "" {
			return current
		}
		current = parent
	}
	return current
}

// HandleToolResult is the host hook fired when a session produces a tool
// call: the session proved it is mid-turn.
func (e *Engine) HandleToolResult(ctx context.Context, sessionID string) {
	if _, ok := e.EnsureRegistered(ctx, sessionID); !ok {
		return
	}
	e.sessions.MarkActive(sessionID)
}

// HandleSessionIdle is the host hook fired when a session finishes a turn.
// If wake-worthy mail arrived during the turn, the session is resumed
// immediately rather than left to sit on unread work.
func (e *Engine) HandleSessionIdle(ctx context.Context, sessionID string) {
	if !e.registry.IsLive(sessionID) {
		return
	}
	e.sessions.MarkIdle(sessionID)
	e.maybeWake(ctx, sessionID)
}

// HandleBeforeCompletion is the host hook fired when a session is about to
// report its final result. It blocks on the completion barrier; see
// barrier.Outcome for the resume hand-back contract.
func (e *Engine) HandleBeforeCompletion(ctx context.Context, sessionID string) barrier.Outcome {
	return e.barrier.Await(ctx, sessionID)
}

// HandleSessionComplete archives the session's final output so it stays
// recallable after the live registry is gone.
func (e *Engine) HandleSessionComplete(_ context.Context, sessionID, finalOutput string) {
	alias := e.registry.Alias(sessionID)
	if err := e.ledger.Archive(alias, finalOutput); err != nil {
		e.logger.Error("archiving completed session failed",
			slog.String("alias", alias), slog.Any("error", err))
	}
	e.sessions.MarkIdle(sessionID)
	e.emit("agent_completed", map[string]string{"alias": alias})
}

// Send delivers body from a session to a peer (or every peer, with the
// Broadcast reference). reply_to seqs are marked handled in the sender's own
// mailbox first, so a pure acknowledgement with no body is valid. Idle
// recipients are woken; active ones just accumulate mail for their next turn.
func (e *Engine) Send(ctx context.Context, fromSessionID, toRef, body string, replyTo []int) (SendReceipt, error) {
	var receipt SendReceipt

	from := e.registry.Alias(fromSessionID)
	if len(replyTo) > 0 {
		for _, m := range e.mail.MarkHandled(fromSessionID, replyTo) {
			receipt.Handled = append(receipt.Handled, m.Seq)
		}
	}

	if strings.TrimSpace(body) == "" {
		if len(receipt.Handled) > 0 {
			return receipt, nil
		}
		return receipt, ErrEmptyBody
	}

	var targets []string
	if toRef == Broadcast {
		for _, id := range e.registry.Live() {
			if id.SessionID != fromSessionID {
				targets = append(targets, id.SessionID)
			}
		}
		if len(targets) == 0 {
			return receipt, ErrNoPeers
		}
	} else {
		target, ok := e.registry.Resolve(toRef)
		if !ok {
			return receipt, fmt.Errorf("%w: %s", ErrUnknownRecipient, toRef)
		}
		if target == fromSessionID {
			return receipt, ErrSelfSend
		}
		targets = append(targets, target)
	}

	for _, to := range targets {
		msg := e.mail.Send(from, to, body)
		receipt.Delivered = append(receipt.Delivered, msg)
		e.emit("message_sent", msg)
		e.maybeWake(ctx, to)
	}
	return receipt, nil
}

// SpawnChild creates a fire-and-forget child session, registers it, records
// it as pending work for the parent, and prompts it. The child's completion
// is delivered to the parent per the configured strategy.
func (e *Engine) SpawnChild(ctx context.Context, parentSessionID, prompt string) (string, error) {
	parentAlias, ok := e.EnsureRegistered(ctx, parentSessionID)
	if !ok {
		return "", ErrNotRegistered
	}
	if e.barrier.PendingCount(parentSessionID) >= e.opts.MaxChildrenPerAgent {
		return "", fmt.Errorf("%w: limit %d", ErrTooManyChildren, e.opts.MaxChildrenPerAgent)
	}

	childID, err := e.host.CreateChild(ctx, parentSessionID)
	if err != nil {
		return "", fmt.Errorf("create child session: %w", err)
	}
	rootID, _ := e.registry.RootOf(parentSessionID)
	if rootID == "" {
		rootID = parentSessionID
	}
	childAlias, ok := e.registry.Register(childID, rootID)
	if !ok {
		return "", fmt.Errorf("register child %s: identifier already retired", childID)
	}

	e.sessions.MarkActive(childID)
	e.barrier.AddPending(parentSessionID, childID)
	e.ledger.AppendStatus(childAlias, firstLine(prompt))

	err = e.host.PromptAsync(ctx, childID, prompt, func(output string, err error) {
		e.childDone(parentSessionID, childID, childAlias, output, err)
	})
	if err != nil {
		e.barrier.RemovePending(parentSessionID, childID)
		e.sessions.MarkIdle(childID)
		return "", fmt.Errorf("prompt child %s: %w", childAlias, err)
	}

	e.logger.Info("spawned child agent",
		slog.String("parent", parentAlias),
		slog.String("child", childAlias),
	)
	e.emit("agent_spawned", map[string]string{"parent": parentAlias, "child": childAlias})
	return childAlias, nil
}

func (e *Engine) childDone(parentSessionID, childID, childAlias, output string, err error) {
	if err != nil {
		e.logger.Error("child session failed",
			slog.String("child", childAlias), slog.Any("error", err))
		output = fmt.Sprintf("(failed: %v)", err)
	}
	e.sessions.MarkIdle(childID)

	if aerr := e.ledger.Archive(childAlias, output); aerr != nil {
		e.logger.Error("archiving child output failed",
			slog.String("child", childAlias), slog.Any("error", aerr))
	}
	e.deliverCompletion(parentSessionID, childID, childAlias, output)

	// The barrier re-checks mail itself; only a drained child may be removed
	// here, otherwise a reply it still owes would be dropped from the wait.
	if len(e.mail.NeedingWake(childID)) == 0 {
		e.barrier.RemovePending(parentSessionID, childID)
	} else {
		// Mail arrived during the child's final turn. Resume it now, the
		// same as any idle session with wake-worthy mail, or the messages
		// would sit unanswered until the barrier gives up on the child.
		e.maybeWake(context.Background(), childID)
	}
	e.emit("agent_completed", map[string]string{"alias": childAlias})
}

func (e *Engine) deliverCompletion(parentSessionID, childID, childAlias, output string) {
	switch e.opts.Strategy {
	case session.DeliverPersist:
		// Archived only; the parent queries the ledger when it cares.
		return
	case session.DeliverResume:
		if e.sessions.IsIdle(parentSessionID) {
			note := fmt.Sprintf("%s finished:\n%s", childAlias, output)
			e.sessions.MarkActive(parentSessionID)
			err := e.host.PromptAsync(context.Background(), parentSessionID, note, func(string, error) {
				e.sessions.MarkIdle(parentSessionID)
				e.maybeWake(context.Background(), parentSessionID)
			})
			if err == nil {
				return
			}
			e.logger.Error("resume delivery failed, falling back to inbox",
				slog.String("parent_session", parentSessionID), slog.Any("error", err))
			e.sessions.MarkIdle(parentSessionID)
		}
		fallthrough
	default: // session.DeliverInbox
		e.mail.Send(childAlias, parentSessionID, "[completed] "+output)
		e.maybeWake(context.Background(), parentSessionID)
	}
}

// maybeWake actively resumes an idle session that has wake-worthy mail.
// MarkPresented is the serialization point: it atomically claims the seqs,
// so of two racing triggers (a send and an idle callback, say) only the one
// holding the claim prompts and the loser backs off — no duplicate wake for
// a seq. Consecutive wakes of one session are bounded by MaxResumeChain;
// past the cap the mail stays queued and surfaces through passive context
// injection instead.
func (e *Engine) maybeWake(ctx context.Context, sessionID string) {
	wake := e.mail.NeedingWake(sessionID)
	if len(wake) == 0 {
		e.resetChain(sessionID)
		return
	}
	if !e.sessions.IsIdle(sessionID) {
		return
	}
	if depth := e.chainLen(sessionID); depth >= e.opts.MaxResumeChain {
		e.logger.Warn("resume chain cap reached, leaving mail queued",
			slog.String("session_id", sessionID),
			slog.Int("cap", e.opts.MaxResumeChain),
			slog.Int("queued", len(wake)),
		)
		e.resetChain(sessionID)
		return
	}

	seqs := make([]int, len(wake))
	for i, m := range wake {
		seqs[i] = m.Seq
	}
	claimed := e.mail.MarkPresented(sessionID, seqs)
	if len(claimed) == 0 {
		return
	}
	e.bumpChain(sessionID)
	e.sessions.MarkActive(sessionID)

	err := e.host.PromptAsync(ctx, sessionID, wakeNote(claimedMessages(wake, claimed)), func(string, error) {
		e.sessions.MarkIdle(sessionID)
		e.maybeWake(context.Background(), sessionID)
	})
	if err != nil {
		e.logger.Error("wake prompt failed, mail stays queued",
			slog.String("session_id", sessionID), slog.Any("error", err))
		e.sessions.MarkIdle(sessionID)
	}
}

// claimedMessages keeps the messages whose seq was actually claimed.
func claimedMessages(msgs []mailbox.Message, claimed []int) []mailbox.Message {
	want := make(map[int]struct{}, len(claimed))
	for _, seq := range claimed {
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

func (e *Engine) bumpChain(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chainDepth[sessionID]++
}

func (e *Engine) chainLen(sessionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chainDepth[sessionID]
}

func (e *Engine) resetChain(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.chainDepth, sessionID)
}

// AssembleContext builds the synthetic turn injected ahead of a session's
// next turn: the live peer roster plus any unhandled mail. Included messages
// are marked presented so they cannot also trigger an active wake. The bool
// reports whether there is anything worth injecting.
func (e *Engine) AssembleContext(sessionID string) (string, bool) {
	live := e.registry.Live()
	unhandled := e.mail.Unhandled(sessionID)

	var peers []registry.Identity
	for _, id := range live {
		if id.SessionID != sessionID {
			peers = append(peers, id)
		}
	}
	if len(peers) == 0 && len(unhandled) == 0 {
		return "", false
	}

	var sb strings.Builder
	if len(peers) > 0 {
		sb.WriteString("## Peer agents\n")
		for _, id := range peers {
			state := "active"
			if e.sessions.IsIdle(id.SessionID) {
				state = "idle"
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", id.Alias, state)
		}
	}
	if len(unhandled) > 0 {
		sb.WriteString("## Inbox\n")
		seqs := make([]int, 0, len(unhandled))
		for _, m := range unhandled {
			fmt.Fprintf(&sb, "[#%d from %s] %s\n", m.Seq, m.From, m.Body)
			seqs = append(seqs, m.Seq)
		}
		sb.WriteString("Reply with the peer_send tool, citing reply_to seqs.\n")
		e.mail.MarkPresented(sessionID, seqs)
	}
	return sb.String(), true
}

// Reset retires every live agent and clears all coordination state. Archived
// recall records and the alias counter survive.
func (e *Engine) Reset() {
	e.registry.Reset()
	e.mail.Reset()
	e.sessions.Reset()
	e.barrier.Reset()
	e.ledger.ResetLive()

	e.mu.Lock()
	e.chainDepth = make(map[string]int)
	e.mu.Unlock()

	e.logger.Info("coordination state reset")
	e.emit("reset", nil)
}

// wakeNote renders the prompt used to actively resume a session with mail.
func wakeNote(msgs []mailbox.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d new message(s) from other agents:\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[#%d from %s] %s\n", m.Seq, m.From, m.Body)
	}
	sb.WriteString("Reply with the peer_send tool, citing reply_to seqs.")
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
