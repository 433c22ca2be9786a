package mailbox

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSend_SeqStrictlyIncreasing(t *testing.T) {
	s := NewStore(Options{})

	var prev int
	for i := 0; i < 20; i++ {
		m := s.Send("agentA", "s-2", fmt.Sprintf("msg %d", i))
		if m.Seq <= prev {
			t.Fatalf("seq %d not greater than previous %d", m.Seq, prev)
		}
		prev = m.Seq
	}
	// Seqs are per-recipient: another mailbox starts over.
	if m := s.Send("agentA", "s-3", "hello"); m.Seq != 1 {
		t.Errorf("first seq for new recipient = %d, want 1", m.Seq)
	}
}

func TestUnhandled_OrderPreserved(t *testing.T) {
	s := NewStore(Options{})
	s.Send("agentA", "s-2", "hi")
	s.Send("agentA", "s-2", "bye")

	got := s.Unhandled("s-2")
	if len(got) != 2 || got[0].Body != "hi" || got[1].Body != "bye" {
		t.Fatalf("Unhandled = %v, want [hi bye]", bodies(got))
	}

	s.MarkHandled("s-2", []int{1})
	got = s.Unhandled("s-2")
	if len(got) != 1 || got[0].Body != "bye" {
		t.Errorf("after MarkHandled = %v, want [bye]", bodies(got))
	}
}

func TestMarkHandled_Idempotent(t *testing.T) {
	s := NewStore(Options{})
	s.Send("agentA", "s-2", "hi")

	first := s.MarkHandled("s-2", []int{1})
	if len(first) != 1 {
		t.Fatalf("first MarkHandled flipped %d, want 1", len(first))
	}
	second := s.MarkHandled("s-2", []int{1})
	if len(second) != 0 {
		t.Errorf("second MarkHandled flipped %d, want 0 (state changed once)", len(second))
	}
}

func TestNeedingWake_ExcludesPresented(t *testing.T) {
	s := NewStore(Options{})
	s.Send("agentA", "s-2", "one")
	s.Send("agentA", "s-2", "two")

	s.MarkPresented("s-2", []int{1})
	got := s.NeedingWake("s-2")
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("NeedingWake = %v, want only seq 2", got)
	}

	// Presented does not affect Handled.
	if n := len(s.Unhandled("s-2")); n != 2 {
		t.Errorf("Unhandled len = %d, want 2", n)
	}

	// Presenting the rest empties the wake set — no duplicate wakes.
	s.MarkPresented("s-2", []int{2})
	if got := s.NeedingWake("s-2"); len(got) != 0 {
		t.Errorf("NeedingWake after presenting all = %v, want empty", got)
	}
}

func TestMarkPresented_ClaimsEachSeqOnce(t *testing.T) {
	s := NewStore(Options{})
	s.Send("agentA", "s-2", "one")
	s.Send("agentA", "s-2", "two")

	first := s.MarkPresented("s-2", []int{1, 2})
	if len(first) != 2 {
		t.Fatalf("first claim = %v, want both seqs", first)
	}
	// A racing second claimer gets nothing, so only one wake fires per seq.
	second := s.MarkPresented("s-2", []int{1, 2})
	if len(second) != 0 {
		t.Errorf("second claim = %v, want empty", second)
	}

	s.Send("agentA", "s-2", "three")
	if got := s.MarkPresented("s-2", []int{2, 3}); len(got) != 1 || got[0] != 3 {
		t.Errorf("mixed claim = %v, want only the new seq 3", got)
	}
}

func TestCapacity_EvictsHandledFirst(t *testing.T) {
	s := NewStore(Options{Capacity: 3})
	s.Send("agentA", "s-2", "m1")
	s.Send("agentA", "s-2", "m2")
	s.Send("agentA", "s-2", "m3")
	s.MarkHandled("s-2", []int{2})

	s.Send("agentA", "s-2", "m4")

	snap := s.Snapshot("s-2")
	if len(snap) != 3 {
		t.Fatalf("mailbox len = %d, want capacity 3", len(snap))
	}
	for _, m := range snap {
		if m.Body == "m2" {
			t.Error("handled m2 survived eviction while unhandled messages were present")
		}
	}
	// m1 (older, unhandled) must still be there.
	if snap[0].Body != "m1" {
		t.Errorf("oldest survivor = %q, want m1", snap[0].Body)
	}
}

func TestCapacity_EvictsOldestWhenNoneHandled(t *testing.T) {
	s := NewStore(Options{Capacity: 2})
	s.Send("agentA", "s-2", "m1")
	s.Send("agentA", "s-2", "m2")
	s.Send("agentA", "s-2", "m3")

	snap := s.Snapshot("s-2")
	if len(snap) != 2 || snap[0].Body != "m2" || snap[1].Body != "m3" {
		t.Errorf("Snapshot = %v, want [m2 m3]", bodies(snap))
	}
}

func TestSend_TruncatesOverlongBody(t *testing.T) {
	s := NewStore(Options{MaxBodyLen: 10})
	m := s.Send("agentA", "s-2", strings.Repeat("x", 50))

	if !strings.HasSuffix(m.Body, TruncationMarker) {
		t.Errorf("body %q missing truncation marker", m.Body)
	}
	if len(m.Body) != 10+len(TruncationMarker) {
		t.Errorf("truncated body len = %d, want %d", len(m.Body), 10+len(TruncationMarker))
	}
}

func TestSend_TruncationKeepsValidUTF8(t *testing.T) {
	s := NewStore(Options{MaxBodyLen: 10})
	// 4-byte runes: byte 10 lands mid-rune, so the cut must back up to 8.
	m := s.Send("agentA", "s-2", strings.Repeat("\U0001F600", 5))

	if !utf8.ValidString(m.Body) {
		t.Fatalf("truncated body is not valid UTF-8: %q", m.Body)
	}
	if !strings.HasSuffix(m.Body, TruncationMarker) {
		t.Errorf("body %q missing truncation marker", m.Body)
	}
	if got := strings.TrimSuffix(m.Body, TruncationMarker); got != strings.Repeat("\U0001F600", 2) {
		t.Errorf("kept prefix = %q, want two whole runes", got)
	}
}

func TestSweep_TTLs(t *testing.T) {
	s := NewStore(Options{HandledTTL: time.Minute, UnhandledTTL: time.Hour})
	s.Send("agentA", "s-2", "old-handled")
	s.Send("agentA", "s-2", "old-unhandled")
	s.MarkHandled("s-2", []int{1})

	// Five minutes out: past handled TTL, inside unhandled TTL.
	dropped := s.Sweep(time.Now().Add(5 * time.Minute))
	if dropped != 1 {
		t.Fatalf("Sweep dropped %d, want 1", dropped)
	}
	snap := s.Snapshot("s-2")
	if len(snap) != 1 || snap[0].Body != "old-unhandled" {
		t.Errorf("survivors = %v, want [old-unhandled]", bodies(snap))
	}

	// Two hours out: unhandled TTL exceeded as well.
	if dropped := s.Sweep(time.Now().Add(2 * time.Hour)); dropped != 1 {
		t.Errorf("second Sweep dropped %d, want 1", dropped)
	}
}

func TestSweep_EnforcesCapacityKeepingUnhandled(t *testing.T) {
	s := NewStore(Options{Capacity: 2, HandledTTL: time.Hour, UnhandledTTL: time.Hour})
	s.Send("agentA", "s-2", "m1")
	s.Send("agentA", "s-2", "m2")
	s.Send("agentA", "s-2", "m3") // evicts m1 at send time
	s.MarkHandled("s-2", []int{3})

	s.Sweep(time.Now())
	snap := s.Snapshot("s-2")
	if len(snap) > 2 {
		t.Fatalf("mailbox over capacity after sweep: %d", len(snap))
	}
	// Fresh unhandled m2 must survive; it is younger than its TTL.
	found := false
	for _, m := range snap {
		if m.Body == "m2" {
			found = true
		}
	}
	if !found {
		t.Error("unhandled m2 dropped by sweep while inside its TTL")
	}
}

func TestReset(t *testing.T) {
	s := NewStore(Options{})
	s.Send("agentA", "s-2", "hi")
	s.MarkPresented("s-2", []int{1})
	s.Reset()

	if n := s.Pending("s-2"); n != 0 {
		t.Errorf("Pending after reset = %d, want 0", n)
	}
	// Presented set cleared too: a fresh seq-1 message wakes again.
	s.Send("agentA", "s-2", "again")
	if got := s.NeedingWake("s-2"); len(got) != 1 {
		t.Errorf("NeedingWake after reset = %v, want the new message", got)
	}
}

func bodies(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
