package session

import (
	"context"
	"testing"
	"time"
)

func TestTracker_Transitions(t *testing.T) {
	tr := NewTracker()

	if tr.IsIdle("s-1") {
		t.Error("untracked session reported idle")
	}

	tr.MarkActive("s-1")
	if tr.IsIdle("s-1") {
		t.Error("active session reported idle")
	}

	tr.MarkIdle("s-1")
	if !tr.IsIdle("s-1") {
		t.Error("idle session not reported idle")
	}

	// idle → active again on resume
	tr.MarkActive("s-1")
	if tr.IsIdle("s-1") {
		t.Error("resumed session still reported idle")
	}
}

func TestTracker_LastActivity(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.LastActivity("s-1"); ok {
		t.Error("untracked session has activity timestamp")
	}

	before := time.Now()
	tr.MarkActive("s-1")
	got, ok := tr.LastActivity("s-1")
	if !ok || got.Before(before) {
		t.Errorf("LastActivity = %v, %v; want timestamp >= %v", got, ok, before)
	}
}

func TestWaitIdle_ReturnsWhenMarked(t *testing.T) {
	tr := NewTracker()
	tr.MarkActive("s-1")

	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.MarkIdle("s-1")
	}()

	if !tr.WaitIdle(context.Background(), "s-1", 2*time.Second) {
		t.Error("WaitIdle = false, want true once marked idle")
	}
}

func TestWaitIdle_TimeoutGivesUp(t *testing.T) {
	tr := NewTracker()
	tr.MarkActive("s-1")

	start := time.Now()
	if tr.WaitIdle(context.Background(), "s-1", 300*time.Millisecond) {
		t.Error("WaitIdle = true for a session that never went idle")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("WaitIdle blocked %v, want prompt give-up", elapsed)
	}
}

func TestWaitIdle_ContextCancel(t *testing.T) {
	tr := NewTracker()
	tr.MarkActive("s-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if tr.WaitIdle(ctx, "s-1", time.Minute) {
		t.Error("WaitIdle = true after context cancel")
	}
}

func TestParseDeliveryStrategy(t *testing.T) {
	cases := map[string]DeliveryStrategy{
		"inbox":   DeliverInbox,
		"resume":  DeliverResume,
		"persist": DeliverPersist,
		"":        DeliverInbox,
		"bogus":   DeliverInbox,
	}
	for in, want := range cases {
		if got := ParseDeliveryStrategy(in); got != want {
			t.Errorf("ParseDeliveryStrategy(%q) = %q, want %q", in, got, want)
		}
	}
}
