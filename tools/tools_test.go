package tools

import (
	"context"
	"testing"
	"time"

	"github.com/spoons-and-mirrors/pocket-universe/barrier"
	"github.com/spoons-and-mirrors/pocket-universe/engine"
	"github.com/spoons-and-mirrors/pocket-universe/host/scripted"
	"github.com/spoons-and-mirrors/pocket-universe/ledger"
	"github.com/spoons-and-mirrors/pocket-universe/mailbox"
	"github.com/spoons-and-mirrors/pocket-universe/registry"
	"github.com/spoons-and-mirrors/pocket-universe/session"
)

func newTestEngine(t *testing.T) (*engine.Engine, *scripted.Host) {
	t.Helper()
	recall, err := ledger.OpenRecallStore(":memory:")
	if err != nil {
		t.Fatalf("OpenRecallStore: %v", err)
	}
	t.Cleanup(func() { recall.Close() })

	h := scripted.New(0, "done")
	sessions := session.NewTracker()
	mail := mailbox.NewStore(mailbox.Options{})
	bar := barrier.New(sessions, mail, barrier.Options{
		MaxIterations: 10,
		ChildWait:     200 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
	}, nil)
	e := engine.New(registry.New("agent", 0), mail, sessions, bar,
		ledger.New(recall, ledger.Options{}), h, engine.Options{}, nil)
	return e, h
}

func callerCtx(sessionID string) context.Context {
	return WithSessionID(context.Background(), sessionID)
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("result type %T, want map", v)
	}
	return m
}

func TestPeerSend_Delivers(t *testing.T) {
	e, _ := newTestEngine(t)
	tool := &PeerSendTool{Engine: e}

	if _, err := tool.Execute(callerCtx("a"), map[string]any{"to": "nobody", "body": "warm up"}); err != nil {
		t.Fatalf("register-side Execute: %v", err)
	}
	bAlias, _ := e.EnsureRegistered(context.Background(), "b")

	result, err := tool.Execute(callerCtx("a"), map[string]any{"to": bAlias, "body": "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := asMap(t, result)
	if m["delivered"] != 1 {
		t.Errorf("delivered = %v, want 1", m["delivered"])
	}
	if n := e.Mail().Pending("b"); n != 1 {
		t.Errorf("Pending(b) = %d, want 1", n)
	}
}

func TestPeerSend_CallerErrorsInPayload(t *testing.T) {
	e, _ := newTestEngine(t)
	tool := &PeerSendTool{Engine: e}

	result, err := tool.Execute(callerCtx("a"), map[string]any{"to": "agentQ", "body": "hi"})
	if err != nil {
		t.Fatalf("caller error escaped as Go error: %v", err)
	}
	if msg, _ := asMap(t, result)["error"].(string); msg == "" {
		t.Errorf("result = %v, want error field", result)
	}
}

func TestPeerSend_RequiresSessionContext(t *testing.T) {
	e, _ := newTestEngine(t)
	tool := &PeerSendTool{Engine: e}
	if _, err := tool.Execute(context.Background(), map[string]any{"to": "x", "body": "y"}); err == nil {
		t.Error("Execute without session ID succeeded")
	}
}

func TestPeerSend_ReplyToAck(t *testing.T) {
	e, h := newTestEngine(t)
	tool := &PeerSendTool{Engine: e}

	e.EnsureRegistered(context.Background(), "a")
	e.EnsureRegistered(context.Background(), "b")
	receipt, err := e.Send(context.Background(), "a", e.Registry().Alias("b"), "question", nil)
	if err != nil {
		t.Fatalf("seed Send: %v", err)
	}
	h.Wait()

	result, err := tool.Execute(callerCtx("b"), map[string]any{
		"to":       "",
		"body":     "",
		"reply_to": []any{float64(receipt.Delivered[0].Seq)},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := asMap(t, result)
	if handled, _ := m["handled"].([]int); len(handled) != 1 {
		t.Errorf("handled = %v, want one seq", m["handled"])
	}
}

func TestAgentSpawn_Count(t *testing.T) {
	e, h := newTestEngine(t)
	tool := &AgentSpawnTool{Engine: e}

	result, err := tool.Execute(callerCtx("parent"), map[string]any{
		"prompt": "split the work",
		"count":  float64(2),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	h.Wait()

	spawned, _ := asMap(t, result)["spawned"].([]string)
	if len(spawned) != 2 || spawned[0] == spawned[1] {
		t.Errorf("spawned = %v, want two distinct aliases", spawned)
	}
}

func TestAgentSpawn_MissingPrompt(t *testing.T) {
	e, _ := newTestEngine(t)
	tool := &AgentSpawnTool{Engine: e}
	result, err := tool.Execute(callerCtx("parent"), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if msg, _ := asMap(t, result)["error"].(string); msg == "" {
		t.Errorf("result = %v, want error field", result)
	}
}

func TestAgentStatus_PostAndQuery(t *testing.T) {
	e, _ := newTestEngine(t)
	tool := &AgentStatusTool{Engine: e}

	resultA, err := tool.Execute(callerCtx("a"), map[string]any{"status": "mapping the codebase"})
	if err != nil {
		t.Fatalf("Execute a: %v", err)
	}
	aAlias, _ := asMap(t, resultA)["alias"].(string)

	resultB, err := tool.Execute(callerCtx("b"), map[string]any{"query_alias": aAlias})
	if err != nil {
		t.Fatalf("Execute b: %v", err)
	}
	m := asMap(t, resultB)
	records, _ := m["records"].([]ledger.Record)
	if len(records) != 1 || len(records[0].StatusHistory) != 1 {
		t.Fatalf("records = %+v, want a's single status line", m["records"])
	}
	if records[0].StatusHistory[0] != "mapping the codebase" {
		t.Errorf("history = %v", records[0].StatusHistory)
	}
	peers, _ := m["peers"].([]peerEntry)
	if len(peers) != 1 || peers[0].Alias != aAlias {
		t.Errorf("peers = %+v, want just %s", peers, aAlias)
	}
}

func TestAgentStatus_CallerErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	tool := &AgentStatusTool{Engine: e}

	result, err := tool.Execute(callerCtx("a"), map[string]any{"include_output": true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if msg, _ := asMap(t, result)["error"].(string); msg == "" {
		t.Errorf("include_output without query_alias accepted: %v", result)
	}

	result, err = tool.Execute(callerCtx("a"), map[string]any{"query_alias": "agentZZ"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if msg, _ := asMap(t, result)["error"].(string); msg == "" {
		t.Errorf("unknown alias accepted: %v", result)
	}
}

func TestAll_DistinctNames(t *testing.T) {
	e, _ := newTestEngine(t)
	seen := make(map[string]bool)
	for _, tool := range All(e) {
		if seen[tool.Name()] {
			t.Errorf("duplicate tool name %s", tool.Name())
		}
		seen[tool.Name()] = true
		def := tool.Definition()
		if def.Name != tool.Name() || def.Parameters == nil {
			t.Errorf("tool %s has inconsistent definition", tool.Name())
		}
	}
	if len(seen) != 3 {
		t.Errorf("tool count = %d, want 3", len(seen))
	}
}
