package server

import (
	"testing"
	"time"

	"github.com/spoons-and-mirrors/pocket-universe/barrier"
	"github.com/spoons-and-mirrors/pocket-universe/config"
	"github.com/spoons-and-mirrors/pocket-universe/engine"
	"github.com/spoons-and-mirrors/pocket-universe/host/scripted"
	"github.com/spoons-and-mirrors/pocket-universe/ledger"
	"github.com/spoons-and-mirrors/pocket-universe/mailbox"
	"github.com/spoons-and-mirrors/pocket-universe/registry"
	"github.com/spoons-and-mirrors/pocket-universe/session"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	recall, err := ledger.OpenRecallStore(":memory:")
	if err != nil {
		t.Fatalf("OpenRecallStore: %v", err)
	}
	t.Cleanup(func() { recall.Close() })

	sessions := session.NewTracker()
	mail := mailbox.NewStore(mailbox.Options{})
	bar := barrier.New(sessions, mail, barrier.Options{
		MaxIterations: 10,
		ChildWait:     200 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
	}, nil)
	return engine.New(registry.New("agent", 0), mail, sessions, bar,
		ledger.New(recall, ledger.Options{}), scripted.New(0), engine.Options{}, nil)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Auth: config.AuthConfig{
			AdminUser: "admin",
			AdminPass: "secret",
			JWTSecret: "test-secret-key-1234567890",
		},
	}
	s := New(cfg, newTestEngine(t), "test", nil)
	s.registerRoutes()
	return s
}
