// Command pocketd runs the agent coordination engine with its read-only
// observe server. The engine is host-agnostic; this daemon wires it to the
// in-process scripted host, which is what an embedding host process replaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spoons-and-mirrors/pocket-universe/barrier"
	"github.com/spoons-and-mirrors/pocket-universe/config"
	"github.com/spoons-and-mirrors/pocket-universe/engine"
	"github.com/spoons-and-mirrors/pocket-universe/host/scripted"
	"github.com/spoons-and-mirrors/pocket-universe/internal/version"
	"github.com/spoons-and-mirrors/pocket-universe/ledger"
	"github.com/spoons-and-mirrors/pocket-universe/mailbox"
	"github.com/spoons-and-mirrors/pocket-universe/reaper"
	"github.com/spoons-and-mirrors/pocket-universe/registry"
	"github.com/spoons-and-mirrors/pocket-universe/server"
	"github.com/spoons-and-mirrors/pocket-universe/session"
)

var configPath = flag.String("config", "pocket.yaml", "path to YAML config file")

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting pocketd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if dir := filepath.Dir(cfg.RecallDB); dir != "." && cfg.RecallDB != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create data dir %s: %v", dir, err)
		}
	}
	recall, err := ledger.OpenRecallStore(cfg.RecallDB)
	if err != nil {
		log.Fatalf("Failed to open recall store: %v", err)
	}
	defer recall.Close()

	reg := registry.New(cfg.Registry.AliasPrefix, cfg.Registry.ResolveTTL)
	mail := mailbox.NewStore(mailbox.Options{
		Capacity:     cfg.Mailbox.Capacity,
		MaxBodyLen:   cfg.Mailbox.MaxBodyLen,
		HandledTTL:   cfg.Mailbox.HandledTTL,
		UnhandledTTL: cfg.Mailbox.UnhandledTTL,
	})
	sessions := session.NewTracker()
	bar := barrier.New(sessions, mail, barrier.Options{
		MaxIterations: cfg.Barrier.MaxIterations,
		ChildWait:     cfg.Barrier.ChildWait,
		PollInterval:  cfg.Barrier.PollInterval,
	}, logger)
	led := ledger.New(recall, ledger.Options{})

	eng := engine.New(reg, mail, sessions, bar, led,
		scripted.New(200*time.Millisecond, "acknowledged"),
		engine.Options{
			MaxResumeChain:      cfg.Engine.MaxResumeChain,
			MaxChildrenPerAgent: cfg.Engine.MaxChildrenPerAgent,
			Strategy:            session.ParseDeliveryStrategy(cfg.Engine.DeliveryStrategy),
		}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reaper.New(mail, reg, cfg.Reaper.Interval, logger).Run(ctx)

	srv := server.New(*cfg, eng, version.Version, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("observe server stopped", "error", err)
		}
	}()

	fmt.Printf("pocket-universe running, observe API on %s\n", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	fmt.Println("Shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
