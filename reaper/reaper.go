// Package reaper runs the periodic maintenance pass: mailbox TTL eviction
// and registry resolve-cache expiry. It is the only component that calls the
// sweep entry points; everything else stays event-driven.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval between sweep passes.
const DefaultInterval = time.Minute

// Sweeper is a store that can evict expired entries as of now.
type Sweeper interface {
	Sweep(now time.Time) int
}

// CacheSweeper is a store with a secondary expirable cache.
type CacheSweeper interface {
	SweepResolveCache(now time.Time) int
}

// Reaper drives the sweep loop.
type Reaper struct {
	mail     Sweeper
	registry CacheSweeper
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Reaper. A zero interval takes DefaultInterval.
func New(mail Sweeper, registry CacheSweeper, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{mail: mail, registry: registry, interval: interval, logger: logger}
}

// Run sweeps on a fixed ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.SweepOnce(now)
		}
	}
}

// SweepOnce performs a single maintenance pass.
func (r *Reaper) SweepOnce(now time.Time) {
	messages := r.mail.Sweep(now)
	cached := 0
	if r.registry != nil {
		cached = r.registry.SweepResolveCache(now)
	}
	if messages > 0 || cached > 0 {
		r.logger.Debug("reaper pass",
			slog.Int("messages_dropped", messages),
			slog.Int("cache_entries_dropped", cached),
		)
	}
}
