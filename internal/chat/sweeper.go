package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pliu/lounge/internal/clock"
	"github.com/pliu/lounge/internal/store"
)

const (
	DefaultSweepInterval  = 15 * time.Second
	DefaultStaleThreshold = 10 * time.Second
)

// Sweeper evicts participants that have not been seen for Threshold.
//
// The threshold is shorter than the interval by default, so a silent participant
// lingers for up to Interval+Threshold before it is evicted.
//
// Sweeps never overlap: one goroutine owns the ticker and runs each sweep inline,
// and time.Ticker drops ticks while a sweep is still running. Each sweep is bounded
// by a deadline of one interval so a stuck datastore cannot stall later sweeps.
type Sweeper struct {
	registry  *Registry
	clock     clock.Clock
	interval  time.Duration
	threshold time.Duration
	log       *slog.Logger
}

func NewSweeper(registry *Registry, c clock.Clock, interval, threshold time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return &Sweeper{
		registry:  registry,
		clock:     c,
		interval:  interval,
		threshold: threshold,
		log:       orDefault(log),
	}
}

// Run sweeps on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("Starting presence sweeper", "interval", s.interval, "threshold", s.threshold)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
			s.Sweep(sweepCtx)
			cancel()
		}
	}
}

// Sweep evicts every stale participant once and returns the evicted names.
// A failed eviction is logged and the sweep moves on to the next participant.
// Staleness is checked again inside each eviction, so a keep-alive that lands
// after the snapshot keeps the participant in the room.
func (s *Sweeper) Sweep(ctx context.Context) []string {
	participants, err := s.registry.List(ctx)
	if err != nil {
		s.log.Error("Sweep could not list participants", "err", err)
		return nil
	}

	cutoff := s.clock.Now().Add(-s.threshold)
	var evicted []string
	for _, p := range participants {
		if p.LastSeenAt.After(cutoff) {
			continue
		}
		if ctx.Err() != nil {
			s.log.Warn("Sweep deadline reached", "evicted", len(evicted))
			break
		}
		_, err := s.registry.Evict(ctx, p.Name, cutoff)
		if errors.Is(err, store.ErrActive) || errors.Is(err, store.ErrNotFound) {
			s.log.Debug("Participant changed during sweep, skipped", "name", p.Name, "err", err)
			continue
		}
		if err != nil {
			s.log.Warn("Failed to evict participant", "name", p.Name, "err", err)
			continue
		}
		evicted = append(evicted, p.Name)
	}

	if len(evicted) > 0 {
		s.log.Info("Sweep evicted participants", "count", len(evicted))
	}
	return evicted
}
