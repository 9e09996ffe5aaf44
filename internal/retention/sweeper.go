// Package retention deletes turns that outlived their time-to-live.
package retention

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/observability"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultInterval = time.Hour
)

type State int32

const (
	StateIdle State = iota
	StateSweeping
)

func (s State) String() string {
	if s == StateSweeping {
		return "sweeping"
	}
	return "idle"
}

// Recorder receives sweep outcomes. observability.Metrics implements it.
type Recorder interface {
	ObserveSweep(deleted int64, err error)
}

// stageObserver is optionally implemented by a Recorder to time sweeps.
type stageObserver interface {
	ObserveStage(stage observability.Stage, d time.Duration)
}

type Config struct {
	TTL      time.Duration
	Interval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Sweeper runs one bulk delete per interval. A failed sweep is logged and
// the next one still runs after the full interval; missed ticks are not
// caught up.
type Sweeper struct {
	store    memory.Store
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
	recorder Recorder
	state    atomic.Int32
}

func New(store memory.Store, cfg Config, logger zerolog.Logger, recorder Recorder) *Sweeper {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		store:    store,
		ttl:      cfg.TTL,
		interval: cfg.Interval,
		now:      cfg.Now,
		logger:   logger.With().Str("component", "retention").Logger(),
		recorder: recorder,
	}
}

func (s *Sweeper) State() State { return State(s.state.Load()) }

// SweepOnce deletes every turn older than now-TTL through the store's
// transactional path and returns the number removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	s.state.Store(int32(StateSweeping))
	defer s.state.Store(int32(StateIdle))
	started := time.Now()

	cutoff := s.now().Add(-s.ttl)
	var deleted int64
	err := s.store.InTx(ctx, func(q memory.Queries) error {
		n, err := q.DeleteTurnsBefore(ctx, cutoff)
		deleted = n
		return err
	})
	if s.recorder != nil {
		s.recorder.ObserveSweep(deleted, err)
		if st, ok := s.recorder.(stageObserver); ok {
			st.ObserveStage(observability.StageSweep, time.Since(started))
		}
	}
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Run blocks until ctx is cancelled. An in-flight sweep is allowed to
// finish after cancellation.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("retention sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(context.WithoutCancel(ctx))
		}
	}
}

// Start runs the loop in a goroutine; the returned channel closes on exit.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("retention sweep failed")
		return
	}
	ev := s.logger.Debug()
	if deleted > 0 {
		ev = s.logger.Info()
	}
	ev.Int64("deleted", deleted).Msg("retention sweep complete")
}
