package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SweepFunc cancels expired requisitions and reports how many it cancelled.
type SweepFunc func(ctx context.Context) (int, error)

type Sweeper struct {
	sweep    SweepFunc
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

func NewSweeper(sweep SweepFunc, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		sweep:    sweep,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs a sweep immediately and then once per interval until Stop is
// called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("starting expiration sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stopping expiration sweeper")
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.stopCh:
			s.log.Info("expiration sweeper stopped")
			return
		case <-ctx.Done():
			s.log.Info("expiration sweeper cancelled")
			return
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("expiration sweep failed", zap.Error(err))
	}
}

// RunOnce performs a single sweep outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.sweep(ctx)
	if err != nil {
		return n, err
	}
	s.log.Debug("expiration sweep finished",
		zap.Int("cancelled", n),
		zap.Duration("duration", time.Since(start)),
	)
	return n, nil
}
