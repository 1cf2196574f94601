package orchestrator

import (
	"context"
	"time"

	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Scheduler drives ticks for running jobs on a bounded pool. A job never
// has more than one tick in flight; jobs that do not fit in the pool wait
// for the next round.
type Scheduler struct {
	orch     *Orchestrator
	running  func(ctx context.Context) ([]string, error)
	workers  int
	interval time.Duration
}

// NewScheduler creates a Scheduler with workers concurrent ticks, polling
// for running jobs every interval.
func NewScheduler(orch *Orchestrator, workers int, interval time.Duration) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		orch:     orch,
		running:  orch.store.RunningJobIDs,
		workers:  workers,
		interval: interval,
	}
}

// Run dispatches ticks until ctx is cancelled, then waits for in-flight
// ticks to return.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "scheduler")
	var g errgroup.Group
	g.SetLimit(s.workers)

	logger.CtxInfo(ctx, "Scheduler started: workers=%d, interval=%s", s.workers, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.dispatch(ctx, &g)
		select {
		case <-ctx.Done():
			err := g.Wait()
			logger.CtxInfo(ctx, "Scheduler stopped")
			return err
		case <-ticker.C:
		}
	}
}

// dispatch hands every running job without a tick in flight to the pool.
func (s *Scheduler) dispatch(ctx context.Context, g *errgroup.Group) {
	ids, err := s.running(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.CtxError(ctx, "Failed to list running jobs: %v", err)
		}
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		rt := s.orch.runtime(id)
		if rt.pause.Load() || !rt.dispatched.CompareAndSwap(false, true) {
			continue
		}

		jobID := id
		started := g.TryGo(func() error {
			defer rt.dispatched.Store(false)
			if _, err := s.orch.Tick(ctx, jobID); err != nil && ctx.Err() == nil {
				logger.CtxError(logger.SetJobID(ctx, jobID), "Tick failed: %v", err)
			}
			return nil
		})
		if !started {
			rt.dispatched.Store(false)
			rt.activity.Store(domain.ActivityWaiting)
		}
	}
}
