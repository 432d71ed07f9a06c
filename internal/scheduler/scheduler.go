package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/hazardscan/internal/dispatcher"
)

// Pass is the per-tick work the scheduler drives.
type Pass interface {
	RunOnce(ctx context.Context) (dispatcher.BatchReport, error)
	ReclaimStuck(ctx context.Context) (int64, error)
}

// Scheduler fires the dispatcher at a fixed period. Passes run one at a time
// on a single goroutine; the tick that fires while a slow pass is still
// running is dropped, so a long pass is followed by a full interval rather
// than a burst. The dispatcher bounds its own batch, so dropped ticks lose
// nothing. Tick errors are logged and the following tick proceeds
// independently.
type Scheduler struct {
	pass     Pass
	interval time.Duration
	logger   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a scheduler over the given pass.
func New(pass Pass, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		pass:     pass,
		interval: interval,
		logger:   logger.Named("scheduler"),
		stop:     make(chan struct{}),
	}
}

// Start launches the ticking goroutine. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			s.tick(ctx)

			// Drop the tick that buffered while the pass ran.
			select {
			case <-ticker.C:
			default:
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the ticking goroutine and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.pass.ReclaimStuck(ctx); err != nil {
		s.logger.Error("stuck reclaim failed", zap.Error(err))
	}

	report, err := s.pass.RunOnce(ctx)
	if err != nil {
		s.logger.Error("dispatch pass failed", zap.Error(err))
		return
	}
	if report.Attempted > 0 {
		s.logger.Info("tick processed records",
			zap.Int("attempted", report.Attempted),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
		)
	}
}
