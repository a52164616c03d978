package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the periodic sync cycle. It runs one cycle at
// startup, then one per interval, until its context is cancelled.
// Cycles never overlap: a new tick waits for the previous cycle because
// RunScheduledSyncCycle blocks until its connections are done.
type Scheduler struct {
	sync     *SyncService
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(sync *SyncService, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{sync: sync, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))

	s.sync.RunScheduledSyncCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.sync.RunScheduledSyncCycle(ctx)
		}
	}
}
