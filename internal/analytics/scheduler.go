package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler periodically rolls up the previous UTC day. The first run
// happens immediately so a restarted node catches up.
type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(service *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{service: service, interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.service.logger.Info("Rollup scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.service.logger.Info("Rollup scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	yesterday := s.service.now().UTC().AddDate(0, 0, -1)
	if _, err := s.service.Rollup(ctx, yesterday); err != nil && ctx.Err() == nil {
		s.service.logger.Error("Scheduled rollup failed",
			zap.String("date", yesterday.Format("2006-01-02")),
			zap.Error(err))
	}
}
