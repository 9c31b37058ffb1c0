package core

import (
	"context"
	"fmt"
	"time"
)

type SweepStats struct {
	Examined int
	TimedOut int
	Skipped  int
	Failed   int
}

// TimeoutSweeper transitions verifications past their deadline to TIMED_OUT.
// It is safe to run concurrently with the scheduler and webhook processor: a
// code that lands mid-sweep wins the version compare-and-swap and the sweeper
// counts the row as skipped.
type TimeoutSweeper struct {
	service *Service
	now     func() time.Time
}

func NewTimeoutSweeper(service *Service) (*TimeoutSweeper, error) {
	if service == nil {
		return nil, fmt.Errorf("core: sweeper requires a service")
	}
	return &TimeoutSweeper{
		service: service,
		now:     service.clock,
	}, nil
}

func (s *TimeoutSweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	if s == nil || s.service == nil {
		return SweepStats{}, fmt.Errorf("core: sweeper is not configured")
	}
	startedAt := s.now()
	stats := SweepStats{}

	expired, err := s.service.store.ListExpired(ctx, startedAt)
	if err != nil {
		s.service.observeOperation(ctx, startedAt, "timeout_sweep", err, nil)
		return SweepStats{}, s.service.mapError(err)
	}

	for _, verification := range expired {
		stats.Examined++
		view, err := s.service.MarkTimedOut(ctx, verification.ID)
		if err != nil {
			stats.Failed++
			s.service.logError(ctx, "timeout sweep row failed", map[string]any{
				"verification_id": verification.ID,
				"error":           err.Error(),
			})
			continue
		}
		if view.Status == VerificationStatusTimedOut {
			stats.TimedOut++
			continue
		}
		stats.Skipped++
	}

	s.service.observeOperation(ctx, startedAt, "timeout_sweep", nil, map[string]any{
		"examined":  stats.Examined,
		"timed_out": stats.TimedOut,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
	})
	return stats, nil
}
