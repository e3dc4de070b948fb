package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marcus-qen/legator/internal/telemetry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// isScheduleDue accepts either a plain Go duration ("6h") or a standard
// five-field cron expression ("0 */6 * * *"), mirroring the teacher's
// jobs/scheduler.go dual-format schedule parsing for background jobs.
func isScheduleDue(schedule string, lastRunAt, now time.Time) (bool, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return false, fmt.Errorf("schedule is required")
	}
	anchor := lastRunAt.UTC()
	if anchor.IsZero() {
		anchor = now.UTC()
	}

	if interval, err := time.ParseDuration(schedule); err == nil {
		if interval <= 0 {
			return false, fmt.Errorf("interval must be > 0")
		}
		return !anchor.Add(interval).After(now.UTC()), nil
	}

	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return false, err
	}
	return !spec.Next(anchor).After(now.UTC()), nil
}

// PurgeOnSchedule runs retention purges on a duration or cron schedule,
// checked once a minute, until ctx is cancelled. It supplements the
// fixed-interval PurgeLoop with cron-expression support (e.g. "purge at
// 03:00 daily" rather than "purge every N hours").
func (s *Store) PurgeOnSchedule(ctx context.Context, retention time.Duration, schedule string) {
	if retention <= 0 || strings.TrimSpace(schedule) == "" {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	lastRun := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := isScheduleDue(schedule, lastRun, now)
			if err != nil {
				s.logger.Warn("audit: invalid purge schedule", zap.String("schedule", schedule), zap.Error(err))
				return
			}
			if !due {
				continue
			}
			lastRun = now
			spanCtx, span := telemetry.StartPurgeSpan(ctx, retention.Seconds())
			deleted, err := s.Purge(spanCtx, retention)
			telemetry.EndPurgeSpan(span, deleted, err)
			if err != nil {
				s.logger.Warn("audit: scheduled purge failed", zap.Error(err))
			}
		}
	}
}
