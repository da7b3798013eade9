package metrics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartScheduler runs the weekly aggregation on a cron schedule until ctx
// is cancelled. The schedule is a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "5 0 * * 1" for
// Mondays at 00:05. An empty schedule disables the scheduler. Each run
// aggregates the week that just ended.
func StartScheduler(ctx context.Context, a *Aggregator, schedule string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		logger.Info("weekly metrics scheduler disabled")
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return err
	}
	logger.Info("weekly metrics scheduled", "cron", schedule)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			week := StartOfWeek(time.Now().UTC().AddDate(0, 0, -7))
			if _, err := a.ComputeWeekly(ctx, week); err != nil {
				logger.Error("weekly aggregation failed", "week_start", week.Format("2006-01-02"), "error", err)
				continue
			}
			logger.Info("weekly aggregation complete", "week_start", week.Format("2006-01-02"))
		}
	}()
	return nil
}
