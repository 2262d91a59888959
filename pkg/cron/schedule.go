package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun computes the next fire time in epoch milliseconds for a
// schedule, relative to now.
func NextRun(schedule Schedule, now time.Time) (int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return nextAt(schedule)
	case ScheduleKindEvery:
		return nextEvery(schedule, now)
	case ScheduleKindCron:
		return nextCron(schedule, now)
	default:
		return 0, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

func nextAt(schedule Schedule) (int64, error) {
	if schedule.At == "" {
		return 0, fmt.Errorf("'at' schedule requires 'at' field")
	}
	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %w", err)
	}
	return t.UnixMilli(), nil
}

func nextEvery(schedule Schedule, now time.Time) (int64, error) {
	if schedule.EveryMs <= 0 {
		return 0, fmt.Errorf("'every' schedule requires positive 'everyMs' value")
	}
	return now.UnixMilli() + schedule.EveryMs, nil
}

func nextCron(schedule Schedule, now time.Time) (int64, error) {
	if schedule.Expr == "" {
		return 0, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return 0, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now).UnixMilli(), nil
}
