package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule runs fn at every fire time of expr until ctx is done. Runs never
// overlap: a fire time that passes while fn is running is skipped.
func Schedule(ctx context.Context, expr string, fn func(context.Context)) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("retry: schedule %q: %w", expr, err)
	}

	timer := time.NewTimer(until(sched, time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			fn(ctx)
			timer.Reset(until(sched, time.Now()))
		}
	}
}

func until(sched cron.Schedule, now time.Time) time.Duration {
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
