package croneval

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultWindow is the tolerance for tick-source jitter relative to the cron
// schedule. A 1-minute expression ticked at t, t+1s and t+58s must fire
// exactly once for the t-aligned slot.
const DefaultWindow = 65 * time.Second

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a 5-field cron expression
func Parse(expression string) (cron.Schedule, error) {
	sched, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return sched, nil
}

// Previous returns the largest scheduled moment in (floor, now]. The cron
// library only exposes Next, so the moment is found by stepping forward from
// the window floor.
func Previous(sched cron.Schedule, now, floor time.Time) (time.Time, bool) {
	var prev time.Time
	t := floor
	for {
		next := sched.Next(t)
		if next.IsZero() || next.After(now) {
			break
		}
		prev = next
		t = next
	}
	return prev, !prev.IsZero()
}

// Due evaluates whether a cron task should fire for the current tick.
// A task is due iff a scheduled moment falls inside (now-window, now] and
// that moment has not been consumed yet (lastRun < scheduled moment).
// Returns the scheduled moment so callers can record it as the run time.
func Due(expression string, now time.Time, lastRun *time.Time, window time.Duration) (bool, time.Time, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	sched, err := Parse(expression)
	if err != nil {
		return false, time.Time{}, err
	}

	prev, ok := Previous(sched, now, now.Add(-window))
	if !ok {
		return false, time.Time{}, nil
	}
	if lastRun != nil && !lastRun.Before(prev) {
		return false, prev, nil
	}
	return true, prev, nil
}
