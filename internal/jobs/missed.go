package jobs

import (
	"time"

	"github.com/robfig/cron/v3"

	"nutribot/internal/models"
	"nutribot/internal/tally"
)

var lookbacks = []time.Duration{25 * time.Hour, 8 * 24 * time.Hour, 32 * 24 * time.Hour, 367 * 24 * time.Hour}

// PreviousFiring is the latest firing of schedule at or before now.
func PreviousFiring(schedule cron.Schedule, now time.Time, loc *time.Location) (time.Time, bool) {
	local := now.In(loc)
	for _, window := range lookbacks {
		t := schedule.Next(local.Add(-window))
		if t.IsZero() || t.After(local) {
			continue
		}
		for {
			n := schedule.Next(t)
			if n.IsZero() || n.After(local) {
				return t, true
			}
			t = n
		}
	}
	return time.Time{}, false
}

// MissedRun reports whether the most recent expected firing has no recorded
// run, and the report date that firing would have covered. With no run ever
// recorded nothing counts as missed.
func MissedRun(last models.ReportRun, found bool, schedule cron.Schedule, now time.Time, loc *time.Location) (time.Time, bool) {
	if !found {
		return time.Time{}, false
	}
	prev, ok := PreviousFiring(schedule, now, loc)
	if !ok {
		return time.Time{}, false
	}
	expected := tally.Yesterday(prev, loc)
	if last.Date >= tally.FormatDate(expected, loc) {
		return time.Time{}, false
	}
	return expected, true
}
