package quota

import (
	"time"

	"github.com/threadgate/threadgate/internal/core"
)

// NextDayBoundary returns the start of the calendar day after now in loc.
func NextDayBoundary(now time.Time, loc *time.Location) time.Time {
	t := now.In(location(loc))
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location()).UTC()
}

// NextMonthBoundary returns the start of the calendar month after now in loc.
func NextMonthBoundary(now time.Time, loc *time.Location) time.Time {
	t := now.In(location(loc))
	y, m, _ := t.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location()).UTC()
}

// Rollover zeroes every counter whose reset time has passed and moves its
// reset time to the next boundary after now. Counters that were never used
// (zero reset time) get their first boundary.
func Rollover(s *core.QuotaState, now time.Time, loc *time.Location) {
	if due(s.DailyOperationResetAt, now) {
		s.DailyOperationCount = 0
		s.DailyOperationResetAt = NextDayBoundary(now, loc)
	}
	if due(s.DailySpendResetAt, now) {
		s.DailySpend = 0
		s.DailySpendResetAt = NextDayBoundary(now, loc)
	}
	if due(s.MonthlySpendResetAt, now) {
		s.MonthlySpend = 0
		s.MonthlySpendResetAt = NextMonthBoundary(now, loc)
	}
}

func due(resetAt, now time.Time) bool {
	return !now.Before(resetAt)
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
