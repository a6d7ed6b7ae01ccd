// Package storage holds helpers shared by the SQL store backends. The
// continuous-limit-up tie-break lives here because the store layer, not the
// metrics computer, owns that policy.
package storage

import "time"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// PrevTradingDay returns the trading date immediately before d, skipping
// weekends. Exchange holidays are not modelled; a holiday gap simply resets
// the continuous count, which errs on the conservative side.
func PrevTradingDay(d time.Time) time.Time {
	for {
		d = d.AddDate(0, 0, -1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			return d
		}
	}
}

// ContinuousCount applies the tie-break: the streak extends only when the
// prior trading date also closed limit-up, otherwise it restarts at one.
func ContinuousCount(prevDayCount int, prevDayFlagged bool) int {
	if prevDayFlagged {
		return prevDayCount + 1
	}
	return 1
}
