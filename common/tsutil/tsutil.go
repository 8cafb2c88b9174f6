// Package tsutil maps UNIX timestamps to the edges of the UTC calendar
// window containing them. Windows are hour, day, Monday-anchored week and
// month. All math is done on UTC broken-down time, local time is never used.
package tsutil

import "time"

const (
	secondsInHour = 60 * 60
	secondsInDay  = 24 * secondsInHour
	secondsInWeek = 7 * secondsInDay
)

// epoch (1970-01-01) is a Thursday, 3 days after the start of its week.
const epochWeekdayOffset = 3 * secondsInDay

// HourlyLeft - start of the UTC hour containing ts.
func HourlyLeft(ts uint32) uint32 {
	return ts - ts%secondsInHour
}

// HourlyRight - last second of the UTC hour containing ts.
func HourlyRight(ts uint32) uint32 {
	return HourlyLeft(ts) + secondsInHour - 1
}

// DailyLeft - start of the UTC day containing ts.
func DailyLeft(ts uint32) uint32 {
	return ts - ts%secondsInDay
}

// DailyRight - last second of the UTC day containing ts.
func DailyRight(ts uint32) uint32 {
	return DailyLeft(ts) + secondsInDay - 1
}

// weeklyLeft64 - start of the Monday-anchored week containing ts. The first
// week of the epoch starts on 1969-12-29, so the result can be negative.
func weeklyLeft64(ts uint32) int64 {
	t := int64(ts) + epochWeekdayOffset
	return t - t%secondsInWeek - epochWeekdayOffset
}

// WeeklyLeft - start of the Monday-anchored UTC week containing ts. The
// epoch lands mid-week, the left edge of the very first week clamps to 0.
func WeeklyLeft(ts uint32) uint32 {
	left := weeklyLeft64(ts)
	if left < 0 {
		return 0
	}
	return uint32(left)
}

// WeeklyRight - last second of the Monday-anchored UTC week containing ts.
func WeeklyRight(ts uint32) uint32 {
	return uint32(weeklyLeft64(ts) + secondsInWeek - 1)
}

// MonthlyLeft - start of the UTC month containing ts.
func MonthlyLeft(ts uint32) uint32 {
	t := time.Unix(int64(ts), 0).UTC()
	left := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return uint32(left.Unix())
}

// MonthlyRight - last second of the UTC month containing ts. Month lengths
// come from the stdlib calendar, which applies the full Gregorian leap rule
// including the 100/400 corrections.
func MonthlyRight(ts uint32) uint32 {
	t := time.Unix(int64(ts), 0).UTC()
	next := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return uint32(next.Unix() - 1)
}
