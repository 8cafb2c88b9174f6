package tsutil

import "testing"

func TestHourly(t *testing.T) {
	tests := []struct {
		ts, left, right uint32
	}{
		{0, 0, 3599},
		{3599, 0, 3599},
		{3600, 3600, 7199},
		{3661, 3600, 7199},
		{1591790400, 1591790400, 1591793999}, // 2020-06-10 12:00:00
	}
	for _, tt := range tests {
		if got := HourlyLeft(tt.ts); got != tt.left {
			t.Errorf("HourlyLeft(%d) = %d, want %d", tt.ts, got, tt.left)
		}
		if got := HourlyRight(tt.ts); got != tt.right {
			t.Errorf("HourlyRight(%d) = %d, want %d", tt.ts, got, tt.right)
		}
	}
}

func TestDaily(t *testing.T) {
	tests := []struct {
		ts, left, right uint32
	}{
		{0, 0, 86399},
		{86399, 0, 86399},
		{90000, 86400, 172799},
		{1591790400, 1591747200, 1591833599}, // 2020-06-10
	}
	for _, tt := range tests {
		if got := DailyLeft(tt.ts); got != tt.left {
			t.Errorf("DailyLeft(%d) = %d, want %d", tt.ts, got, tt.left)
		}
		if got := DailyRight(tt.ts); got != tt.right {
			t.Errorf("DailyRight(%d) = %d, want %d", tt.ts, got, tt.right)
		}
	}
}

func TestWeekly(t *testing.T) {
	tests := []struct {
		ts, left, right uint32
	}{
		// the epoch is a Thursday, its week's left edge clamps to 0
		{0, 0, 345599},
		{345599, 0, 345599},
		// 1970-01-05 is the first full Monday
		{345600, 345600, 950399},
		{400000, 345600, 950399},
		// 2020-06-10 (Wednesday) -> week of Monday 2020-06-08
		{1591790400, 1591574400, 1592179199},
	}
	for _, tt := range tests {
		if got := WeeklyLeft(tt.ts); got != tt.left {
			t.Errorf("WeeklyLeft(%d) = %d, want %d", tt.ts, got, tt.left)
		}
		if got := WeeklyRight(tt.ts); got != tt.right {
			t.Errorf("WeeklyRight(%d) = %d, want %d", tt.ts, got, tt.right)
		}
	}
}

func TestMonthly(t *testing.T) {
	tests := []struct {
		name            string
		ts, left, right uint32
	}{
		{"epoch month", 100, 0, 2678399},
		{"feb 1972 leap", 65750400 + 1000, 65750400, 68255999},
		{"feb 2015", 1423526400, 1422748800, 1425167999},
		{"feb 2016 leap", 1455494400, 1454284800, 1456790399},
		// 2100 is divisible by 4 but not a leap year
		{"feb 2100 century", 4105123200 + 86400, 4105123200, 4107542399},
	}
	for _, tt := range tests {
		if got := MonthlyLeft(tt.ts); got != tt.left {
			t.Errorf("%s: MonthlyLeft(%d) = %d, want %d", tt.name, tt.ts, got, tt.left)
		}
		if got := MonthlyRight(tt.ts); got != tt.right {
			t.Errorf("%s: MonthlyRight(%d) = %d, want %d", tt.name, tt.ts, got, tt.right)
		}
	}
}

func TestWindowsTile(t *testing.T) {
	// adjacent windows must tile the time axis without gaps or overlap
	for ts := uint32(1000000); ts < 1000000+400000; ts += 3611 {
		if HourlyRight(ts)+1 != HourlyLeft(HourlyRight(ts)+1) {
			t.Fatalf("hourly windows do not tile at %d", ts)
		}
		if DailyLeft(ts) > ts || DailyRight(ts) < ts {
			t.Fatalf("daily window does not contain %d", ts)
		}
		if WeeklyLeft(ts) > ts || WeeklyRight(ts) < ts {
			t.Fatalf("weekly window does not contain %d", ts)
		}
		if MonthlyLeft(ts) > ts || MonthlyRight(ts) < ts {
			t.Fatalf("monthly window does not contain %d", ts)
		}
	}
}
