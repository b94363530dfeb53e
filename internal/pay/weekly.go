package pay

import (
	"time"

	"haulpay/internal/domain"
)

// PayWeekStart is the weekday pay weeks begin on.
const PayWeekStart = time.Friday

// WeeklySummary totals the trips of one pay week.
type WeeklySummary struct {
	WeekStart time.Time
	WeekEnd   time.Time
	Trips     int
	Finished  int
	Miles     float64
	TotalPay  float64
}

// WeekStart returns midnight of the most recent Friday at or before now, in loc.
func WeekStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	offset := (int(local.Weekday()) - int(PayWeekStart) + 7) % 7
	day := local.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
}

// WeekEnd returns the last millisecond of the pay week that starts at start.
func WeekEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, 7).Add(-time.Millisecond)
}

// WeeklyEarnings sums the trips created during the pay week containing now.
func WeeklyEarnings(trips []*domain.Trip, now time.Time, loc *time.Location) WeeklySummary {
	start := WeekStart(now, loc)
	end := WeekEnd(start)

	summary := WeeklySummary{WeekStart: start, WeekEnd: end}
	for _, t := range trips {
		if t.CreatedAt.Before(start) || t.CreatedAt.After(end) {
			continue
		}
		summary.Trips++
		if t.IsFinished {
			summary.Finished++
		}
		summary.Miles += t.TripMiles()
		summary.TotalPay += t.TotalPay
	}
	return summary
}
