package pay

import (
	"testing"
	"time"

	"haulpay/internal/domain"
)

func TestWeekStart_Friday(t *testing.T) {
	t.Parallel()

	// 2024-03-01 is a Friday.
	friday := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"friday morning", time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), friday},
		{"saturday", time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), friday},
		{"thursday night", time.Date(2024, 3, 7, 23, 59, 59, 0, time.UTC), friday},
		{"next friday", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), friday.AddDate(0, 0, 7)},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := WeekStart(tc.now, time.UTC); !got.Equal(tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestWeekEnd_LastMillisecondOfThursday(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2024, 3, 7, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	if got := WeekEnd(start); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestWeeklyEarnings_SumsTripsInWeek(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	trips := []*domain.Trip{
		{ID: "before", CreatedAt: time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC), TotalPay: 100},
		{ID: "friday", CreatedAt: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), TotalPay: 120.5, IsFinished: true, StartMileage: 10, CurrentMileage: 60},
		{ID: "tuesday", CreatedAt: time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC), TotalPay: 80, StartMileage: 100, CurrentMileage: 130},
		{ID: "after", CreatedAt: time.Date(2024, 3, 8, 1, 0, 0, 0, time.UTC), TotalPay: 999},
	}

	got := WeeklyEarnings(trips, now, time.UTC)

	if got.Trips != 2 || got.Finished != 1 {
		t.Errorf("expected 2 trips (1 finished), got %d (%d)", got.Trips, got.Finished)
	}
	if !almostEqual(got.TotalPay, 200.5) {
		t.Errorf("expected 200.5, got %v", got.TotalPay)
	}
	if !almostEqual(got.Miles, 80) {
		t.Errorf("expected 80 miles, got %v", got.Miles)
	}
}
