// Package pay holds the pure pay rules: night classification, trip pay and weekly totals.
package pay

import (
	"time"

	"haulpay/internal/domain"
)

// IsNight reports whether now falls inside the configured night window.
// The window is read in the settings' zone and may wrap midnight.
// Equal start and end mean the whole day counts as night.
func IsNight(now time.Time, s domain.Settings) bool {
	if !s.NightPayEnabled {
		return false
	}

	local := now.In(s.Location())
	minutes := local.Hour()*60 + local.Minute()
	start := normalizeMinutes(s.NightStartMinutes)
	end := normalizeMinutes(s.NightEndMinutes)

	switch {
	case start == end:
		return true
	case start < end:
		return minutes >= start && minutes < end
	default:
		return minutes >= start || minutes < end
	}
}

func normalizeMinutes(m int) int {
	m %= domain.MinutesPerDay
	if m < 0 {
		m += domain.MinutesPerDay
	}
	return m
}
