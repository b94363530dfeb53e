package pay

import (
	"math"
	"time"

	"haulpay/internal/domain"
)

// Odometer is the result of a manual odometer entry.
type Odometer struct {
	CurrentMileage float64
	NightMiles     float64
	Delta          float64
	NightDelta     float64
}

// ApplyOdometer folds a manually entered odometer reading into the trip totals.
// A positive delta is classified as a whole using IsNight at now. Night miles are
// kept within the trip distance, so a downward correction may reduce them.
func ApplyOdometer(startMileage, currentMileage, nightMiles, odometer float64, now time.Time, s domain.Settings) Odometer {
	delta := odometer - currentMileage
	nightDelta := 0.0
	if delta > 0 && IsNight(now, s) {
		nightDelta = delta
	}

	night := clamp(nightMiles+nightDelta, 0, math.Max(odometer-startMileage, 0))

	return Odometer{
		CurrentMileage: odometer,
		NightMiles:     night,
		Delta:          delta,
		NightDelta:     nightDelta,
	}
}
