package pay

import (
	"math"

	"haulpay/internal/domain"
)

// DriftEpsilon is the largest difference between stored and recomputed pay tolerated on load.
const DriftEpsilon = 0.01

// Calculate returns total pay for the trip inputs. No rounding is applied.
func Calculate(tripMiles float64, loads []domain.Load, s domain.Settings, nightMiles float64) float64 {
	return Explain(tripMiles, loads, s, nightMiles).Total
}

// Explain itemises Calculate.
func Explain(tripMiles float64, loads []domain.Load, s domain.Settings, nightMiles float64) domain.PayBreakdown {
	extra := 0.0
	if s.NightPayEnabled {
		extra = s.NightExtraCPM
	}

	night := clamp(nightMiles, 0, math.Max(tripMiles, 0))
	day := tripMiles - night

	mileagePay := day*s.CPM + night*(s.CPM+extra)
	stops := domain.TotalStops(loads)
	loadsPay := float64(len(loads)) * s.PayPerLoad
	stopsPay := float64(stops) * s.PayPerStop

	return domain.PayBreakdown{
		TripMiles:     tripMiles,
		DayMiles:      day,
		NightMiles:    night,
		CPM:           s.CPM,
		NightExtraCPM: extra,
		MileagePay:    mileagePay,
		NightBonus:    night * extra,
		Loads:         len(loads),
		LoadsPay:      loadsPay,
		Stops:         stops,
		StopsPay:      stopsPay,
		Total:         mileagePay + loadsPay + stopsPay,
	}
}

// ForTrip recomputes pay from a trip's committed state.
func ForTrip(t *domain.Trip, s domain.Settings) float64 {
	return Calculate(t.TripMiles(), t.Loads, s, t.NightMiles)
}

// Project returns what the trip would pay if the buffered segment miles were folded in now.
func Project(t *domain.Trip, s domain.Settings, milesBuffer, nightMilesBuffer float64) float64 {
	return Calculate(t.TripMiles()+milesBuffer, t.Loads, s, t.NightMiles+nightMilesBuffer)
}

// Drifted reports whether a stored total disagrees with a recomputed one.
func Drifted(stored, recomputed float64) bool {
	return math.Abs(stored-recomputed) > DriftEpsilon
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
