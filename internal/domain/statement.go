package domain

import "time"

// PayBreakdown itemises how a trip total is built from its rates.
type PayBreakdown struct {
	TripMiles     float64 `json:"trip_miles"`
	DayMiles      float64 `json:"day_miles"`
	NightMiles    float64 `json:"night_miles"`
	CPM           float64 `json:"cpm"`
	NightExtraCPM float64 `json:"night_extra_cpm"`
	MileagePay    float64 `json:"mileage_pay"`
	NightBonus    float64 `json:"night_bonus"`
	Loads         int     `json:"loads"`
	LoadsPay      float64 `json:"loads_pay"`
	Stops         int     `json:"stops"`
	StopsPay      float64 `json:"stops_pay"`
	Total         float64 `json:"total"`
}

// PayStatement is a printable summary of a trip's earnings.
type PayStatement struct {
	ID           string
	TripID       string
	UserID       string
	StartMileage float64
	EndMileage   float64
	Breakdown    PayBreakdown
	StoredPay    float64
	IsFinished   bool
	StartedAt    time.Time
	FinishedAt   *time.Time
	GeneratedAt  time.Time
}
