package domain

import (
	"math"
	"time"
)

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is inside WGS84 bounds.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// SegmentSnapshot is the local mirror of an open segment, used to resume after a restart.
type SegmentSnapshot struct {
	TripID           string        `json:"tripId"`
	Target           SegmentTarget `json:"target"`
	MilesBuffer      float64       `json:"milesBuffer"`
	NightMilesBuffer float64       `json:"nightMilesBuffer"`
	LastLocation     GeoPoint      `json:"lastLocation"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}
