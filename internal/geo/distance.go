// Package geo computes great-circle distances between GPS fixes.
package geo

import (
	"math"

	"haulpay/internal/domain"
)

// EarthRadiusMiles is the mean Earth radius used for all mileage.
const EarthRadiusMiles = 3958.8

// Distance returns the Haversine distance between a and b in miles.
// Inputs are not range checked.
func Distance(a, b domain.GeoPoint) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Haversine returns the great-circle distance in miles between two coordinates given in degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lng2 - lng1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMiles * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
