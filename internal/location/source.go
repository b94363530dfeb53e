// Package location delivers device GPS fixes to trip sessions.
package location

import (
	"context"
	"errors"

	"haulpay/internal/domain"
)

var (
	// ErrPermissionDenied is returned when the device refused location access.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrUnavailable is returned when no fix could be obtained in time.
	ErrUnavailable = errors.New("location unavailable")
)

// Subscription identifies an active Watch registration.
type Subscription struct {
	TripID string
	ID     uint64
}

// Source produces GPS fixes for a single trip.
type Source interface {
	// CurrentFix returns one fresh fix or fails with ErrPermissionDenied or ErrUnavailable.
	CurrentFix(ctx context.Context) (domain.GeoPoint, error)

	// Watch delivers fixes one at a time to onFix, and failures to onError, until cancelled.
	Watch(onFix func(domain.GeoPoint), onError func(error)) (Subscription, error)

	// Cancel stops a watch. Callbacks already dispatched may still complete.
	Cancel(sub Subscription)
}
