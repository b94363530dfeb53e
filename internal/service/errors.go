package service

import "errors"

var (
	// ErrInvalidUserID is returned when user ID is empty.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidStartMileage is returned when a trip is created with a negative or non-numeric odometer.
	ErrInvalidStartMileage = errors.New("start mileage must be a non-negative number")

	// ErrInvalidStopCount is returned when a load would have no stops.
	ErrInvalidStopCount = errors.New("stop count must be at least 1")

	// ErrInvalidLoadType is returned for a load type other than wet or dry.
	ErrInvalidLoadType = errors.New("load type must be wet or dry")

	// ErrInvalidOdometer is returned when an odometer reading is below the trip start.
	ErrInvalidOdometer = errors.New("odometer must not be below the trip start mileage")

	// ErrTripFinished is returned when mutating a finished trip.
	ErrTripFinished = errors.New("trip is finished")

	// ErrLoadNotFound is returned when the load is not part of the trip.
	ErrLoadNotFound = errors.New("load not found")

	// ErrStopNotFound is returned when the stop is not part of the load.
	ErrStopNotFound = errors.New("stop not found")

	// ErrStopNotEligible is returned when departing to a stop other than the next pending one.
	ErrStopNotEligible = errors.New("only the next pending stop can be departed to")

	// ErrDepotNotEligible is returned when returning to the depot before every stop is arrived, or after the load finished.
	ErrDepotNotEligible = errors.New("depot return requires all stops arrived on an unfinished load")

	// ErrSegmentActive is returned when an operation conflicts with the open mileage segment.
	ErrSegmentActive = errors.New("a mileage segment is active")

	// ErrNoActiveSegment is returned when arriving without having departed.
	ErrNoActiveSegment = errors.New("no active mileage segment")

	// ErrTargetMismatch is returned when arriving somewhere other than the segment's target.
	ErrTargetMismatch = errors.New("arrival does not match the active segment target")

	// ErrTripBusy is returned when another writer holds the trip lock.
	ErrTripBusy = errors.New("trip busy")

	// ErrSessionClosed is returned when using a session after Close.
	ErrSessionClosed = errors.New("trip session closed")
)
