package domain

import "time"

// EventType names a trip lifecycle event.
type EventType string

const (
	EventSegmentStarted EventType = "SEGMENT_STARTED"
	EventStopArrived    EventType = "STOP_ARRIVED"
	EventDepotArrived   EventType = "DEPOT_ARRIVED"
	EventMileageUpdated EventType = "MILEAGE_UPDATED"
	EventTripFinished   EventType = "TRIP_FINISHED"
	EventPayCorrected   EventType = "PAY_CORRECTED"
)

// TripEvent is published after a trip mutation has been persisted.
type TripEvent struct {
	Type       EventType      `json:"type"`
	TripID     string         `json:"trip_id"`
	UserID     string         `json:"user_id"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
