package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"haulpay/internal/domain"
	"haulpay/internal/observability"
)

// Publisher delivers trip events downstream.
type Publisher interface {
	Publish(ctx context.Context, ev domain.TripEvent) error
}

// NotificationService turns trip mutations into events. Events are always logged;
// they are also handed to the publisher when one is configured.
type NotificationService struct {
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(publisher Publisher, log *slog.Logger) *NotificationService {
	if log == nil {
		log = slog.Default()
	}
	return &NotificationService{publisher: publisher, log: log, now: time.Now}
}

// NotifySegmentStarted reports a departure toward a stop or the depot.
func (s *NotificationService) NotifySegmentStarted(ctx context.Context, trip *domain.Trip, target domain.SegmentTarget) error {
	message := "Departed for the depot"
	if target.Kind == domain.TargetStop {
		message = "Departed for the next stop"
	}
	return s.send(ctx, domain.TripEvent{
		Type:    domain.EventSegmentStarted,
		TripID:  trip.ID,
		UserID:  trip.UserID,
		Message: message,
		Data: map[string]any{
			"load_id": target.LoadID,
			"stop_id": target.StopID,
			"target":  string(target.Kind),
		},
	})
}

// NotifyStopArrived reports a completed stop with the miles driven to reach it.
func (s *NotificationService) NotifyStopArrived(ctx context.Context, trip *domain.Trip, loadID string, stopIndex int, miles float64) error {
	return s.send(ctx, domain.TripEvent{
		Type:    domain.EventStopArrived,
		TripID:  trip.ID,
		UserID:  trip.UserID,
		Message: fmt.Sprintf("Arrived at stop %d after %.1f mi", stopIndex+1, miles),
		Data: map[string]any{
			"load_id":   loadID,
			"stop":      stopIndex + 1,
			"miles":     miles,
			"total_pay": trip.TotalPay,
		},
	})
}

// NotifyDepotArrived reports a finished load.
func (s *NotificationService) NotifyDepotArrived(ctx context.Context, trip *domain.Trip, loadID string, miles float64) error {
	return s.send(ctx, domain.TripEvent{
		Type:    domain.EventDepotArrived,
		TripID:  trip.ID,
		UserID:  trip.UserID,
		Message: fmt.Sprintf("Load complete. Trip pay so far $%.2f", trip.TotalPay),
		Data: map[string]any{
			"load_id":   loadID,
			"miles":     miles,
			"total_pay": trip.TotalPay,
		},
	})
}

// NotifyMileageUpdated reports a manual odometer entry.
func (s *NotificationService) NotifyMileageUpdated(ctx context.Context, trip *domain.Trip, delta float64) error {
	return s.send(ctx, domain.TripEvent{
		Type:    domain.EventMileageUpdated,
		TripID:  trip.ID,
		UserID:  trip.UserID,
		Message: fmt.Sprintf("Odometer set to %.1f", trip.CurrentMileage),
		Data: map[string]any{
			"current_mileage": trip.CurrentMileage,
			"delta":           delta,
			"total_pay":       trip.TotalPay,
		},
	})
}

// NotifyTripFinished reports the final pay of a trip.
func (s *NotificationService) NotifyTripFinished(ctx context.Context, trip *domain.Trip) error {
	return s.send(ctx, domain.TripEvent{
		Type:    domain.EventTripFinished,
		TripID:  trip.ID,
		UserID:  trip.UserID,
		Message: fmt.Sprintf("Trip completed! Final pay: $%.2f", trip.TotalPay),
		Data: map[string]any{
			"trip_miles":  trip.TripMiles(),
			"night_miles": trip.NightMiles,
			"total_pay":   trip.TotalPay,
		},
	})
}

// NotifyPayCorrected reports a stored total that was rewritten after recomputation.
func (s *NotificationService) NotifyPayCorrected(ctx context.Context, trip *domain.Trip, stored float64) error {
	return s.send(ctx, domain.TripEvent{
		Type:    domain.EventPayCorrected,
		TripID:  trip.ID,
		UserID:  trip.UserID,
		Message: fmt.Sprintf("Trip pay corrected from $%.2f to $%.2f", stored, trip.TotalPay),
		Data: map[string]any{
			"stored_pay": stored,
			"total_pay":  trip.TotalPay,
		},
	})
}

// send logs the event and hands it to the publisher.
func (s *NotificationService) send(ctx context.Context, ev domain.TripEvent) error {
	ev.OccurredAt = s.now()

	s.log.Info("trip event",
		"type", ev.Type,
		"trip_id", ev.TripID,
		"user_id", ev.UserID,
		"message", ev.Message,
	)

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		observability.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		s.log.Warn("failed to publish trip event", "type", ev.Type, "trip_id", ev.TripID, "error", err)
		return err
	}
	observability.EventsPublished.WithLabelValues(string(ev.Type), "ok").Inc()
	return nil
}
