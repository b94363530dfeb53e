package repository

import (
	"context"

	"haulpay/internal/domain"
)

// TripRepository defines the persistence operations for trips.
type TripRepository interface {
	// Create persists a new trip with current mileage equal to start mileage
	// and returns the store-assigned ID.
	Create(ctx context.Context, userID string, startMileage float64) (string, error)

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.Trip, error)

	// Update applies a partial update and refreshes updated_at.
	// Returns domain.ErrPatchMissingPay if the patch changes pay inputs without a total.
	Update(ctx context.Context, id string, patch domain.TripPatch) error

	// Delete removes a trip.
	Delete(ctx context.Context, id string) error

	// ListByUser retrieves a user's trips, newest first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Trip, error)
}
