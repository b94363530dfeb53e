package service

import (
	"context"
	"math"
	"time"

	"haulpay/internal/domain"
	"haulpay/internal/pay"
	"haulpay/internal/repository"
	"haulpay/internal/tracker"
)

// FixDropper forgets the location state of a deleted trip.
type FixDropper interface {
	Drop(ctx context.Context, tripID string)
}

// TripService handles trip creation, reads and reporting. Trip mutations go
// through the SessionManager.
type TripService struct {
	tripRepo   repository.TripRepository
	settings   *SettingsService
	sessions   *SessionManager
	snapshots  tracker.SnapshotStore
	fixes      FixDropper
	statements *StatementService
	now        func() time.Time
}

// NewTripService creates a new TripService. snapshots and fixes may be nil.
func NewTripService(
	tripRepo repository.TripRepository,
	settings *SettingsService,
	sessions *SessionManager,
	snapshots tracker.SnapshotStore,
	fixes FixDropper,
	statements *StatementService,
) *TripService {
	return &TripService{
		tripRepo:   tripRepo,
		settings:   settings,
		sessions:   sessions,
		snapshots:  snapshots,
		fixes:      fixes,
		statements: statements,
		now:        time.Now,
	}
}

// CreateTripRequest contains the parameters for starting a trip.
type CreateTripRequest struct {
	UserID       string
	StartMileage float64
}

// CreateTrip starts a trip at the given odometer reading.
func (s *TripService) CreateTrip(ctx context.Context, req CreateTripRequest) (*domain.Trip, error) {
	if req.UserID == "" {
		return nil, ErrInvalidUserID
	}
	if req.StartMileage < 0 || math.IsNaN(req.StartMileage) || math.IsInf(req.StartMileage, 0) {
		return nil, ErrInvalidStartMileage
	}

	id, err := s.tripRepo.Create(ctx, req.UserID, req.StartMileage)
	if err != nil {
		return nil, err
	}
	return s.tripRepo.GetByID(ctx, id)
}

// GetTrip returns a trip. An unfinished trip is read through its session, so a
// drifted total is corrected and an interrupted segment resumed on first read.
// Finished trips are served from the repository without opening one.
func (s *TripService) GetTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if session, ok := s.sessions.Peek(tripID); ok {
		return session.Trip(), nil
	}

	trip, err := s.tripRepo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.IsFinished {
		return trip, nil
	}

	session, err := s.sessions.Open(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return session.Trip(), nil
}

// ListTrips returns a user's trips, newest first. Trips with an open session
// are reported from memory.
func (s *TripService) ListTrips(ctx context.Context, userID string) ([]*domain.Trip, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	trips, err := s.tripRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i, t := range trips {
		if session, ok := s.sessions.Peek(t.ID); ok {
			trips[i] = session.Trip()
		}
	}
	return trips, nil
}

// DeleteTrip removes a trip together with its session, snapshot and last fix.
func (s *TripService) DeleteTrip(ctx context.Context, tripID string) error {
	if tripID == "" {
		return ErrInvalidTripID
	}

	s.sessions.Close(ctx, tripID)

	if err := s.tripRepo.Delete(ctx, tripID); err != nil {
		return err
	}
	if s.snapshots != nil {
		_ = s.snapshots.Clear(ctx, tripID)
	}
	if s.fixes != nil {
		s.fixes.Drop(ctx, tripID)
	}
	return nil
}

// WeeklyEarnings totals the user's trips in the current Friday-to-Thursday pay week.
func (s *TripService) WeeklyEarnings(ctx context.Context, userID string) (pay.WeeklySummary, error) {
	trips, err := s.ListTrips(ctx, userID)
	if err != nil {
		return pay.WeeklySummary{}, err
	}
	settings, err := s.settings.GetSettings(ctx, userID)
	if err != nil {
		return pay.WeeklySummary{}, err
	}
	return pay.WeeklyEarnings(trips, s.now(), settings.Location()), nil
}

// Statement builds the pay statement of a trip under its user's current settings.
func (s *TripService) Statement(ctx context.Context, tripID string) (*domain.PayStatement, error) {
	if session, ok := s.sessions.Peek(tripID); ok {
		return s.statements.GenerateStatement(session.Trip(), session.Settings())
	}

	trip, err := s.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.GetSettings(ctx, trip.UserID)
	if err != nil {
		return nil, err
	}
	return s.statements.GenerateStatement(trip, *settings)
}

// FormatStatement renders a statement as plain text.
func (s *TripService) FormatStatement(st *domain.PayStatement) string {
	return s.statements.FormatStatement(st)
}
