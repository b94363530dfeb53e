package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"haulpay/internal/domain"
	"haulpay/internal/repository"
)

const tripColumns = `id, user_id, start_mileage, current_mileage, end_mileage, loads, night_miles,
		total_pay, is_finished, tracking, created_at, updated_at, finished_at`

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
// Loads and tracking state are stored as JSONB documents.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, userID string, startMileage float64) (string, error) {
	query := `
		INSERT INTO trips (id, user_id, start_mileage, current_mileage, loads, night_miles, total_pay, is_finished, tracking)
		VALUES ($1, $2, $3, $3, '[]'::jsonb, 0, 0, FALSE, '{}'::jsonb)
	`

	id := uuid.New().String()
	if _, err := r.q.ExecContext(ctx, query, id, userID, startMileage); err != nil {
		return "", err
	}
	return id, nil
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// ListByUser retrieves a user's trips, newest first.
func (r *TripRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

// Update applies a partial update to a trip.
func (r *TripRepository) Update(ctx context.Context, id string, patch domain.TripPatch) error {
	query, args, err := buildTripUpdate(id, patch)
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes a trip.
func (r *TripRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM trips WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// buildTripUpdate renders the UPDATE statement for the non-nil fields of patch.
func buildTripUpdate(id string, patch domain.TripPatch) (string, []any, error) {
	if err := patch.Validate(); err != nil {
		return "", nil, err
	}

	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.CurrentMileage != nil {
		set("current_mileage", *patch.CurrentMileage)
	}
	if patch.EndMileage != nil {
		set("end_mileage", *patch.EndMileage)
	}
	if patch.Loads != nil {
		loads := *patch.Loads
		if loads == nil {
			loads = []domain.Load{}
		}
		data, err := json.Marshal(loads)
		if err != nil {
			return "", nil, fmt.Errorf("encode loads: %w", err)
		}
		set("loads", string(data))
	}
	if patch.NightMiles != nil {
		set("night_miles", *patch.NightMiles)
	}
	if patch.TotalPay != nil {
		set("total_pay", *patch.TotalPay)
	}
	if patch.IsFinished != nil {
		set("is_finished", *patch.IsFinished)
	}
	if patch.FinishedAt != nil {
		set("finished_at", *patch.FinishedAt)
	}
	if patch.Tracking != nil {
		data, err := json.Marshal(patch.Tracking)
		if err != nil {
			return "", nil, fmt.Errorf("encode tracking: %w", err)
		}
		set("tracking", string(data))
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE trips SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var trip domain.Trip
	var endMileage sql.NullFloat64
	var finishedAt sql.NullTime
	var loads, tracking []byte

	if err := row.Scan(
		&trip.ID,
		&trip.UserID,
		&trip.StartMileage,
		&trip.CurrentMileage,
		&endMileage,
		&loads,
		&trip.NightMiles,
		&trip.TotalPay,
		&trip.IsFinished,
		&tracking,
		&trip.CreatedAt,
		&trip.UpdatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	if endMileage.Valid {
		v := endMileage.Float64
		trip.EndMileage = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		trip.FinishedAt = &v
	}
	if len(loads) > 0 {
		if err := json.Unmarshal(loads, &trip.Loads); err != nil {
			return nil, fmt.Errorf("decode loads of trip %s: %w", trip.ID, err)
		}
	}
	if len(tracking) > 0 {
		if err := json.Unmarshal(tracking, &trip.Tracking); err != nil {
			return nil, fmt.Errorf("decode tracking of trip %s: %w", trip.ID, err)
		}
	}

	return &trip, nil
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
