package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		start_mileage DOUBLE PRECISION NOT NULL,
		current_mileage DOUBLE PRECISION NOT NULL,
		end_mileage DOUBLE PRECISION,
		loads JSONB NOT NULL DEFAULT '[]'::jsonb,
		night_miles DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_pay DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_finished BOOLEAN NOT NULL DEFAULT FALSE,
		tracking JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_trips_user_created ON trips (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS settings (
		user_id TEXT PRIMARY KEY,
		cpm DOUBLE PRECISION NOT NULL DEFAULT 0,
		pay_per_load DOUBLE PRECISION NOT NULL DEFAULT 0,
		pay_per_stop DOUBLE PRECISION NOT NULL DEFAULT 0,
		night_pay_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		night_start_minutes INT NOT NULL DEFAULT 1140 CHECK (night_start_minutes BETWEEN 0 AND 1439),
		night_end_minutes INT NOT NULL DEFAULT 180 CHECK (night_end_minutes BETWEEN 0 AND 1439),
		night_extra_cpm DOUBLE PRECISION NOT NULL DEFAULT 0,
		time_zone TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables the repositories need if they do not exist.
func Migrate(ctx context.Context, q Querier) error {
	for i, stmt := range migrations {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
