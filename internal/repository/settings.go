package repository

import (
	"context"

	"haulpay/internal/domain"
)

// SettingsRepository defines the persistence operations for per-user settings.
type SettingsRepository interface {
	// Get returns ErrNotFound when the user never saved settings.
	Get(ctx context.Context, userID string) (*domain.Settings, error)

	// Set replaces the user's settings.
	Set(ctx context.Context, userID string, settings domain.Settings) error
}
