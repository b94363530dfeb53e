package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"

	"haulpay/internal/domain"
	"haulpay/internal/repository"
)

// SettingsRepository keeps one settings document per user, keyed by user ID.
type SettingsRepository struct {
	client *fs.Client
}

// NewSettingsRepository creates a new Firestore settings repository.
func NewSettingsRepository(client *fs.Client) *SettingsRepository {
	return &SettingsRepository{client: client}
}

// Get retrieves a user's settings.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*domain.Settings, error) {
	snap, err := r.client.Collection(settingsCollection).Doc(userID).Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	var doc settingsDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return fromSettingsDoc(doc), nil
}

// Set overwrites a user's settings.
func (r *SettingsRepository) Set(ctx context.Context, userID string, settings domain.Settings) error {
	_, err := r.client.Collection(settingsCollection).Doc(userID).Set(ctx, toSettingsDoc(settings))
	return err
}

// Ensure SettingsRepository implements repository.SettingsRepository.
var _ repository.SettingsRepository = (*SettingsRepository)(nil)
