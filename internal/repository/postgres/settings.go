package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"haulpay/internal/domain"
	"haulpay/internal/repository"
)

// SettingsRepository stores per-user settings using sqlx struct scanning.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

type settingsRow struct {
	UserID            string  `db:"user_id"`
	CPM               float64 `db:"cpm"`
	PayPerLoad        float64 `db:"pay_per_load"`
	PayPerStop        float64 `db:"pay_per_stop"`
	NightPayEnabled   bool    `db:"night_pay_enabled"`
	NightStartMinutes int     `db:"night_start_minutes"`
	NightEndMinutes   int     `db:"night_end_minutes"`
	NightExtraCPM     float64 `db:"night_extra_cpm"`
	TimeZone          string  `db:"time_zone"`
}

func (r settingsRow) toDomain() *domain.Settings {
	return &domain.Settings{
		CPM:               r.CPM,
		PayPerLoad:        r.PayPerLoad,
		PayPerStop:        r.PayPerStop,
		NightPayEnabled:   r.NightPayEnabled,
		NightStartMinutes: r.NightStartMinutes,
		NightEndMinutes:   r.NightEndMinutes,
		NightExtraCPM:     r.NightExtraCPM,
		TimeZone:          r.TimeZone,
	}
}

func settingsRowFrom(userID string, s domain.Settings) settingsRow {
	return settingsRow{
		UserID:            userID,
		CPM:               s.CPM,
		PayPerLoad:        s.PayPerLoad,
		PayPerStop:        s.PayPerStop,
		NightPayEnabled:   s.NightPayEnabled,
		NightStartMinutes: s.NightStartMinutes,
		NightEndMinutes:   s.NightEndMinutes,
		NightExtraCPM:     s.NightExtraCPM,
		TimeZone:          s.TimeZone,
	}
}

// Get retrieves a user's settings.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*domain.Settings, error) {
	query := `
		SELECT user_id, cpm, pay_per_load, pay_per_stop, night_pay_enabled,
		       night_start_minutes, night_end_minutes, night_extra_cpm, time_zone
		FROM settings WHERE user_id = $1
	`

	var row settingsRow
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Set upserts a user's settings.
func (r *SettingsRepository) Set(ctx context.Context, userID string, settings domain.Settings) error {
	query := `
		INSERT INTO settings (user_id, cpm, pay_per_load, pay_per_stop, night_pay_enabled,
		                      night_start_minutes, night_end_minutes, night_extra_cpm, time_zone, updated_at)
		VALUES (:user_id, :cpm, :pay_per_load, :pay_per_stop, :night_pay_enabled,
		        :night_start_minutes, :night_end_minutes, :night_extra_cpm, :time_zone, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			cpm = EXCLUDED.cpm,
			pay_per_load = EXCLUDED.pay_per_load,
			pay_per_stop = EXCLUDED.pay_per_stop,
			night_pay_enabled = EXCLUDED.night_pay_enabled,
			night_start_minutes = EXCLUDED.night_start_minutes,
			night_end_minutes = EXCLUDED.night_end_minutes,
			night_extra_cpm = EXCLUDED.night_extra_cpm,
			time_zone = EXCLUDED.time_zone,
			updated_at = NOW()
	`

	_, err := r.db.NamedExecContext(ctx, query, settingsRowFrom(userID, settings))
	return err
}

// Ensure SettingsRepository implements repository.SettingsRepository.
var _ repository.SettingsRepository = (*SettingsRepository)(nil)
