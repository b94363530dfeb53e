package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"haulpay/internal/domain"
	"haulpay/internal/observability"
	"haulpay/internal/repository"
)

// SettingsCache caches settings in front of the repository.
type SettingsCache interface {
	GetSettings(ctx context.Context, userID string) (*domain.Settings, error)
	SetSettings(ctx context.Context, userID string, settings domain.Settings) error
	InvalidateSettings(ctx context.Context, userID string) error
}

// SettingsListener is called after a user's settings were saved.
type SettingsListener func(ctx context.Context, userID string, settings domain.Settings)

// SettingsService reads and saves per-user pay settings.
type SettingsService struct {
	repo  repository.SettingsRepository
	cache SettingsCache
	log   *slog.Logger

	mu        sync.RWMutex
	listeners []SettingsListener
}

// NewSettingsService creates a new SettingsService. cache may be nil.
func NewSettingsService(repo repository.SettingsRepository, cache SettingsCache, log *slog.Logger) *SettingsService {
	if log == nil {
		log = slog.Default()
	}
	return &SettingsService{repo: repo, cache: cache, log: log}
}

// AddListener registers fn to run after every successful save.
func (s *SettingsService) AddListener(fn SettingsListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// GetSettings returns the user's settings, or the defaults if none were saved.
func (s *SettingsService) GetSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	if s.cache != nil {
		cached, err := s.cache.GetSettings(ctx, userID)
		if err != nil {
			s.log.Warn("settings cache read failed", "user_id", userID, "error", err)
		} else if cached != nil {
			observability.SettingsCacheHit.WithLabelValues("hit").Inc()
			return cached, nil
		}
		observability.SettingsCacheHit.WithLabelValues("miss").Inc()
	}

	settings, err := s.repo.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		defaults := domain.DefaultSettings()
		settings = &defaults
	} else if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetSettings(ctx, userID, *settings); err != nil {
			s.log.Warn("settings cache write failed", "user_id", userID, "error", err)
		}
	}
	return settings, nil
}

// SaveSettings validates and stores the user's settings.
func (s *SettingsService) SaveSettings(ctx context.Context, userID string, settings domain.Settings) (*domain.Settings, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Set(ctx, userID, settings); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetSettings(ctx, userID, settings); err != nil {
			s.log.Warn("settings cache write failed, invalidating", "user_id", userID, "error", err)
			_ = s.cache.InvalidateSettings(ctx, userID)
		}
	}

	s.mu.RLock()
	listeners := append([]SettingsListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, userID, settings)
	}

	return &settings, nil
}
