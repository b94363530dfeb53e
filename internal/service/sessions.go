package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"haulpay/internal/domain"
	"haulpay/internal/location"
	"haulpay/internal/observability"
	"haulpay/internal/repository"
	"haulpay/internal/tracker"
)

// TripLocker guards a trip against concurrent writers across server instances.
// AcquireTripLock returns a token that identifies the holder; ReleaseTripLock
// only drops a lock that still carries it.
type TripLocker interface {
	AcquireTripLock(ctx context.Context, tripID string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseTripLock(ctx context.Context, tripID, token string) error
}

// SourceProvider hands out the location source of a trip.
type SourceProvider interface {
	ForTrip(tripID string) location.Source
}

// SettingsProvider returns a user's effective settings.
type SettingsProvider interface {
	GetSettings(ctx context.Context, userID string) (*domain.Settings, error)
}

// SessionManager keeps one live TripSession per trip. Writes go through Do,
// which holds the trip lock and reloads the stored trip first, so several
// server instances can serve the same trip.
type SessionManager struct {
	mu        sync.Mutex
	sessions  map[string]*TripSession
	lastSweep time.Time
	loading   singleflight.Group

	trips     repository.TripRepository
	settings  SettingsProvider
	sources   SourceProvider
	snapshots tracker.SnapshotStore
	locker    TripLocker
	notifier  *NotificationService
	cfg       SessionConfig
	log       *slog.Logger
}

// NewSessionManager creates a new SessionManager. snapshots, locker and notifier may be nil.
func NewSessionManager(
	trips repository.TripRepository,
	settings SettingsProvider,
	sources SourceProvider,
	snapshots tracker.SnapshotStore,
	locker TripLocker,
	notifier *NotificationService,
	cfg SessionConfig,
) *SessionManager {
	cfg = cfg.withDefaults()
	return &SessionManager{
		sessions:  make(map[string]*TripSession),
		lastSweep: cfg.Clock(),
		trips:     trips,
		settings:  settings,
		sources:   sources,
		snapshots: snapshots,
		locker:    locker,
		notifier:  notifier,
		cfg:       cfg,
		log:       cfg.Logger,
	}
}

// Open returns the trip's live session, loading and resuming it on first use.
func (m *SessionManager) Open(ctx context.Context, tripID string) (*TripSession, error) {
	s, _, err := m.open(ctx, tripID)
	return s, err
}

// open reports whether the session was loaded by this call, in which case it
// already reflects the stored trip.
func (m *SessionManager) open(ctx context.Context, tripID string) (*TripSession, bool, error) {
	if tripID == "" {
		return nil, false, ErrInvalidTripID
	}
	defer m.evictIdle(ctx)

	if s, ok := m.Peek(tripID); ok {
		s.touch()
		return s, false, nil
	}

	v, err, _ := m.loading.Do(tripID, func() (any, error) {
		if s, ok := m.Peek(tripID); ok {
			return s, nil
		}
		s, err := m.load(ctx, tripID)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.sessions[tripID] = s
		m.mu.Unlock()
		observability.SessionsOpen.Inc()
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	s := v.(*TripSession)
	s.touch()
	return s, true, nil
}

func (m *SessionManager) load(ctx context.Context, tripID string) (*TripSession, error) {
	trip, err := m.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	settings, err := m.settings.GetSettings(ctx, trip.UserID)
	if err != nil {
		return nil, fmt.Errorf("load settings for user %s: %w", trip.UserID, err)
	}

	s := newTripSession(trip, *settings, m.trips, m.sources.ForTrip(tripID), m.snapshots, m.notifier, m.cfg)
	s.guard = func(ctx context.Context) (func(), error) { return m.guard(ctx, s) }
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Peek returns the trip's session if one is open.
func (m *SessionManager) Peek(tripID string) (*TripSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tripID]
	return s, ok
}

// Do runs fn against the trip's session while holding the trip lock.
// ErrTripBusy is returned if another writer holds it. The session is brought
// up to date with the stored trip before fn runs, and closed afterwards once
// the trip is finished.
func (m *SessionManager) Do(ctx context.Context, tripID string, fn func(*TripSession) error) error {
	if tripID == "" {
		return ErrInvalidTripID
	}

	release, err := m.lock(ctx, tripID)
	if err != nil {
		return err
	}
	defer release()

	s, loaded, err := m.open(ctx, tripID)
	if err != nil {
		return err
	}
	if !loaded {
		if err := m.sync(ctx, s); err != nil {
			return err
		}
	}

	err = fn(s)

	if s.Finished() {
		m.forget(tripID, s)
		s.Close(ctx)
	}
	return err
}

// lock takes the trip lock and returns its release. Without a locker it is a no-op.
func (m *SessionManager) lock(ctx context.Context, tripID string) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}

	token, ok, err := m.locker.AcquireTripLock(ctx, tripID, m.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire trip lock: %w", err)
	}
	if !ok {
		observability.LockContention.Inc()
		return nil, ErrTripBusy
	}
	return func() {
		if err := m.locker.ReleaseTripLock(context.WithoutCancel(ctx), tripID, token); err != nil {
			m.log.Warn("failed to release trip lock", "trip_id", tripID, "error", err)
		}
	}, nil
}

// sync reloads the stored trip and the user's settings into s.
func (m *SessionManager) sync(ctx context.Context, s *TripSession) error {
	trip, err := m.trips.GetByID(ctx, s.id)
	if err != nil {
		return err
	}
	settings, err := m.settings.GetSettings(ctx, trip.UserID)
	if err != nil {
		m.log.Warn("keeping cached settings", "trip_id", s.id, "error", err)
		settings = nil
	}
	return s.adopt(ctx, trip, settings)
}

// guard takes the trip lock for a background flush and syncs s under it.
func (m *SessionManager) guard(ctx context.Context, s *TripSession) (func(), error) {
	release, err := m.lock(ctx, s.id)
	if err != nil {
		return nil, err
	}
	if err := m.sync(ctx, s); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// forget drops s from the map if it is still the trip's session.
func (m *SessionManager) forget(tripID string, s *TripSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[tripID]; !ok || cur != s {
		return false
	}
	delete(m.sessions, tripID)
	observability.SessionsOpen.Dec()
	return true
}

// closeSession closes a session that was already forgotten. Buffered state is
// only written while the trip lock is held and the stored trip still exists;
// otherwise the session is discarded and the snapshot left for the next owner.
func (m *SessionManager) closeSession(ctx context.Context, s *TripSession) {
	release, err := m.lock(ctx, s.id)
	if err != nil {
		m.log.Warn("closing session without final flush", "trip_id", s.id, "error", err)
		s.discard()
		return
	}
	defer release()

	if err := m.sync(ctx, s); err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			m.log.Warn("closing session without final flush", "trip_id", s.id, "error", err)
		}
		s.discard()
		return
	}
	s.Close(ctx)
}

// Close flushes and forgets the trip's session.
func (m *SessionManager) Close(ctx context.Context, tripID string) {
	s, ok := m.Peek(tripID)
	if !ok || !m.forget(tripID, s) {
		return
	}
	m.closeSession(ctx, s)
}

// CloseAll closes every session, persisting buffered segments.
func (m *SessionManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*TripSession)
	m.mu.Unlock()

	for _, s := range sessions {
		observability.SessionsOpen.Dec()
		m.closeSession(ctx, s)
	}
	m.log.Info("trip sessions closed", "count", len(sessions))
}

// evictIdle closes sessions left unused for IdleTimeout with no segment and
// no watcher. Sweeps run at most once per quarter of IdleTimeout.
func (m *SessionManager) evictIdle(ctx context.Context) {
	now := m.cfg.Clock()

	m.mu.Lock()
	if now.Sub(m.lastSweep) < m.cfg.IdleTimeout/4 {
		m.mu.Unlock()
		return
	}
	m.lastSweep = now

	var idle []*TripSession
	for id, s := range m.sessions {
		if s.idle(now) {
			idle = append(idle, s)
			delete(m.sessions, id)
			observability.SessionsOpen.Dec()
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.closeSession(ctx, s)
	}
	if len(idle) > 0 {
		m.log.Debug("evicted idle trip sessions", "count", len(idle))
	}
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RefreshSettings pushes new settings into the user's open sessions.
func (m *SessionManager) RefreshSettings(ctx context.Context, userID string, settings domain.Settings) {
	m.mu.Lock()
	var affected []*TripSession
	for _, s := range m.sessions {
		if s.Trip().UserID == userID {
			affected = append(affected, s)
		}
	}
	m.mu.Unlock()

	for _, s := range affected {
		s.SetSettings(ctx, settings)
	}
}
