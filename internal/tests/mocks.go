package tests

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"haulpay/internal/domain"
	"haulpay/internal/location"
	"haulpay/internal/logging"
	"haulpay/internal/repository"
	"haulpay/internal/service"
	"haulpay/internal/tracker"
)

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of TripRepository.
type MockTripRepository struct {
	mu      sync.RWMutex
	trips   map[string]*domain.Trip
	nextID  int
	getGate chan struct{}

	// Counters for verification
	CreateCallCount  int32
	GetByIDCallCount int32
	UpdateCallCount  int32
	DeleteCallCount  int32

	// Error injection
	CreateError error
	UpdateError error
}

// NewMockTripRepository creates a new mock trip repository.
func NewMockTripRepository() *MockTripRepository {
	return &MockTripRepository{
		trips: make(map[string]*domain.Trip),
	}
}

// AddTrip adds a trip to the mock repository.
func (m *MockTripRepository) AddTrip(trip *domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = trip.Clone()
}

// SetUpdateError changes the error returned by Update.
func (m *MockTripRepository) SetUpdateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateError = err
}

func (m *MockTripRepository) Create(ctx context.Context, userID string, startMileage float64) (string, error) {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return "", m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("trip-%d", m.nextID)
	now := time.Now()
	m.trips[id] = &domain.Trip{
		ID:             id,
		UserID:         userID,
		StartMileage:   startMileage,
		CurrentMileage: startMileage,
		Loads:          []domain.Load{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return id, nil
}

// BlockGetByID makes GetByID wait until the returned func is called.
func (m *MockTripRepository) BlockGetByID() func() {
	gate := make(chan struct{})
	m.mu.Lock()
	m.getGate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.getGate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *MockTripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	m.mu.RLock()
	gate := m.getGate
	m.mu.RUnlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	return trip.Clone(), nil
}

func (m *MockTripRepository) Update(ctx context.Context, id string, patch domain.TripPatch) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if err := patch.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateError != nil {
		return m.UpdateError
	}
	trip, ok := m.trips[id]
	if !ok {
		return repository.ErrNotFound
	}
	trip.Apply(patch)
	trip.UpdatedAt = time.Now()
	return nil
}

func (m *MockTripRepository) Delete(ctx context.Context, id string) error {
	atomic.AddInt32(&m.DeleteCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.trips, id)
	return nil
}

func (m *MockTripRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Trip
	for _, t := range m.trips {
		if t.UserID == userID {
			result = append(result, t.Clone())
		}
	}
	return result, nil
}

// GetTrip returns the stored trip for test assertions.
func (m *MockTripRepository) GetTrip(id string) *domain.Trip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.trips[id]; ok {
		return t.Clone()
	}
	return nil
}

// Updates returns the number of Update calls so far.
func (m *MockTripRepository) Updates() int32 {
	return atomic.LoadInt32(&m.UpdateCallCount)
}

var _ repository.TripRepository = (*MockTripRepository)(nil)

// ──────────────────────────────────────────────
// MOCK SETTINGS REPOSITORY AND CACHE
// ──────────────────────────────────────────────

// MockSettingsRepository is a mock implementation of SettingsRepository.
type MockSettingsRepository struct {
	mu       sync.RWMutex
	settings map[string]domain.Settings

	// Counters for verification
	GetCallCount int32
	SetCallCount int32

	// Error injection
	GetError error
	SetError error
}

// NewMockSettingsRepository creates a new mock settings repository.
func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{
		settings: make(map[string]domain.Settings),
	}
}

// AddSettings stores settings for a user.
func (m *MockSettingsRepository) AddSettings(userID string, s domain.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = s
}

func (m *MockSettingsRepository) Get(ctx context.Context, userID string) (*domain.Settings, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *MockSettingsRepository) Set(ctx context.Context, userID string, s domain.Settings) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = s
	return nil
}

var _ repository.SettingsRepository = (*MockSettingsRepository)(nil)

// MockSettingsCache is an in-memory settings cache.
type MockSettingsCache struct {
	mu       sync.Mutex
	settings map[string]domain.Settings

	// Counters for verification
	HitCount        int32
	InvalidateCount int32

	// Error injection
	SetError error
}

// NewMockSettingsCache creates a new mock settings cache.
func NewMockSettingsCache() *MockSettingsCache {
	return &MockSettingsCache{
		settings: make(map[string]domain.Settings),
	}
}

func (m *MockSettingsCache) GetSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, nil
	}
	atomic.AddInt32(&m.HitCount, 1)
	return &s, nil
}

func (m *MockSettingsCache) SetSettings(ctx context.Context, userID string, s domain.Settings) error {
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = s
	return nil
}

func (m *MockSettingsCache) InvalidateSettings(ctx context.Context, userID string) error {
	atomic.AddInt32(&m.InvalidateCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, userID)
	return nil
}

// Cached reports whether settings are cached for the user.
func (m *MockSettingsCache) Cached(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.settings[userID]
	return ok
}

var _ service.SettingsCache = (*MockSettingsCache)(nil)

// ──────────────────────────────────────────────
// MOCK SNAPSHOT STORE
// ──────────────────────────────────────────────

// MockSnapshotStore is an in-memory segment snapshot store.
type MockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]domain.SegmentSnapshot

	// Counters for verification
	SaveCallCount  int32
	ClearCallCount int32
}

// NewMockSnapshotStore creates a new mock snapshot store.
func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{
		snapshots: make(map[string]domain.SegmentSnapshot),
	}
}

func (m *MockSnapshotStore) Load(ctx context.Context, tripID string) (*domain.SegmentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[tripID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *MockSnapshotStore) Save(ctx context.Context, snap domain.SegmentSnapshot) error {
	atomic.AddInt32(&m.SaveCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.TripID] = snap
	return nil
}

func (m *MockSnapshotStore) Clear(ctx context.Context, tripID string) error {
	atomic.AddInt32(&m.ClearCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, tripID)
	return nil
}

// Get returns the stored snapshot for test assertions.
func (m *MockSnapshotStore) Get(tripID string) (domain.SegmentSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[tripID]
	return snap, ok
}

var _ tracker.SnapshotStore = (*MockSnapshotStore)(nil)

// ──────────────────────────────────────────────
// MOCK LOCATION SOURCE
// ──────────────────────────────────────────────

type watch struct {
	onFix   func(domain.GeoPoint)
	onError func(error)
}

// MockLocationSource is a location source driven by the test. Emit delivers
// fixes synchronously to every active watch.
type MockLocationSource struct {
	mu      sync.Mutex
	fix     domain.GeoPoint
	fixErr  error
	watches map[uint64]watch
	all     []watch
	nextID  uint64

	// Counters for verification
	CurrentFixCallCount int32
	WatchCallCount      int32
	CancelCallCount     int32
}

// NewMockLocationSource creates a source whose current fix is p.
func NewMockLocationSource(p domain.GeoPoint) *MockLocationSource {
	return &MockLocationSource{
		fix:     p,
		watches: make(map[uint64]watch),
	}
}

// SetFix changes the fix CurrentFix returns and clears any failure.
func (m *MockLocationSource) SetFix(p domain.GeoPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fix = p
	m.fixErr = nil
}

// SetError makes CurrentFix fail with err.
func (m *MockLocationSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixErr = err
}

func (m *MockLocationSource) CurrentFix(ctx context.Context) (domain.GeoPoint, error) {
	atomic.AddInt32(&m.CurrentFixCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixErr != nil {
		return domain.GeoPoint{}, m.fixErr
	}
	return m.fix, nil
}

func (m *MockLocationSource) Watch(onFix func(domain.GeoPoint), onError func(error)) (location.Subscription, error) {
	atomic.AddInt32(&m.WatchCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	w := watch{onFix: onFix, onError: onError}
	m.watches[m.nextID] = w
	m.all = append(m.all, w)
	return location.Subscription{ID: m.nextID}, nil
}

func (m *MockLocationSource) Cancel(sub location.Subscription) {
	atomic.AddInt32(&m.CancelCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, sub.ID)
}

// Emit moves the device to p and delivers it to the active watches.
func (m *MockLocationSource) Emit(p domain.GeoPoint) {
	m.mu.Lock()
	m.fix = p
	m.fixErr = nil
	active := make([]watch, 0, len(m.watches))
	for _, w := range m.watches {
		active = append(active, w)
	}
	m.mu.Unlock()

	for _, w := range active {
		w.onFix(p)
	}
}

// EmitError delivers err to the active watches.
func (m *MockLocationSource) EmitError(err error) {
	m.mu.Lock()
	active := make([]watch, 0, len(m.watches))
	for _, w := range m.watches {
		active = append(active, w)
	}
	m.mu.Unlock()

	for _, w := range active {
		w.onError(err)
	}
}

// EmitToCancelled delivers p to every watch ever registered, including
// cancelled ones, like a callback that was already in flight.
func (m *MockLocationSource) EmitToCancelled(p domain.GeoPoint) {
	m.mu.Lock()
	all := append([]watch(nil), m.all...)
	m.mu.Unlock()

	for _, w := range all {
		w.onFix(p)
	}
}

// ActiveWatches returns the number of uncancelled watches.
func (m *MockLocationSource) ActiveWatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

var _ location.Source = (*MockLocationSource)(nil)

// MockSourceProvider hands the same source to every trip.
type MockSourceProvider struct {
	Source *MockLocationSource
}

func (p *MockSourceProvider) ForTrip(tripID string) location.Source {
	return p.Source
}

// ──────────────────────────────────────────────
// MOCK TRIP LOCKER
// ──────────────────────────────────────────────

// MockTripLocker is an in-memory trip lock keyed by holder token.
type MockTripLocker struct {
	mu     sync.Mutex
	held   map[string]string
	tokens int

	// Counters for verification
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockTripLocker creates a new mock trip locker.
func NewMockTripLocker() *MockTripLocker {
	return &MockTripLocker{
		held: make(map[string]string),
	}
}

// Hold marks the trip locked by another writer.
func (m *MockTripLocker) Hold(tripID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[tripID] = "elsewhere"
}

// Free drops the lock whoever holds it, like an expiry.
func (m *MockTripLocker) Free(tripID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, tripID)
}

func (m *MockTripLocker) AcquireTripLock(ctx context.Context, tripID string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[tripID]; ok {
		return "", false, nil
	}
	m.tokens++
	token := fmt.Sprintf("token-%d", m.tokens)
	m.held[tripID] = token
	return token, true, nil
}

func (m *MockTripLocker) ReleaseTripLock(ctx context.Context, tripID, token string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[tripID] != token {
		return errors.New("lock not held")
	}
	delete(m.held, tripID)
	return nil
}

// Held reports whether the trip is locked.
func (m *MockTripLocker) Held(tripID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[tripID]
	return ok
}

var _ service.TripLocker = (*MockTripLocker)(nil)

// ──────────────────────────────────────────────
// MOCK PUBLISHER AND CLOCK
// ──────────────────────────────────────────────

// MockPublisher records published trip events.
type MockPublisher struct {
	mu     sync.Mutex
	events []domain.TripEvent

	// Error injection
	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, ev domain.TripEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.PublishError
}

// Events returns the types of the published events in order.
func (m *MockPublisher) Events() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]domain.EventType, 0, len(m.events))
	for _, ev := range m.events {
		types = append(types, ev.Type)
	}
	return types
}

// Has reports whether an event of type t was published.
func (m *MockPublisher) Has(t domain.EventType) bool {
	for _, got := range m.Events() {
		if got == t {
			return true
		}
	}
	return false
}

var _ service.Publisher = (*MockPublisher)(nil)

// MockClock is a settable clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a clock stopped at now.
func NewMockClock(now time.Time) *MockClock {
	return &MockClock{now: now}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// ──────────────────────────────────────────────
// TEST ENVIRONMENT
// ──────────────────────────────────────────────

// Env wires a session manager against mocks.
type Env struct {
	Trips     *MockTripRepository
	Settings  *MockSettingsRepository
	Cache     *MockSettingsCache
	Snapshots *MockSnapshotStore
	Source    *MockLocationSource
	Locker    *MockTripLocker
	Publisher *MockPublisher
	Clock     *MockClock

	SettingsService *service.SettingsService
	Sessions        *service.SessionManager
	TripService     *service.TripService
}

// Origin is where the mock device starts.
var Origin = domain.GeoPoint{Lat: 40.0, Lng: -75.0}

// DayRates pays 1 per mile, 25 per load and 5 per stop, with no night bonus.
var DayRates = domain.Settings{
	CPM:               1,
	PayPerLoad:        25,
	PayPerStop:        5,
	NightStartMinutes: domain.DefaultNightStartMinutes,
	NightEndMinutes:   domain.DefaultNightEndMinutes,
	TimeZone:          "UTC",
}

// Noon is a daytime instant for DayRates.
var Noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewEnv creates an environment whose user "user-1" has settings s.
func NewEnv(s domain.Settings) *Env {
	env := &Env{
		Trips:     NewMockTripRepository(),
		Settings:  NewMockSettingsRepository(),
		Cache:     NewMockSettingsCache(),
		Snapshots: NewMockSnapshotStore(),
		Source:    NewMockLocationSource(Origin),
		Locker:    NewMockTripLocker(),
		Publisher: NewMockPublisher(),
		Clock:     NewMockClock(Noon),
	}
	env.Settings.AddSettings("user-1", s)

	log := DiscardLogger()
	env.SettingsService = service.NewSettingsService(env.Settings, env.Cache, log)
	env.Sessions = service.NewSessionManager(
		env.Trips,
		env.SettingsService,
		&MockSourceProvider{Source: env.Source},
		env.Snapshots,
		env.Locker,
		service.NewNotificationService(env.Publisher, log),
		service.SessionConfig{
			FlushInterval: time.Hour,
			Clock:         env.Clock.Now,
			Logger:        log,
		},
	)
	env.SettingsService.AddListener(env.Sessions.RefreshSettings)
	env.TripService = service.NewTripService(env.Trips, env.SettingsService, env.Sessions, env.Snapshots, nil, service.NewStatementService())
	return env
}

// Close closes every session of the environment.
func (e *Env) Close() {
	e.Sessions.CloseAll(context.Background())
}

// NewTrip creates a trip for "user-1" starting at startMileage.
func (e *Env) NewTrip(startMileage float64) *domain.Trip {
	trip, err := e.TripService.CreateTrip(context.Background(), service.CreateTripRequest{
		UserID:       "user-1",
		StartMileage: startMileage,
	})
	if err != nil {
		panic(err)
	}
	return trip
}

// Peer returns a second session manager over the same stores and lock, like
// another server instance. It watches its own location source.
func (e *Env) Peer() (*service.SessionManager, *MockLocationSource) {
	source := NewMockLocationSource(Origin)
	log := DiscardLogger()
	peer := service.NewSessionManager(
		e.Trips,
		e.SettingsService,
		&MockSourceProvider{Source: source},
		e.Snapshots,
		e.Locker,
		service.NewNotificationService(e.Publisher, log),
		service.SessionConfig{
			FlushInterval: time.Hour,
			Clock:         e.Clock.Now,
			Logger:        log,
		},
	)
	return peer, source
}

// Session opens the session of a trip.
func (e *Env) Session(tripID string) *service.TripSession {
	s, err := e.Sessions.Open(context.Background(), tripID)
	if err != nil {
		panic(err)
	}
	return s
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return logging.NewLoggerTo(io.Discard, "error")
}

// North returns the point miles north of Origin, roughly.
func North(miles float64) domain.GeoPoint {
	return domain.GeoPoint{Lat: Origin.Lat + miles/69.0, Lng: Origin.Lng}
}
