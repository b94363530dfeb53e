package tests

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"haulpay/internal/domain"
	"haulpay/internal/service"
)

// ──────────────────────────────────────────────
// SETTINGS SERVICE
// ──────────────────────────────────────────────

func TestSettings_DefaultsForNewUser(t *testing.T) {
	t.Parallel()

	repo := NewMockSettingsRepository()
	cache := NewMockSettingsCache()
	svc := service.NewSettingsService(repo, cache, DiscardLogger())

	got, err := svc.GetSettings(context.Background(), "new-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got != domain.DefaultSettings() {
		t.Errorf("expected defaults, got %+v", got)
	}
	if !cache.Cached("new-user") {
		t.Error("defaults should be cached")
	}
}

func TestSettings_CacheHitSkipsRepository(t *testing.T) {
	t.Parallel()

	repo := NewMockSettingsRepository()
	repo.AddSettings("user-1", DayRates)
	cache := NewMockSettingsCache()
	svc := service.NewSettingsService(repo, cache, DiscardLogger())
	ctx := context.Background()

	_, _ = svc.GetSettings(ctx, "user-1")
	got, err := svc.GetSettings(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got != DayRates {
		t.Errorf("expected %+v, got %+v", DayRates, got)
	}
	if n := atomic.LoadInt32(&repo.GetCallCount); n != 1 {
		t.Errorf("expected 1 repository read, got %d", n)
	}
	if n := atomic.LoadInt32(&cache.HitCount); n != 1 {
		t.Errorf("expected 1 cache hit, got %d", n)
	}
}

func TestSettings_RepositoryErrorPropagates(t *testing.T) {
	t.Parallel()

	repo := NewMockSettingsRepository()
	repo.GetError = errors.New("connection reset")
	svc := service.NewSettingsService(repo, nil, DiscardLogger())

	if _, err := svc.GetSettings(context.Background(), "user-1"); err == nil {
		t.Error("expected repository error")
	}
	if _, err := svc.GetSettings(context.Background(), ""); !errors.Is(err, service.ErrInvalidUserID) {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestSettings_SaveValidates(t *testing.T) {
	t.Parallel()

	repo := NewMockSettingsRepository()
	svc := service.NewSettingsService(repo, NewMockSettingsCache(), DiscardLogger())
	ctx := context.Background()

	tests := []struct {
		name   string
		modify func(*domain.Settings)
		want   error
	}{
		{"negative cpm", func(s *domain.Settings) { s.CPM = -1 }, domain.ErrInvalidRate},
		{"night start out of range", func(s *domain.Settings) { s.NightStartMinutes = 1440 }, domain.ErrInvalidNightWindow},
		{"unknown zone", func(s *domain.Settings) { s.TimeZone = "Mars/Olympus" }, domain.ErrInvalidTimeZone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DayRates
			tt.modify(&s)
			if _, err := svc.SaveSettings(ctx, "user-1", s); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if n := atomic.LoadInt32(&repo.SetCallCount); n != 0 {
		t.Errorf("invalid settings must not be stored, got %d writes", n)
	}
}

func TestSettings_SaveRefreshesCacheAndListeners(t *testing.T) {
	t.Parallel()

	repo := NewMockSettingsRepository()
	cache := NewMockSettingsCache()
	svc := service.NewSettingsService(repo, cache, DiscardLogger())
	ctx := context.Background()

	var notified atomic.Int32
	svc.AddListener(func(ctx context.Context, userID string, s domain.Settings) {
		if userID == "user-1" && s.CPM == 0.7 {
			notified.Add(1)
		}
	})

	_, _ = svc.GetSettings(ctx, "user-1")

	updated := DayRates
	updated.CPM = 0.7
	if _, err := svc.SaveSettings(ctx, "user-1", updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := svc.GetSettings(ctx, "user-1")
	if got.CPM != 0.7 {
		t.Errorf("expected cached settings refreshed, got %+v", got)
	}
	if notified.Load() != 1 {
		t.Errorf("expected listener called once, got %d", notified.Load())
	}
}

func TestSettings_CacheWriteFailureInvalidates(t *testing.T) {
	t.Parallel()

	repo := NewMockSettingsRepository()
	cache := NewMockSettingsCache()
	svc := service.NewSettingsService(repo, cache, DiscardLogger())
	ctx := context.Background()

	_, _ = svc.GetSettings(ctx, "user-1")
	cache.SetError = errors.New("redis down")

	if _, err := svc.SaveSettings(ctx, "user-1", DayRates); err != nil {
		t.Fatalf("a cache failure must not fail the save, got %v", err)
	}
	if cache.Cached("user-1") {
		t.Error("stale cached settings should be invalidated")
	}
}

// ──────────────────────────────────────────────
// TRIP SERVICE
// ──────────────────────────────────────────────

func TestTripService_CreateValidates(t *testing.T) {
	t.Parallel()

	env := NewEnv(DayRates)
	defer env.Close()
	ctx := context.Background()

	if _, err := env.TripService.CreateTrip(ctx, service.CreateTripRequest{StartMileage: 10}); !errors.Is(err, service.ErrInvalidUserID) {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := env.TripService.CreateTrip(ctx, service.CreateTripRequest{UserID: "user-1", StartMileage: -1}); !errors.Is(err, service.ErrInvalidStartMileage) {
		t.Errorf("expected ErrInvalidStartMileage, got %v", err)
	}

	trip, err := env.TripService.CreateTrip(ctx, service.CreateTripRequest{UserID: "user-1", StartMileage: 1234.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trip.CurrentMileage != 1234.5 || trip.TotalPay != 0 || trip.IsFinished {
		t.Errorf("unexpected new trip: %+v", trip)
	}
}

func TestTripService_ListUsesOpenSessions(t *testing.T) {
	t.Parallel()

	env := NewEnv(DayRates)
	defer env.Close()
	ctx := context.Background()

	trip := env.NewTrip(0)
	s := env.Session(trip.ID)
	trip, _ = s.AddLoad(ctx, 1, domain.LoadTypeDry)
	_, _ = s.DepartToStop(ctx, trip.Loads[0].ID, trip.Loads[0].Stops[0].ID)
	env.Source.Emit(North(1))
	_ = s.Flush(ctx)

	trips, err := env.TripService.ListTrips(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trips) != 1 || !trips[0].Tracking.Active {
		t.Errorf("expected the live trip, got %+v", trips)
	}
}

func TestTripService_DeleteClosesSession(t *testing.T) {
	t.Parallel()

	env := NewEnv(DayRates)
	defer env.Close()
	ctx := context.Background()

	trip := env.NewTrip(0)
	s := env.Session(trip.ID)
	trip, _ = s.AddLoad(ctx, 1, domain.LoadTypeDry)
	_, _ = s.DepartToStop(ctx, trip.Loads[0].ID, trip.Loads[0].Stops[0].ID)

	if err := env.TripService.DeleteTrip(ctx, trip.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.Sessions.Peek(trip.ID); ok {
		t.Error("session should be closed")
	}
	if env.Source.ActiveWatches() != 0 {
		t.Error("deleting a trip should stop its watch")
	}
	if _, ok := env.Snapshots.Get(trip.ID); ok {
		t.Error("deleting a trip should clear its snapshot")
	}
	if _, err := env.TripService.GetTrip(ctx, trip.ID); err == nil {
		t.Error("expected deleted trip to be gone")
	}
}

func TestTripService_StatementMatchesStoredPay(t *testing.T) {
	t.Parallel()

	env := NewEnv(DayRates)
	defer env.Close()
	ctx := context.Background()

	trip := env.NewTrip(100)
	s := env.Session(trip.ID)
	_, _ = s.AddLoad(ctx, 2, domain.LoadTypeDry)
	final := 150.0
	_, _ = s.FinishTrip(ctx, &final)

	st, err := env.TripService.Statement(ctx, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !near(st.Breakdown.Total, 50+25+2*5) || !near(st.StoredPay, st.Breakdown.Total) {
		t.Errorf("unexpected statement: %+v", st)
	}
	if st.Breakdown.Loads != 1 || st.Breakdown.Stops != 2 || !st.IsFinished {
		t.Errorf("unexpected breakdown: %+v", st.Breakdown)
	}
	if text := env.TripService.FormatStatement(st); text == "" {
		t.Error("expected formatted statement")
	}
}

func TestTripService_WeeklyEarnings(t *testing.T) {
	t.Parallel()

	env := NewEnv(DayRates)
	defer env.Close()
	ctx := context.Background()

	now := time.Now()
	env.Trips.AddTrip(&domain.Trip{ID: "this-week", UserID: "user-1", StartMileage: 0, CurrentMileage: 10, TotalPay: 10, CreatedAt: now, UpdatedAt: now})
	old := now.AddDate(0, 0, -14)
	env.Trips.AddTrip(&domain.Trip{ID: "old", UserID: "user-1", StartMileage: 0, CurrentMileage: 99, TotalPay: 99, CreatedAt: old, UpdatedAt: old})

	summary, err := env.TripService.WeeklyEarnings(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Trips != 1 || !near(summary.TotalPay, 10) || !near(summary.Miles, 10) {
		t.Errorf("expected only this week's trip, got %+v", summary)
	}
}
