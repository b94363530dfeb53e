package app

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"haulpay/internal/domain"
	"haulpay/internal/geo"
	"haulpay/internal/handler"
	"haulpay/internal/location"
	internalRedis "haulpay/internal/redis"
	"haulpay/internal/service"
	"haulpay/internal/tests"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	trips  *tests.MockTripRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	log := tests.DiscardLogger()
	trips := tests.NewMockTripRepository()
	snapshots := internalRedis.NewSnapshotStore(redisClient, time.Hour)

	feed := location.NewFeed(internalRedis.NewLocationStore(redisClient), location.FeedConfig{
		FixTimeout: 200 * time.Millisecond,
		Logger:     log,
	})
	settingsService := service.NewSettingsService(tests.NewMockSettingsRepository(), internalRedis.NewCacheStore(redisClient), log)
	sessions := service.NewSessionManager(
		trips,
		settingsService,
		feed,
		snapshots,
		internalRedis.NewLockStore(redisClient),
		nil,
		service.SessionConfig{FlushInterval: time.Hour, Logger: log},
	)
	settingsService.AddListener(sessions.RefreshSettings)
	t.Cleanup(func() { sessions.CloseAll(context.Background()) })

	tripService := service.NewTripService(trips, settingsService, sessions, snapshots, feed, service.NewStatementService())

	router := NewRouter(RouterDeps{
		TripHandler:     handler.NewTripHandler(tripService, sessions),
		LoadHandler:     handler.NewLoadHandler(sessions),
		LocationHandler: handler.NewLocationHandler(feed, sessions, log),
		SettingsHandler: handler.NewSettingsHandler(settingsService, tripService),
		RedisClient:     redisClient,
		Logger:          log,
	})
	return &testServer{router: router, trips: trips}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

var dayRates = handler.SettingsBody{
	CPM:               1,
	PayPerLoad:        25,
	PayPerStop:        5,
	NightStartMinutes: 1140,
	NightEndMinutes:   180,
	TimeZone:          "UTC",
}

func TestRouter_TripFlow(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	w := srv.do(t, http.MethodPut, "/v1/users/user-1/settings", dayRates)
	expectStatus(t, w, http.StatusOK)

	w = srv.do(t, http.MethodPost, "/v1/trips", handler.CreateTripRequest{UserID: "user-1", StartMileage: 1000})
	expectStatus(t, w, http.StatusCreated)
	trip := decode[handler.TripResponse](t, w)
	base := "/v1/trips/" + trip.ID

	w = srv.do(t, http.MethodPost, base+"/loads", handler.AddLoadRequest{StopCount: 1})
	expectStatus(t, w, http.StatusOK)
	trip = decode[handler.TripResponse](t, w)
	load := trip.Loads[0]
	if load.LoadType != string(domain.LoadTypeDry) || trip.TotalPay != 30 {
		t.Fatalf("unexpected trip after adding a load: %+v", trip)
	}

	origin := domain.GeoPoint{Lat: 40, Lng: -75}
	dest := domain.GeoPoint{Lat: 40.03, Lng: -75}

	w = srv.do(t, http.MethodPost, base+"/location", map[string]float64{"lat": origin.Lat, "lng": origin.Lng})
	expectStatus(t, w, http.StatusAccepted)

	stopPath := base + "/loads/" + load.ID + "/stops/" + load.Stops[0].ID
	w = srv.do(t, http.MethodPost, stopPath+"/depart", nil)
	expectStatus(t, w, http.StatusOK)
	if trip = decode[handler.TripResponse](t, w); !trip.Tracking.Active {
		t.Fatalf("expected active tracking, got %+v", trip.Tracking)
	}

	w = srv.do(t, http.MethodPost, base+"/location", map[string]float64{"lat": dest.Lat, "lng": dest.Lng})
	expectStatus(t, w, http.StatusAccepted)

	want := geo.Distance(origin, dest)
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = srv.do(t, http.MethodGet, base+"/tracking", nil)
		expectStatus(t, w, http.StatusOK)
		if p := decode[handler.ProgressResponse](t, w); math.Abs(p.MilesBuffer-want) < 1e-6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tracked miles never reached %v: %s", want, w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = srv.do(t, http.MethodPost, stopPath+"/arrive", nil)
	expectStatus(t, w, http.StatusOK)
	trip = decode[handler.TripResponse](t, w)
	if math.Abs(trip.TripMiles-want) > 1e-6 || math.Abs(trip.TotalPay-(30+want)) > 1e-6 {
		t.Errorf("expected %v miles and pay %v, got %+v", want, 30+want, trip)
	}
	if trip.Loads[0].Stops[0].ArrivedAt == "" {
		t.Error("expected stop arrival time")
	}

	w = srv.do(t, http.MethodPost, base+"/finish", nil)
	expectStatus(t, w, http.StatusOK)
	if trip = decode[handler.TripResponse](t, w); !trip.IsFinished || trip.EndMileage == nil {
		t.Errorf("expected finished trip, got %+v", trip)
	}

	w = srv.do(t, http.MethodPost, base+"/loads", handler.AddLoadRequest{StopCount: 1})
	expectStatus(t, w, http.StatusConflict)

	w = srv.do(t, http.MethodGet, base+"/statement", nil)
	expectStatus(t, w, http.StatusOK)
	if st := decode[handler.StatementResponse](t, w); math.Abs(st.Breakdown.Total-trip.TotalPay) > 1e-6 {
		t.Errorf("statement total %v does not match trip pay %v", st.Breakdown.Total, trip.TotalPay)
	}

	w = srv.do(t, http.MethodGet, base+"/statement?format=text", nil)
	expectStatus(t, w, http.StatusOK)

	w = srv.do(t, http.MethodGet, "/v1/users/user-1/earnings/weekly", nil)
	expectStatus(t, w, http.StatusOK)
	if weekly := decode[handler.WeeklyEarningsResponse](t, w); weekly.Trips != 1 || weekly.Finished != 1 {
		t.Errorf("unexpected weekly summary: %+v", weekly)
	}
}

func TestRouter_LocationErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/v1/trips", handler.CreateTripRequest{UserID: "user-1", StartMileage: 0})
	trip := decode[handler.TripResponse](t, w)
	base := "/v1/trips/" + trip.ID

	w = srv.do(t, http.MethodPost, base+"/loads", handler.AddLoadRequest{StopCount: 1})
	trip = decode[handler.TripResponse](t, w)
	departPath := base + "/loads/" + trip.Loads[0].ID + "/stops/" + trip.Loads[0].Stops[0].ID + "/depart"

	// No fix arrives before the timeout.
	w = srv.do(t, http.MethodPost, departPath, nil)
	expectStatus(t, w, http.StatusServiceUnavailable)

	w = srv.do(t, http.MethodPost, base+"/location", handler.FixRequest{Error: "denied"})
	expectStatus(t, w, http.StatusAccepted)

	w = srv.do(t, http.MethodPost, departPath, nil)
	expectStatus(t, w, http.StatusForbidden)

	lat, lng := 91.0, 0.0
	w = srv.do(t, http.MethodPost, base+"/location", handler.FixRequest{Lat: &lat, Lng: &lng})
	expectStatus(t, w, http.StatusBadRequest)

	w = srv.do(t, http.MethodPost, base+"/location", handler.FixRequest{Error: "bogus"})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestRouter_ValidationAndNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/v1/trips", handler.CreateTripRequest{UserID: "user-1", StartMileage: -5})
	expectStatus(t, w, http.StatusBadRequest)

	w = srv.do(t, http.MethodGet, "/v1/trips/missing", nil)
	expectStatus(t, w, http.StatusNotFound)

	w = srv.do(t, http.MethodGet, "/v1/trips", nil)
	expectStatus(t, w, http.StatusBadRequest)

	bad := dayRates
	bad.NightEndMinutes = 2000
	w = srv.do(t, http.MethodPut, "/v1/users/user-1/settings", bad)
	expectStatus(t, w, http.StatusBadRequest)

	w = srv.do(t, http.MethodGet, "/v1/users/someone/settings", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[handler.SettingsBody](t, w); got.NightStartMinutes != domain.DefaultNightStartMinutes {
		t.Errorf("expected default settings, got %+v", got)
	}

	trip := decode[handler.TripResponse](t, srv.do(t, http.MethodPost, "/v1/trips", handler.CreateTripRequest{UserID: "user-1"}))
	w = srv.do(t, http.MethodPost, "/v1/trips/"+trip.ID+"/loads/missing/begin", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestRouter_IdempotentCreateReplays(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	body := handler.CreateTripRequest{UserID: "user-1", StartMileage: 10}

	first := srv.do(t, http.MethodPost, "/v1/trips", body, "Idempotency-Key", "abc")
	expectStatus(t, first, http.StatusCreated)
	second := srv.do(t, http.MethodPost, "/v1/trips", body, "Idempotency-Key", "abc")
	expectStatus(t, second, http.StatusCreated)

	if a, b := decode[handler.TripResponse](t, first), decode[handler.TripResponse](t, second); a.ID != b.ID {
		t.Errorf("expected replayed trip %s, got %s", a.ID, b.ID)
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Error("expected replay header")
	}
	if n := atomic.LoadInt32(&srv.trips.CreateCallCount); n != 1 {
		t.Errorf("expected one create, got %d", n)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	expectStatus(t, srv.do(t, http.MethodGet, "/health", nil), http.StatusOK)

	w := srv.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, w, http.StatusOK)
	if !bytes.Contains(w.Body.Bytes(), []byte("haulpay_http_requests_total")) {
		t.Error("expected request metrics to be exported")
	}
}
