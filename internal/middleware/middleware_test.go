package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func serve(r http.Handler, method, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ──────────────────────────────────────────────
// 1. IDEMPOTENCY
// ──────────────────────────────────────────────

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	t.Parallel()

	_, client := newRedis(t)
	var calls atomic.Int32

	r := gin.New()
	r.Use(IdempotencyMiddleware(client))
	r.POST("/v1/trips", func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(http.StatusCreated, gin.H{"call": n})
	})

	first := serve(r, http.MethodPost, "/v1/trips", idempotencyHeader, "k1")
	second := serve(r, http.MethodPost, "/v1/trips", idempotencyHeader, "k1")

	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("expected replay of %d %q, got %d %q", first.Code, first.Body, second.Code, second.Body)
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Error("expected replay header")
	}

	serve(r, http.MethodPost, "/v1/trips", idempotencyHeader, "k2")
	serve(r, http.MethodPost, "/v1/trips")
	if calls.Load() != 3 {
		t.Errorf("new or missing keys must reach the handler, got %d calls", calls.Load())
	}
}

func TestIdempotency_ScopedToRoute(t *testing.T) {
	t.Parallel()

	_, client := newRedis(t)
	var calls atomic.Int32

	r := gin.New()
	r.Use(IdempotencyMiddleware(client))
	r.POST("/v1/trips/:id/finish", func(c *gin.Context) {
		calls.Add(1)
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodPost, "/v1/trips/a/finish", idempotencyHeader, "same")
	serve(r, http.MethodPost, "/v1/trips/b/finish", idempotencyHeader, "same")

	if calls.Load() != 2 {
		t.Errorf("expected both trips to be finished, got %d calls", calls.Load())
	}
}

func TestIdempotency_ConflictsAreRetried(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	var calls atomic.Int32

	r := gin.New()
	r.Use(IdempotencyMiddleware(client))
	r.POST("/depart", func(c *gin.Context) {
		if calls.Add(1) == 1 {
			c.JSON(http.StatusConflict, gin.H{"error": "busy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	})

	if w := serve(r, http.MethodPost, "/depart", idempotencyHeader, "k"); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if mr.Exists(idempotencyKey(http.MethodPost, "/depart", "k")) {
		t.Error("a conflict must release the key")
	}
	if w := serve(r, http.MethodPost, "/depart", idempotencyHeader, "k"); w.Code != http.StatusOK {
		t.Errorf("expected retry to run, got %d", w.Code)
	}
}

func TestIdempotency_InFlightDuplicateRejected(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	var calls atomic.Int32

	r := gin.New()
	r.Use(IdempotencyMiddleware(client))
	r.POST("/arrive", func(c *gin.Context) {
		calls.Add(1)
		c.Status(http.StatusOK)
	})

	// Another instance is still handling the first attempt.
	if err := mr.Set(idempotencyKey(http.MethodPost, "/arrive", "k"), pendingMarker); err != nil {
		t.Fatal(err)
	}

	if w := serve(r, http.MethodPost, "/arrive", idempotencyHeader, "k"); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	if calls.Load() != 0 {
		t.Error("duplicate must not reach the handler")
	}
}

func TestIdempotency_PassThrough(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	var calls atomic.Int32
	handler := func(c *gin.Context) {
		calls.Add(1)
		c.Status(http.StatusOK)
	}

	r := gin.New()
	r.Use(IdempotencyMiddleware(client))
	r.GET("/trip", handler)
	serve(r, http.MethodGet, "/trip", idempotencyHeader, "k")
	serve(r, http.MethodGet, "/trip", idempotencyHeader, "k")

	disabled := gin.New()
	disabled.Use(IdempotencyMiddleware(nil))
	disabled.POST("/trip", handler)
	serve(disabled, http.MethodPost, "/trip", idempotencyHeader, "k")
	serve(disabled, http.MethodPost, "/trip", idempotencyHeader, "k")

	if calls.Load() != 4 {
		t.Errorf("expected every request handled, got %d", calls.Load())
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("nothing should be stored, got %v", mr.Keys())
	}
}

// ──────────────────────────────────────────────
// 2. CORS
// ──────────────────────────────────────────────

func TestCORS_PreflightAnswered(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := gin.New()
	r.Use(CORSMiddleware())
	r.POST("/v1/trips", func(c *gin.Context) {
		calls.Add(1)
		c.Status(http.StatusCreated)
	})

	w := serve(r, http.MethodOptions, "/v1/trips",
		"Origin", "https://app.example.com",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", idempotencyHeader,
	)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected wildcard origin, got headers %v", w.Header())
	}
	if calls.Load() != 0 {
		t.Error("preflight must not reach the handler")
	}

	w = serve(r, http.MethodPost, "/v1/trips", "Origin", "https://app.example.com")
	if w.Code != http.StatusCreated || calls.Load() != 1 {
		t.Errorf("expected actual request handled, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS headers on the actual request")
	}
}

// ──────────────────────────────────────────────
// 3. ROUTE LABELS
// ──────────────────────────────────────────────

func TestRouteLabel(t *testing.T) {
	t.Parallel()

	var got string
	r := gin.New()
	r.GET("/v1/trips/:id", func(c *gin.Context) { got = routeLabel(c) })

	serve(r, http.MethodGet, "/v1/trips/trip-42")
	if got != "/v1/trips/:id" {
		t.Errorf("expected route template, got %q", got)
	}

	r.NoRoute(func(c *gin.Context) { got = routeLabel(c) })
	serve(r, http.MethodGet, "/nowhere")
	if got != "unmatched" {
		t.Errorf("expected unmatched, got %q", got)
	}
}
