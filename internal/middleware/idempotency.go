package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
	idempotencyPrefix = "idempotency:"
	idempotencyTTL    = 24 * time.Hour

	// pendingTTL bounds how long a crashed request can hold its key.
	pendingTTL    = time.Minute
	pendingMarker = "pending"
)

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware returns middleware that replays the stored response of a
// mutating request retried with the same Idempotency-Key on the same route.
// A retry that arrives while the first attempt is still running gets 409.
// A nil client disables it.
func IdempotencyMiddleware(redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if redisClient == nil || key == "" || !mutating(c.Request.Method) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := idempotencyKey(c.Request.Method, c.Request.URL.Path, key)

		reserved, err := redisClient.SetNX(ctx, cacheKey, pendingMarker, pendingTTL).Result()
		if err != nil {
			// Redis unavailable: serve without idempotency.
			c.Next()
			return
		}

		if !reserved {
			cached, err := getCachedResponse(ctx, redisClient, cacheKey)
			switch {
			case errors.Is(err, errPending):
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			case err != nil:
				c.Next()
			default:
				c.Header(replayHeader, "true")
				c.Data(cached.StatusCode, cached.ContentType, cached.Body)
				c.Abort()
			}
			return
		}

		w := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w

		c.Next()

		// The request context may be done once the handler returns.
		storeCtx := context.WithoutCancel(ctx)
		status := c.Writer.Status()
		if !cacheable(status) {
			_ = redisClient.Del(storeCtx, cacheKey).Err()
			return
		}
		response := cachedResponse{
			StatusCode:  status,
			ContentType: c.Writer.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := setCachedResponse(storeCtx, redisClient, cacheKey, &response); err != nil {
			_ = redisClient.Del(storeCtx, cacheKey).Err()
		}
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// cacheable reports whether a retry should see the same status. Conflicts and
// location refusals may clear up, so they are not replayed.
func cacheable(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return status >= 200 && status < 500
}

// idempotencyKey scopes a client key to one route, so the same key reused on
// another trip operation is not answered with a stale response.
func idempotencyKey(method, path, key string) string {
	return idempotencyPrefix + method + ":" + path + ":" + key
}

var errPending = errors.New("idempotent request in progress")

func getCachedResponse(ctx context.Context, client *redis.Client, key string) (*cachedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	if string(data) == pendingMarker {
		return nil, errPending
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func setCachedResponse(ctx context.Context, client *redis.Client, key string, response *cachedResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, idempotencyTTL).Err()
}
