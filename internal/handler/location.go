package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"haulpay/internal/domain"
	"haulpay/internal/location"
	"haulpay/internal/service"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LocationHandler ingests device fixes and streams live tracking progress.
type LocationHandler struct {
	feed     *location.Feed
	sessions *service.SessionManager
	log      *slog.Logger
}

// NewLocationHandler creates a new LocationHandler.
func NewLocationHandler(feed *location.Feed, sessions *service.SessionManager, log *slog.Logger) *LocationHandler {
	return &LocationHandler{
		feed:     feed,
		sessions: sessions,
		log:      log,
	}
}

// FixRequest carries either a coordinate or a device failure ("denied" or "unavailable").
type FixRequest struct {
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
	Error string   `json:"error,omitempty"`
}

// apply hands the fix or failure to the feed of tripID.
func (r FixRequest) apply(ctx context.Context, feed *location.Feed, tripID string) error {
	switch r.Error {
	case "":
	case "denied":
		feed.Fail(tripID, location.ErrPermissionDenied)
		return nil
	case "unavailable":
		feed.Fail(tripID, location.ErrUnavailable)
		return nil
	default:
		return fmt.Errorf("%w: unknown device error %q", location.ErrInvalidFix, r.Error)
	}

	if r.Lat == nil || r.Lng == nil {
		return fmt.Errorf("%w: lat and lng are required", location.ErrInvalidFix)
	}
	return feed.Publish(ctx, tripID, domain.GeoPoint{Lat: *r.Lat, Lng: *r.Lng})
}

// PostFix handles POST /v1/trips/:id/location
func (h *LocationHandler) PostFix(c *gin.Context) {
	var req FixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := req.apply(c.Request.Context(), h.feed, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Stream handles GET /v1/trips/:id/location/stream. The client may send fixes
// over the socket and receives a progress message after every change.
func (h *LocationHandler) Stream(c *gin.Context) {
	tripID := c.Param("id")

	session, err := h.sessions.Open(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "trip_id", tripID, "error", err)
		return
	}

	updates, cancel := session.Updates()
	done := make(chan struct{})

	go h.readPump(conn, tripID, done)
	h.writePump(conn, updates, done)
	cancel()
}

// readPump feeds client fixes into the trip's feed until the connection closes.
func (h *LocationHandler) readPump(conn *websocket.Conn, tripID string, done chan<- struct{}) {
	defer func() {
		close(done)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req FixRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "trip_id", tripID, "error", err)
			}
			return
		}
		if err := req.apply(context.Background(), h.feed, tripID); err != nil {
			h.log.Debug("rejected streamed fix", "trip_id", tripID, "error", err)
		}
	}
}

// writePump pushes progress to the client and keeps the connection alive.
func (h *LocationHandler) writePump(conn *websocket.Conn, updates <-chan service.Progress, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case p, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session closed
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(toProgressResponse(p)); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
