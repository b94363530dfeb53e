package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"haulpay/internal/domain"
	"haulpay/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService *service.TripService
	sessions    *service.SessionManager
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService, sessions *service.SessionManager) *TripHandler {
	return &TripHandler{
		tripService: tripService,
		sessions:    sessions,
	}
}

// CreateTripRequest is the HTTP request body for starting a trip.
type CreateTripRequest struct {
	UserID       string  `json:"user_id"`
	StartMileage float64 `json:"start_mileage"`
}

// UpdateMileageRequest is the HTTP request body for a manual odometer reading.
type UpdateMileageRequest struct {
	Odometer float64 `json:"odometer"`
}

// FinishTripRequest is the HTTP request body for finishing a trip.
type FinishTripRequest struct {
	FinalOdometer *float64 `json:"final_odometer,omitempty"`
}

// tripOp is one mutation of a trip session.
type tripOp func(ctx context.Context, s *service.TripSession) (*domain.Trip, error)

// mutateTrip runs op under the trip lock and responds with the resulting trip.
func mutateTrip(c *gin.Context, sessions *service.SessionManager, op tripOp) {
	ctx := c.Request.Context()
	tripID := c.Param("id")

	var trip *domain.Trip
	err := sessions.Do(ctx, tripID, func(s *service.TripSession) error {
		var err error
		trip, err = op(ctx, s)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.tripService.CreateTrip(c.Request.Context(), service.CreateTripRequest{
		UserID:       req.UserID,
		StartMileage: req.StartMileage,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toTripResponse(trip))
}

// GetAll handles GET /v1/trips?user_id=
func (h *TripHandler) GetAll(c *gin.Context) {
	trips, err := h.tripService.ListTrips(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]TripResponse, 0, len(trips))
	for _, t := range trips {
		response = append(response, toTripResponse(t))
	}
	respondJSON(c, http.StatusOK, response)
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.tripService.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// DeleteTrip handles DELETE /v1/trips/:id
func (h *TripHandler) DeleteTrip(c *gin.Context) {
	if err := h.tripService.DeleteTrip(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateMileage handles POST /v1/trips/:id/mileage
func (h *TripHandler) UpdateMileage(c *gin.Context) {
	var req UpdateMileageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.UpdateMileage(ctx, req.Odometer)
	})
}

// FinishTrip handles POST /v1/trips/:id/finish
func (h *TripHandler) FinishTrip(c *gin.Context) {
	var req FinishTripRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.FinishTrip(ctx, req.FinalOdometer)
	})
}

// GetTracking handles GET /v1/trips/:id/tracking
func (h *TripHandler) GetTracking(c *gin.Context) {
	session, err := h.sessions.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toProgressResponse(session.Progress()))
}

// FlushTracking handles POST /v1/trips/:id/tracking/flush
func (h *TripHandler) FlushTracking(c *gin.Context) {
	ctx := c.Request.Context()

	var progress service.Progress
	err := h.sessions.Do(ctx, c.Param("id"), func(s *service.TripSession) error {
		if err := s.Flush(ctx); err != nil {
			return err
		}
		progress = s.Progress()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toProgressResponse(progress))
}

// GetStatement handles GET /v1/trips/:id/statement. ?format=text returns the printable form.
func (h *TripHandler) GetStatement(c *gin.Context) {
	st, err := h.tripService.Statement(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, h.tripService.FormatStatement(st))
		return
	}
	respondJSON(c, http.StatusOK, toStatementResponse(st))
}
