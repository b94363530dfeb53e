package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"haulpay/internal/domain"
	"haulpay/internal/service"
)

// LoadHandler handles HTTP requests for loads, stops and segment boundaries.
type LoadHandler struct {
	sessions *service.SessionManager
}

// NewLoadHandler creates a new LoadHandler.
func NewLoadHandler(sessions *service.SessionManager) *LoadHandler {
	return &LoadHandler{sessions: sessions}
}

// AddLoadRequest is the HTTP request body for adding a load.
type AddLoadRequest struct {
	StopCount int    `json:"stop_count"`
	LoadType  string `json:"load_type,omitempty"` // wet or dry, dry by default
}

// EditLoadRequest is the HTTP request body for replacing a load's stops.
type EditLoadRequest struct {
	StopCount int `json:"stop_count"`
}

// AddLoad handles POST /v1/trips/:id/loads
func (h *LoadHandler) AddLoad(c *gin.Context) {
	var req AddLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.AddLoad(ctx, req.StopCount, domain.LoadType(req.LoadType))
	})
}

// EditLoad handles PUT /v1/trips/:id/loads/:loadId
func (h *LoadHandler) EditLoad(c *gin.Context) {
	var req EditLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	loadID := c.Param("loadId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.EditLoad(ctx, loadID, req.StopCount)
	})
}

// DeleteLoad handles DELETE /v1/trips/:id/loads/:loadId
func (h *LoadHandler) DeleteLoad(c *gin.Context) {
	loadID := c.Param("loadId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.DeleteLoad(ctx, loadID)
	})
}

// DeleteStop handles DELETE /v1/trips/:id/loads/:loadId/stops/:stopId
func (h *LoadHandler) DeleteStop(c *gin.Context) {
	loadID, stopID := c.Param("loadId"), c.Param("stopId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.DeleteStop(ctx, loadID, stopID)
	})
}

// BeginLoad handles POST /v1/trips/:id/loads/:loadId/begin
func (h *LoadHandler) BeginLoad(c *gin.Context) {
	loadID := c.Param("loadId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.BeginLoad(ctx, loadID)
	})
}

// DepartToStop handles POST /v1/trips/:id/loads/:loadId/stops/:stopId/depart
func (h *LoadHandler) DepartToStop(c *gin.Context) {
	loadID, stopID := c.Param("loadId"), c.Param("stopId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.DepartToStop(ctx, loadID, stopID)
	})
}

// ArriveAtStop handles POST /v1/trips/:id/loads/:loadId/stops/:stopId/arrive
func (h *LoadHandler) ArriveAtStop(c *gin.Context) {
	loadID, stopID := c.Param("loadId"), c.Param("stopId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.ArriveAtStop(ctx, loadID, stopID)
	})
}

// DepartToDepot handles POST /v1/trips/:id/loads/:loadId/depot/depart
func (h *LoadHandler) DepartToDepot(c *gin.Context) {
	loadID := c.Param("loadId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.DepartToDepot(ctx, loadID)
	})
}

// ArriveAtDepot handles POST /v1/trips/:id/loads/:loadId/depot/arrive
func (h *LoadHandler) ArriveAtDepot(c *gin.Context) {
	loadID := c.Param("loadId")
	mutateTrip(c, h.sessions, func(ctx context.Context, s *service.TripSession) (*domain.Trip, error) {
		return s.ArriveAtDepot(ctx, loadID)
	})
}
