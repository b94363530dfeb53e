package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"haulpay/internal/service"
)

// SettingsHandler handles HTTP requests for pay settings and earnings.
type SettingsHandler struct {
	settingsService *service.SettingsService
	tripService     *service.TripService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(settingsService *service.SettingsService, tripService *service.TripService) *SettingsHandler {
	return &SettingsHandler{
		settingsService: settingsService,
		tripService:     tripService,
	}
}

// GetSettings handles GET /v1/users/:userId/settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.settingsService.GetSettings(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toSettingsBody(*settings))
}

// SaveSettings handles PUT /v1/users/:userId/settings
func (h *SettingsHandler) SaveSettings(c *gin.Context) {
	var req SettingsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	settings, err := h.settingsService.SaveSettings(c.Request.Context(), c.Param("userId"), req.toDomain())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toSettingsBody(*settings))
}

// WeeklyEarnings handles GET /v1/users/:userId/earnings/weekly
func (h *SettingsHandler) WeeklyEarnings(c *gin.Context) {
	userID := c.Param("userId")

	summary, err := h.tripService.WeeklyEarnings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toWeeklyEarningsResponse(userID, summary))
}
