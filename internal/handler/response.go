package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"haulpay/internal/domain"
	"haulpay/internal/location"
	"haulpay/internal/repository"
	"haulpay/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrLoadNotFound),
		errors.Is(err, service.ErrStopNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidUserID),
		errors.Is(err, service.ErrInvalidTripID),
		errors.Is(err, service.ErrInvalidStartMileage),
		errors.Is(err, service.ErrInvalidStopCount),
		errors.Is(err, service.ErrInvalidLoadType),
		errors.Is(err, service.ErrInvalidOdometer),
		errors.Is(err, domain.ErrInvalidRate),
		errors.Is(err, domain.ErrInvalidNightWindow),
		errors.Is(err, domain.ErrInvalidTimeZone),
		errors.Is(err, domain.ErrPatchMissingPay),
		errors.Is(err, location.ErrInvalidFix):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrTripFinished),
		errors.Is(err, service.ErrSegmentActive),
		errors.Is(err, service.ErrStopNotEligible),
		errors.Is(err, service.ErrDepotNotEligible),
		errors.Is(err, service.ErrNoActiveSegment),
		errors.Is(err, service.ErrTargetMismatch),
		errors.Is(err, service.ErrTripBusy),
		errors.Is(err, service.ErrSessionClosed):
		return http.StatusConflict

	// The device refused location access
	case errors.Is(err, location.ErrPermissionDenied):
		return http.StatusForbidden

	// No fix in time
	case errors.Is(err, location.ErrUnavailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
