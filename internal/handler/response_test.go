package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"haulpay/internal/domain"
	"haulpay/internal/location"
	"haulpay/internal/repository"
	"haulpay/internal/service"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("get trip: %w", repository.ErrNotFound), http.StatusNotFound},
		{service.ErrStopNotFound, http.StatusNotFound},
		{service.ErrInvalidStopCount, http.StatusBadRequest},
		{domain.ErrInvalidNightWindow, http.StatusBadRequest},
		{fmt.Errorf("%w: latitude out of range", location.ErrInvalidFix), http.StatusBadRequest},
		{service.ErrTripFinished, http.StatusConflict},
		{service.ErrTripBusy, http.StatusConflict},
		{service.ErrTargetMismatch, http.StatusConflict},
		{location.ErrPermissionDenied, http.StatusForbidden},
		{location.ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := mapErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapErrorToHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestFixRequestValidation(t *testing.T) {
	t.Parallel()

	lat, lng := 40.0, -75.0
	tests := []struct {
		name string
		req  FixRequest
		ok   bool
	}{
		{"coordinates", FixRequest{Lat: &lat, Lng: &lng}, true},
		{"denied", FixRequest{Error: "denied"}, true},
		{"unavailable", FixRequest{Error: "unavailable"}, true},
		{"missing longitude", FixRequest{Lat: &lat}, false},
		{"unknown error", FixRequest{Error: "gps on fire"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := location.NewFeed(nil, location.FeedConfig{})
			err := tt.req.apply(context.Background(), feed, "trip-1")
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, location.ErrInvalidFix) {
				t.Errorf("expected ErrInvalidFix, got %v", err)
			}
		})
	}
}
