package firestore

import (
	"errors"
	"reflect"
	"testing"
	"time"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"haulpay/internal/domain"
	"haulpay/internal/repository"
)

func sampleTrip() *domain.Trip {
	created := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	arrived := created.Add(2 * time.Hour)
	end := 1250.5
	target := domain.StopTarget("l1", "s2")
	last := domain.GeoPoint{Lat: 40.2, Lng: -75.1}

	return &domain.Trip{
		ID:             "trip-1",
		UserID:         "user-1",
		StartMileage:   1000,
		CurrentMileage: 1200,
		EndMileage:     &end,
		Loads: []domain.Load{{
			ID:            "l1",
			LoadType:      domain.LoadTypeDry,
			CreatedAt:     created,
			StartLocation: &domain.GeoPoint{Lat: 40, Lng: -75},
			Stops: []domain.Stop{
				{ID: "s1", ArrivedAt: &arrived, ArrivedLocation: &domain.GeoPoint{Lat: 40.1, Lng: -75}},
				{ID: "s2", Name: "Market St"},
			},
		}},
		NightMiles: 42,
		TotalPay:   180.5,
		CreatedAt:  created,
		UpdatedAt:  arrived,
		Tracking: domain.TrackingState{
			Active:           true,
			Target:           &target,
			MilesBuffer:      3.5,
			NightMilesBuffer: 1,
			LastLocation:     &last,
		},
	}
}

func TestTripDoc_RoundTrip(t *testing.T) {
	t.Parallel()

	trip := sampleTrip()
	got := fromTripDoc(trip.ID, toTripDoc(trip))

	if !reflect.DeepEqual(got, trip) {
		t.Errorf("trip did not round trip:\n got: %+v\nwant: %+v", got, trip)
	}
}

func TestSettingsDoc_DefaultsForMissingNightFields(t *testing.T) {
	t.Parallel()

	got := fromSettingsDoc(settingsDoc{CPM: 0.6, PayPerLoad: 20, PayPerStop: 5})
	if got.NightStartMinutes != domain.DefaultNightStartMinutes || got.NightEndMinutes != domain.DefaultNightEndMinutes {
		t.Errorf("expected default night window, got %d-%d", got.NightStartMinutes, got.NightEndMinutes)
	}
	if got.NightPayEnabled || got.NightExtraCPM != 0 {
		t.Errorf("expected night pay off by default, got %+v", got)
	}

	want := domain.Settings{CPM: 1, PayPerLoad: 2, PayPerStop: 3, NightPayEnabled: true, NightStartMinutes: 0, NightEndMinutes: 240, NightExtraCPM: 0.06, TimeZone: "America/Chicago"}
	if round := fromSettingsDoc(toSettingsDoc(want)); *round != want {
		t.Errorf("expected %+v, got %+v", want, *round)
	}
}

func TestTripUpdates_Paths(t *testing.T) {
	t.Parallel()

	total := 10.0
	night := 2.0
	updates, err := tripUpdates(domain.TripPatch{
		NightMiles: &night,
		TotalPay:   &total,
		Tracking:   &domain.TrackingState{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var paths []string
	for _, u := range updates {
		paths = append(paths, u.Path)
	}
	want := []string{
		"nightMiles", "totalPay",
		"trackingActive", "trackingMilesBuffer", "trackingNightMilesBuffer",
		"trackingTarget", "trackingLastLocation",
		"updatedAt",
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("expected paths %v, got %v", want, paths)
	}
	if updates[5].Value != fs.Delete || updates[6].Value != fs.Delete {
		t.Error("cleared tracking should delete target and last location")
	}
	if updates[len(updates)-1].Value != fs.ServerTimestamp {
		t.Error("updatedAt should use the server timestamp")
	}
}

func TestTripUpdates_RejectsUnpricedPatch(t *testing.T) {
	t.Parallel()

	loads := []domain.Load{}
	if _, err := tripUpdates(domain.TripPatch{Loads: &loads}); !errors.Is(err, domain.ErrPatchMissingPay) {
		t.Errorf("expected ErrPatchMissingPay, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	if err := mapError(status.Error(codes.NotFound, "no doc")); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	other := status.Error(codes.Unavailable, "down")
	if err := mapError(other); err != other {
		t.Errorf("expected passthrough, got %v", err)
	}
	if mapError(nil) != nil {
		t.Error("expected nil")
	}
}
