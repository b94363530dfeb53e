package pay

import (
	"testing"

	"haulpay/internal/domain"
)

func TestApplyOdometer_DayEntryAddsNoNightMiles(t *testing.T) {
	t.Parallel()

	s := nightSettings(1140, 180)
	got := ApplyOdometer(1000, 1010, 3, 1050, at(12, 0), s)

	if got.CurrentMileage != 1050 || got.Delta != 40 {
		t.Errorf("unexpected mileage: %+v", got)
	}
	if got.NightMiles != 3 || got.NightDelta != 0 {
		t.Errorf("expected night miles unchanged, got %+v", got)
	}
}

func TestApplyOdometer_NightEntryClassifiesWholeDelta(t *testing.T) {
	t.Parallel()

	s := nightSettings(1140, 180)
	got := ApplyOdometer(1000, 1010, 3, 1050, at(23, 0), s)

	if got.NightDelta != 40 || got.NightMiles != 43 {
		t.Errorf("expected whole delta as night, got %+v", got)
	}
}

func TestApplyOdometer_DownwardCorrectionClampsNightMiles(t *testing.T) {
	t.Parallel()

	s := nightSettings(1140, 180)
	got := ApplyOdometer(1000, 1050, 40, 1020, at(23, 0), s)

	if got.Delta != -30 || got.NightDelta != 0 {
		t.Errorf("negative delta must not add night miles: %+v", got)
	}
	if got.NightMiles != 20 {
		t.Errorf("expected night miles clamped to 20, got %v", got.NightMiles)
	}
}

func TestApplyOdometer_NightPayDisabled(t *testing.T) {
	t.Parallel()

	s := domain.Settings{}
	got := ApplyOdometer(0, 0, 0, 25, at(23, 0), s)
	if got.NightMiles != 0 {
		t.Errorf("expected no night miles, got %v", got.NightMiles)
	}
}
