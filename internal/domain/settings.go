package domain

import (
	"errors"
	"math"
	"sync"
	"time"
)

// MinutesPerDay bounds the night window minute fields.
const MinutesPerDay = 24 * 60

// Default night window, 19:00 to 03:00.
const (
	DefaultNightStartMinutes = 19 * 60
	DefaultNightEndMinutes   = 3 * 60
)

var (
	// ErrInvalidRate is returned when a pay rate is negative or not a number.
	ErrInvalidRate = errors.New("pay rates must be non-negative numbers")

	// ErrInvalidNightWindow is returned when a night window bound is outside 0..1439.
	ErrInvalidNightWindow = errors.New("night window minutes must be between 0 and 1439")

	// ErrInvalidTimeZone is returned when the time zone is not a known IANA name.
	ErrInvalidTimeZone = errors.New("unknown time zone")
)

// Settings holds a user's pay rates and night window.
type Settings struct {
	CPM               float64 `json:"cpm"`
	PayPerLoad        float64 `json:"payPerLoad"`
	PayPerStop        float64 `json:"payPerStop"`
	NightPayEnabled   bool    `json:"nightPayEnabled"`
	NightStartMinutes int     `json:"nightStartMinutes"`
	NightEndMinutes   int     `json:"nightEndMinutes"`
	NightExtraCPM     float64 `json:"nightExtraCpm"`
	TimeZone          string  `json:"timeZone,omitempty"`
}

// DefaultSettings is used for users who never saved settings.
func DefaultSettings() Settings {
	return Settings{
		NightStartMinutes: DefaultNightStartMinutes,
		NightEndMinutes:   DefaultNightEndMinutes,
	}
}

// Validate checks rates and window bounds.
func (s Settings) Validate() error {
	for _, rate := range []float64{s.CPM, s.PayPerLoad, s.PayPerStop, s.NightExtraCPM} {
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return ErrInvalidRate
		}
	}
	if s.NightStartMinutes < 0 || s.NightStartMinutes >= MinutesPerDay ||
		s.NightEndMinutes < 0 || s.NightEndMinutes >= MinutesPerDay {
		return ErrInvalidNightWindow
	}
	if s.TimeZone != "" {
		if _, err := loadZone(s.TimeZone); err != nil {
			return ErrInvalidTimeZone
		}
	}
	return nil
}

// Location returns the zone clock times are read in. Unknown or empty names fall back to time.Local.
func (s Settings) Location() *time.Location {
	if s.TimeZone == "" {
		return time.Local
	}
	loc, err := loadZone(s.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// zones caches loaded locations by name. Failed names are not cached.
var zones sync.Map

func loadZone(name string) (*time.Location, error) {
	if loc, ok := zones.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	actual, _ := zones.LoadOrStore(name, loc)
	return actual.(*time.Location), nil
}
