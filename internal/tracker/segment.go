// Package tracker accumulates GPS distance for the open leg of a trip.
package tracker

import (
	"context"
	"errors"
	"time"

	"haulpay/internal/domain"
	"haulpay/internal/geo"
	"haulpay/internal/pay"
)

var (
	// ErrSegmentActive is returned when starting a segment while another is open.
	ErrSegmentActive = errors.New("segment already active")

	// ErrInvalidTarget is returned for a malformed target or snapshot.
	ErrInvalidTarget = errors.New("invalid segment target")
)

// SnapshotStore keeps a copy of the open segment apart from the trip record.
type SnapshotStore interface {
	// Load returns nil when no snapshot exists.
	Load(ctx context.Context, tripID string) (*domain.SegmentSnapshot, error)
	Save(ctx context.Context, snap domain.SegmentSnapshot) error
	Clear(ctx context.Context, tripID string) error
}

// Totals is the distance buffered by a segment.
type Totals struct {
	Miles      float64
	NightMiles float64
}

// Segment tracks distance toward one target. It is not safe for concurrent use;
// the owning trip session serialises access.
type Segment struct {
	tripID   string
	settings domain.Settings
	now      func() time.Time

	active    bool
	target    domain.SegmentTarget
	miles     float64
	night     float64
	last      domain.GeoPoint
	dirty     bool
	fixes     int
	updatedAt time.Time
}

// NewSegment creates an idle segment for a trip.
func NewSegment(tripID string, settings domain.Settings, now func() time.Time) *Segment {
	if now == nil {
		now = time.Now
	}
	return &Segment{tripID: tripID, settings: settings, now: now}
}

// SetSettings changes the night window used for subsequent fixes.
func (s *Segment) SetSettings(settings domain.Settings) {
	s.settings = settings
}

// Start opens a segment at origin with empty buffers.
func (s *Segment) Start(target domain.SegmentTarget, origin domain.GeoPoint) error {
	if s.active {
		return ErrSegmentActive
	}
	if !target.Valid() {
		return ErrInvalidTarget
	}
	s.active = true
	s.target = target
	s.miles = 0
	s.night = 0
	s.last = origin
	s.fixes = 0
	s.dirty = false
	s.updatedAt = s.now()
	return nil
}

// Resume reopens a segment from a snapshot without resetting its buffers.
func (s *Segment) Resume(snap domain.SegmentSnapshot) error {
	if s.active {
		return ErrSegmentActive
	}
	if !snap.Target.Valid() || snap.MilesBuffer < 0 || snap.NightMilesBuffer < 0 {
		return ErrInvalidTarget
	}
	s.active = true
	s.target = snap.Target
	s.miles = snap.MilesBuffer
	s.night = min(snap.NightMilesBuffer, snap.MilesBuffer)
	s.last = snap.LastLocation
	s.fixes = 0
	s.dirty = false
	s.updatedAt = snap.UpdatedAt
	return nil
}

// Accept folds one fix into the buffers and returns the distance added.
// Fixes are ignored while idle, and a zero-distance fix changes nothing.
func (s *Segment) Accept(p domain.GeoPoint) float64 {
	if !s.active {
		return 0
	}
	delta := geo.Distance(s.last, p)
	if delta <= 0 {
		return 0
	}

	now := s.now()
	s.miles += delta
	if pay.IsNight(now, s.settings) {
		s.night += delta
	}
	s.last = p
	s.fixes++
	s.dirty = true
	s.updatedAt = now
	return delta
}

// Preview returns the totals that would result from accepting p, without changing state.
func (s *Segment) Preview(p domain.GeoPoint) Totals {
	if !s.active {
		return Totals{}
	}
	delta := geo.Distance(s.last, p)
	t := Totals{Miles: s.miles, NightMiles: s.night}
	if delta > 0 {
		t.Miles += delta
		if pay.IsNight(s.now(), s.settings) {
			t.NightMiles += delta
		}
	}
	return t
}

// Totals returns the buffered distance.
func (s *Segment) Totals() Totals {
	return Totals{Miles: s.miles, NightMiles: s.night}
}

// Stop closes the segment and returns what it had buffered.
func (s *Segment) Stop() Totals {
	t := s.Totals()
	s.active = false
	s.target = domain.SegmentTarget{}
	s.miles = 0
	s.night = 0
	s.last = domain.GeoPoint{}
	s.dirty = false
	s.fixes = 0
	return t
}

// Active reports whether a segment is open.
func (s *Segment) Active() bool {
	return s.active
}

// Target returns the open segment's target.
func (s *Segment) Target() (domain.SegmentTarget, bool) {
	return s.target, s.active
}

// Dirty reports whether buffers changed since the last MarkPersisted.
func (s *Segment) Dirty() bool {
	return s.active && s.dirty
}

// MarkPersisted clears the dirty flag.
func (s *Segment) MarkPersisted() {
	s.dirty = false
}

// Fixes is the number of fixes that moved the segment since it was opened or resumed.
func (s *Segment) Fixes() int {
	return s.fixes
}

// LastLocation returns the most recent accepted fix.
func (s *Segment) LastLocation() domain.GeoPoint {
	return s.last
}

// UpdatedAt is the time of the most recent change.
func (s *Segment) UpdatedAt() time.Time {
	return s.updatedAt
}

// Snapshot captures the open segment. ok is false while idle.
func (s *Segment) Snapshot() (snap domain.SegmentSnapshot, ok bool) {
	if !s.active {
		return domain.SegmentSnapshot{}, false
	}
	return domain.SegmentSnapshot{
		TripID:           s.tripID,
		Target:           s.target,
		MilesBuffer:      s.miles,
		NightMilesBuffer: s.night,
		LastLocation:     s.last,
		UpdatedAt:        s.updatedAt,
	}, true
}

// TrackingState is the record-store form of the segment.
func (s *Segment) TrackingState() domain.TrackingState {
	if !s.active {
		return domain.TrackingState{}
	}
	target := s.target
	last := s.last
	return domain.TrackingState{
		Active:           true,
		Target:           &target,
		MilesBuffer:      s.miles,
		NightMilesBuffer: s.night,
		LastLocation:     &last,
	}
}

// SnapshotFromTracking converts a persisted tracking state into a snapshot.
func SnapshotFromTracking(tripID string, ts domain.TrackingState, updatedAt time.Time) (domain.SegmentSnapshot, bool) {
	if !ts.Active || ts.Target == nil || !ts.Target.Valid() || ts.LastLocation == nil {
		return domain.SegmentSnapshot{}, false
	}
	return domain.SegmentSnapshot{
		TripID:           tripID,
		Target:           *ts.Target,
		MilesBuffer:      ts.MilesBuffer,
		NightMilesBuffer: ts.NightMilesBuffer,
		LastLocation:     *ts.LastLocation,
		UpdatedAt:        updatedAt,
	}, true
}
