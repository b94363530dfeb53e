package domain

import (
	"errors"
	"time"
)

// LoadType distinguishes refrigerated (wet) from dry freight.
type LoadType string

const (
	LoadTypeWet LoadType = "wet"
	LoadTypeDry LoadType = "dry"
)

// Valid reports whether t is a known load type.
func (t LoadType) Valid() bool {
	return t == LoadTypeWet || t == LoadTypeDry
}

// LoadState is derived from a load's timestamps and stops.
type LoadState string

const (
	LoadStateNotBegun        LoadState = "NOT_BEGUN"
	LoadStateInProgress      LoadState = "IN_PROGRESS"
	LoadStateAllStopsArrived LoadState = "ALL_STOPS_ARRIVED"
	LoadStateFinished        LoadState = "FINISHED"
)

// Stop is a delivery point within a load. Once ArrivedAt is set the stop is immutable.
type Stop struct {
	ID              string     `json:"id"`
	Name            string     `json:"name,omitempty"`
	ArrivedAt       *time.Time `json:"arrivedAt,omitempty"`
	ArrivedLocation *GeoPoint  `json:"arrivedLocation,omitempty"`
}

// Arrived reports whether the driver has reached the stop.
func (s Stop) Arrived() bool {
	return s.ArrivedAt != nil
}

// Load is a pickup with an ordered list of stops, ending with a return to the depot.
type Load struct {
	ID               string     `json:"id"`
	Stops            []Stop     `json:"stops"`
	LoadType         LoadType   `json:"loadType"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartLocation    *GeoPoint  `json:"startLocation,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	FinishedLocation *GeoPoint  `json:"finishedLocation,omitempty"`
}

// State derives the lifecycle state of the load.
func (l Load) State() LoadState {
	switch {
	case l.FinishedAt != nil:
		return LoadStateFinished
	case l.AllStopsArrived() && (len(l.Stops) > 0 || l.StartLocation != nil):
		return LoadStateAllStopsArrived
	case l.StartLocation != nil || l.NextPendingStop() > 0:
		return LoadStateInProgress
	default:
		return LoadStateNotBegun
	}
}

// AllStopsArrived reports whether every stop has been reached. A load without stops counts as arrived.
func (l Load) AllStopsArrived() bool {
	for _, s := range l.Stops {
		if !s.Arrived() {
			return false
		}
	}
	return true
}

// NextPendingStop returns the index of the first stop not yet arrived, or -1.
func (l Load) NextPendingStop() int {
	for i, s := range l.Stops {
		if !s.Arrived() {
			return i
		}
	}
	return -1
}

// StopIndex returns the index of the stop with the given ID, or -1.
func (l Load) StopIndex(stopID string) int {
	for i, s := range l.Stops {
		if s.ID == stopID {
			return i
		}
	}
	return -1
}

// TotalStops counts stops across all loads.
func TotalStops(loads []Load) int {
	n := 0
	for _, l := range loads {
		n += len(l.Stops)
	}
	return n
}

// CloneLoads copies loads and their stop slices so the result can be edited
// without touching the original. Pointer fields are shared; they are replaced, never mutated.
func CloneLoads(loads []Load) []Load {
	if loads == nil {
		return nil
	}
	out := make([]Load, len(loads))
	for i, l := range loads {
		out[i] = l
		if l.Stops != nil {
			out[i].Stops = append([]Stop(nil), l.Stops...)
		}
	}
	return out
}

// TargetKind says what an open segment is heading toward.
type TargetKind string

const (
	TargetStop  TargetKind = "stop"
	TargetDepot TargetKind = "depot"
)

// SegmentTarget identifies the destination of the open mileage segment.
type SegmentTarget struct {
	Kind   TargetKind `json:"kind"`
	LoadID string     `json:"loadId"`
	StopID string     `json:"stopId,omitempty"`
}

// StopTarget builds a target for a stop of a load.
func StopTarget(loadID, stopID string) SegmentTarget {
	return SegmentTarget{Kind: TargetStop, LoadID: loadID, StopID: stopID}
}

// DepotTarget builds a target for the depot return of a load.
func DepotTarget(loadID string) SegmentTarget {
	return SegmentTarget{Kind: TargetDepot, LoadID: loadID}
}

// Valid reports whether the target is well formed.
func (t SegmentTarget) Valid() bool {
	switch t.Kind {
	case TargetStop:
		return t.LoadID != "" && t.StopID != ""
	case TargetDepot:
		return t.LoadID != "" && t.StopID == ""
	default:
		return false
	}
}

func (t SegmentTarget) String() string {
	switch t.Kind {
	case TargetStop:
		return "stop:" + t.LoadID + "/" + t.StopID
	case TargetDepot:
		return "depot:" + t.LoadID
	default:
		return "invalid"
	}
}

// TrackingState is the persisted mirror of the open segment.
type TrackingState struct {
	Active           bool           `json:"active"`
	Target           *SegmentTarget `json:"target,omitempty"`
	MilesBuffer      float64        `json:"milesBuffer"`
	NightMilesBuffer float64        `json:"nightMilesBuffer"`
	LastLocation     *GeoPoint      `json:"lastLocation,omitempty"`
}

// Trip is a driver's shift: an odometer range, the loads carried, and the pay earned.
type Trip struct {
	ID             string
	UserID         string
	StartMileage   float64
	CurrentMileage float64
	EndMileage     *float64
	Loads          []Load
	NightMiles     float64
	TotalPay       float64
	IsFinished     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
	Tracking       TrackingState
}

// TripMiles is the committed distance driven on the trip.
func (t *Trip) TripMiles() float64 {
	return t.CurrentMileage - t.StartMileage
}

// LoadIndex returns the index of the load with the given ID, or -1.
func (t *Trip) LoadIndex(loadID string) int {
	for i, l := range t.Loads {
		if l.ID == loadID {
			return i
		}
	}
	return -1
}

// Clone returns a copy of the trip that shares no slices with t.
func (t *Trip) Clone() *Trip {
	c := *t
	c.Loads = CloneLoads(t.Loads)
	return &c
}

// ErrPatchMissingPay is returned when a patch changes pay inputs without carrying the recomputed total.
var ErrPatchMissingPay = errors.New("trip patch changes mileage, night miles or loads without total pay")

// TripPatch is a partial update of a trip. Nil fields are left untouched.
type TripPatch struct {
	CurrentMileage *float64
	EndMileage     *float64
	Loads          *[]Load
	NightMiles     *float64
	TotalPay       *float64
	IsFinished     *bool
	FinishedAt     *time.Time
	Tracking       *TrackingState
}

// Validate enforces that pay is recomputed alongside any of its inputs.
func (p TripPatch) Validate() error {
	if (p.CurrentMileage != nil || p.NightMiles != nil || p.Loads != nil) && p.TotalPay == nil {
		return ErrPatchMissingPay
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p TripPatch) Empty() bool {
	return p.CurrentMileage == nil && p.EndMileage == nil && p.Loads == nil &&
		p.NightMiles == nil && p.TotalPay == nil && p.IsFinished == nil &&
		p.FinishedAt == nil && p.Tracking == nil
}

// Apply writes the patch onto the trip. UpdatedAt is left to the caller.
func (t *Trip) Apply(p TripPatch) {
	if p.CurrentMileage != nil {
		t.CurrentMileage = *p.CurrentMileage
	}
	if p.EndMileage != nil {
		v := *p.EndMileage
		t.EndMileage = &v
	}
	if p.Loads != nil {
		t.Loads = CloneLoads(*p.Loads)
	}
	if p.NightMiles != nil {
		t.NightMiles = *p.NightMiles
	}
	if p.TotalPay != nil {
		t.TotalPay = *p.TotalPay
	}
	if p.IsFinished != nil {
		t.IsFinished = *p.IsFinished
	}
	if p.FinishedAt != nil {
		v := *p.FinishedAt
		t.FinishedAt = &v
	}
	if p.Tracking != nil {
		t.Tracking = *p.Tracking
	}
}
