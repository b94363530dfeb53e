package handler

import (
	"time"

	"haulpay/internal/domain"
	"haulpay/internal/pay"
	"haulpay/internal/service"
)

// GeoPointResponse is a coordinate in a response.
type GeoPointResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// StopResponse is one stop of a load.
type StopResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	ArrivedAt       string            `json:"arrived_at,omitempty"`
	ArrivedLocation *GeoPointResponse `json:"arrived_location,omitempty"`
}

// LoadResponse is one load of a trip.
type LoadResponse struct {
	ID               string            `json:"id"`
	LoadType         string            `json:"load_type"`
	State            string            `json:"state"`
	Stops            []StopResponse    `json:"stops"`
	CreatedAt        string            `json:"created_at"`
	StartLocation    *GeoPointResponse `json:"start_location,omitempty"`
	FinishedAt       string            `json:"finished_at,omitempty"`
	FinishedLocation *GeoPointResponse `json:"finished_location,omitempty"`
}

// TargetResponse names the destination of a segment.
type TargetResponse struct {
	Kind   string `json:"kind"`
	LoadID string `json:"load_id"`
	StopID string `json:"stop_id,omitempty"`
}

// TrackingResponse mirrors the persisted tracking state of a trip.
type TrackingResponse struct {
	Active           bool              `json:"active"`
	Target           *TargetResponse   `json:"target,omitempty"`
	MilesBuffer      float64           `json:"miles_buffer"`
	NightMilesBuffer float64           `json:"night_miles_buffer"`
	LastLocation     *GeoPointResponse `json:"last_location,omitempty"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	StartMileage   float64          `json:"start_mileage"`
	CurrentMileage float64          `json:"current_mileage"`
	EndMileage     *float64         `json:"end_mileage,omitempty"`
	TripMiles      float64          `json:"trip_miles"`
	NightMiles     float64          `json:"night_miles"`
	TotalPay       float64          `json:"total_pay"`
	IsFinished     bool             `json:"is_finished"`
	Loads          []LoadResponse   `json:"loads"`
	Tracking       TrackingResponse `json:"tracking"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
	FinishedAt     string           `json:"finished_at,omitempty"`
}

// ProgressResponse is the live tracking view of a trip.
type ProgressResponse struct {
	TripID           string            `json:"trip_id"`
	Active           bool              `json:"active"`
	Target           *TargetResponse   `json:"target,omitempty"`
	MilesBuffer      float64           `json:"miles_buffer"`
	NightMilesBuffer float64           `json:"night_miles_buffer"`
	LastLocation     *GeoPointResponse `json:"last_location,omitempty"`
	Fixes            int               `json:"fixes"`
	TripMiles        float64           `json:"trip_miles"`
	NightMiles       float64           `json:"night_miles"`
	TotalPay         float64           `json:"total_pay"`
	ProjectedPay     float64           `json:"projected_pay"`
	NightNow         bool              `json:"night_now"`
	LastError        string            `json:"last_error,omitempty"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

// SettingsBody is both the request and the response body for settings.
type SettingsBody struct {
	CPM               float64 `json:"cpm"`
	PayPerLoad        float64 `json:"pay_per_load"`
	PayPerStop        float64 `json:"pay_per_stop"`
	NightPayEnabled   bool    `json:"night_pay_enabled"`
	NightStartMinutes int     `json:"night_start_minutes"`
	NightEndMinutes   int     `json:"night_end_minutes"`
	NightExtraCPM     float64 `json:"night_extra_cpm"`
	TimeZone          string  `json:"time_zone,omitempty"`
}

// WeeklyEarningsResponse totals the current pay week.
type WeeklyEarningsResponse struct {
	UserID    string  `json:"user_id"`
	WeekStart string  `json:"week_start"`
	WeekEnd   string  `json:"week_end"`
	Trips     int     `json:"trips"`
	Finished  int     `json:"finished"`
	Miles     float64 `json:"miles"`
	TotalPay  float64 `json:"total_pay"`
}

// StatementResponse is a trip's pay statement.
type StatementResponse struct {
	ID           string              `json:"id"`
	TripID       string              `json:"trip_id"`
	UserID       string              `json:"user_id"`
	StartMileage float64             `json:"start_mileage"`
	EndMileage   float64             `json:"end_mileage"`
	Breakdown    domain.PayBreakdown `json:"breakdown"`
	StoredPay    float64             `json:"stored_pay"`
	IsFinished   bool                `json:"is_finished"`
	StartedAt    string              `json:"started_at"`
	FinishedAt   string              `json:"finished_at,omitempty"`
	GeneratedAt  string              `json:"generated_at"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toGeoPointResponse(p *domain.GeoPoint) *GeoPointResponse {
	if p == nil {
		return nil
	}
	return &GeoPointResponse{Lat: p.Lat, Lng: p.Lng}
}

func toTargetResponse(t *domain.SegmentTarget) *TargetResponse {
	if t == nil {
		return nil
	}
	return &TargetResponse{Kind: string(t.Kind), LoadID: t.LoadID, StopID: t.StopID}
}

func toTripResponse(trip *domain.Trip) TripResponse {
	loads := make([]LoadResponse, 0, len(trip.Loads))
	for _, l := range trip.Loads {
		stops := make([]StopResponse, 0, len(l.Stops))
		for _, s := range l.Stops {
			stops = append(stops, StopResponse{
				ID:              s.ID,
				Name:            s.Name,
				ArrivedAt:       formatTimePtr(s.ArrivedAt),
				ArrivedLocation: toGeoPointResponse(s.ArrivedLocation),
			})
		}
		loads = append(loads, LoadResponse{
			ID:               l.ID,
			LoadType:         string(l.LoadType),
			State:            string(l.State()),
			Stops:            stops,
			CreatedAt:        formatTime(l.CreatedAt),
			StartLocation:    toGeoPointResponse(l.StartLocation),
			FinishedAt:       formatTimePtr(l.FinishedAt),
			FinishedLocation: toGeoPointResponse(l.FinishedLocation),
		})
	}

	return TripResponse{
		ID:             trip.ID,
		UserID:         trip.UserID,
		StartMileage:   trip.StartMileage,
		CurrentMileage: trip.CurrentMileage,
		EndMileage:     trip.EndMileage,
		TripMiles:      trip.TripMiles(),
		NightMiles:     trip.NightMiles,
		TotalPay:       trip.TotalPay,
		IsFinished:     trip.IsFinished,
		Loads:          loads,
		Tracking: TrackingResponse{
			Active:           trip.Tracking.Active,
			Target:           toTargetResponse(trip.Tracking.Target),
			MilesBuffer:      trip.Tracking.MilesBuffer,
			NightMilesBuffer: trip.Tracking.NightMilesBuffer,
			LastLocation:     toGeoPointResponse(trip.Tracking.LastLocation),
		},
		CreatedAt:  formatTime(trip.CreatedAt),
		UpdatedAt:  formatTime(trip.UpdatedAt),
		FinishedAt: formatTimePtr(trip.FinishedAt),
	}
}

func toProgressResponse(p service.Progress) ProgressResponse {
	return ProgressResponse{
		TripID:           p.TripID,
		Active:           p.Active,
		Target:           toTargetResponse(p.Target),
		MilesBuffer:      p.MilesBuffer,
		NightMilesBuffer: p.NightMilesBuffer,
		LastLocation:     toGeoPointResponse(p.LastLocation),
		Fixes:            p.Fixes,
		TripMiles:        p.TripMiles,
		NightMiles:       p.NightMiles,
		TotalPay:         p.TotalPay,
		ProjectedPay:     p.ProjectedPay,
		NightNow:         p.NightNow,
		LastError:        p.LastError,
		UpdatedAt:        formatTime(p.UpdatedAt),
	}
}

func toSettingsBody(s domain.Settings) SettingsBody {
	return SettingsBody{
		CPM:               s.CPM,
		PayPerLoad:        s.PayPerLoad,
		PayPerStop:        s.PayPerStop,
		NightPayEnabled:   s.NightPayEnabled,
		NightStartMinutes: s.NightStartMinutes,
		NightEndMinutes:   s.NightEndMinutes,
		NightExtraCPM:     s.NightExtraCPM,
		TimeZone:          s.TimeZone,
	}
}

func (b SettingsBody) toDomain() domain.Settings {
	return domain.Settings{
		CPM:               b.CPM,
		PayPerLoad:        b.PayPerLoad,
		PayPerStop:        b.PayPerStop,
		NightPayEnabled:   b.NightPayEnabled,
		NightStartMinutes: b.NightStartMinutes,
		NightEndMinutes:   b.NightEndMinutes,
		NightExtraCPM:     b.NightExtraCPM,
		TimeZone:          b.TimeZone,
	}
}

func toWeeklyEarningsResponse(userID string, w pay.WeeklySummary) WeeklyEarningsResponse {
	return WeeklyEarningsResponse{
		UserID:    userID,
		WeekStart: formatTime(w.WeekStart),
		WeekEnd:   formatTime(w.WeekEnd),
		Trips:     w.Trips,
		Finished:  w.Finished,
		Miles:     w.Miles,
		TotalPay:  w.TotalPay,
	}
}

func toStatementResponse(st *domain.PayStatement) StatementResponse {
	return StatementResponse{
		ID:           st.ID,
		TripID:       st.TripID,
		UserID:       st.UserID,
		StartMileage: st.StartMileage,
		EndMileage:   st.EndMileage,
		Breakdown:    st.Breakdown,
		StoredPay:    st.StoredPay,
		IsFinished:   st.IsFinished,
		StartedAt:    formatTime(st.StartedAt),
		FinishedAt:   formatTimePtr(st.FinishedAt),
		GeneratedAt:  formatTime(st.GeneratedAt),
	}
}
