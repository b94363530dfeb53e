// Package firestore stores trips and settings as Firestore documents.
package firestore

import (
	"time"

	"haulpay/internal/domain"
)

const (
	tripsCollection    = "trips"
	settingsCollection = "settings"
)

type geoDoc struct {
	Lat float64 `firestore:"lat"`
	Lng float64 `firestore:"lng"`
}

type stopDoc struct {
	ID              string     `firestore:"id"`
	Name            string     `firestore:"name,omitempty"`
	ArrivedAt       *time.Time `firestore:"arrivedAt,omitempty"`
	ArrivedLocation *geoDoc    `firestore:"arrivedLocation,omitempty"`
}

type loadDoc struct {
	ID               string     `firestore:"id"`
	Stops            []stopDoc  `firestore:"stops"`
	LoadType         string     `firestore:"loadType"`
	CreatedAt        time.Time  `firestore:"createdAt"`
	StartLocation    *geoDoc    `firestore:"startLocation,omitempty"`
	FinishedAt       *time.Time `firestore:"finishedAt,omitempty"`
	FinishedLocation *geoDoc    `firestore:"finishedLocation,omitempty"`
}

type targetDoc struct {
	Kind   string `firestore:"kind"`
	LoadID string `firestore:"loadId"`
	StopID string `firestore:"stopId,omitempty"`
}

// tripDoc mirrors the trips collection layout. Tracking fields are flattened onto the trip.
type tripDoc struct {
	UserID                   string     `firestore:"userId"`
	StartMileage             float64    `firestore:"startMileage"`
	CurrentMileage           float64    `firestore:"currentMileage"`
	EndMileage               *float64   `firestore:"endMileage,omitempty"`
	Loads                    []loadDoc  `firestore:"loads"`
	TotalPay                 float64    `firestore:"totalPay"`
	IsFinished               bool       `firestore:"isFinished"`
	CreatedAt                time.Time  `firestore:"createdAt,serverTimestamp"`
	UpdatedAt                time.Time  `firestore:"updatedAt,serverTimestamp"`
	FinishedAt               *time.Time `firestore:"finishedAt,omitempty"`
	NightMiles               float64    `firestore:"nightMiles"`
	TrackingActive           bool       `firestore:"trackingActive"`
	TrackingTarget           *targetDoc `firestore:"trackingTarget,omitempty"`
	TrackingMilesBuffer      float64    `firestore:"trackingMilesBuffer"`
	TrackingNightMilesBuffer float64    `firestore:"trackingNightMilesBuffer"`
	TrackingLastLocation     *geoDoc    `firestore:"trackingLastLocation,omitempty"`
}

// settingsDoc leaves the night fields optional; documents written before night pay existed lack them.
type settingsDoc struct {
	CPM               float64  `firestore:"cpm"`
	PayPerLoad        float64  `firestore:"payPerLoad"`
	PayPerStop        float64  `firestore:"payPerStop"`
	NightPayEnabled   *bool    `firestore:"nightPayEnabled,omitempty"`
	NightStartMinutes *int     `firestore:"nightStartMinutes,omitempty"`
	NightEndMinutes   *int     `firestore:"nightEndMinutes,omitempty"`
	NightExtraCPM     *float64 `firestore:"nightExtraCpm,omitempty"`
	TimeZone          string   `firestore:"timeZone,omitempty"`
}

func toGeoDoc(p *domain.GeoPoint) *geoDoc {
	if p == nil {
		return nil
	}
	return &geoDoc{Lat: p.Lat, Lng: p.Lng}
}

func fromGeoDoc(g *geoDoc) *domain.GeoPoint {
	if g == nil {
		return nil
	}
	return &domain.GeoPoint{Lat: g.Lat, Lng: g.Lng}
}

func toLoadDocs(loads []domain.Load) []loadDoc {
	docs := make([]loadDoc, 0, len(loads))
	for _, l := range loads {
		stops := make([]stopDoc, 0, len(l.Stops))
		for _, s := range l.Stops {
			stops = append(stops, stopDoc{
				ID:              s.ID,
				Name:            s.Name,
				ArrivedAt:       s.ArrivedAt,
				ArrivedLocation: toGeoDoc(s.ArrivedLocation),
			})
		}
		docs = append(docs, loadDoc{
			ID:               l.ID,
			Stops:            stops,
			LoadType:         string(l.LoadType),
			CreatedAt:        l.CreatedAt,
			StartLocation:    toGeoDoc(l.StartLocation),
			FinishedAt:       l.FinishedAt,
			FinishedLocation: toGeoDoc(l.FinishedLocation),
		})
	}
	return docs
}

func fromLoadDocs(docs []loadDoc) []domain.Load {
	loads := make([]domain.Load, 0, len(docs))
	for _, d := range docs {
		stops := make([]domain.Stop, 0, len(d.Stops))
		for _, s := range d.Stops {
			stops = append(stops, domain.Stop{
				ID:              s.ID,
				Name:            s.Name,
				ArrivedAt:       s.ArrivedAt,
				ArrivedLocation: fromGeoDoc(s.ArrivedLocation),
			})
		}
		loads = append(loads, domain.Load{
			ID:               d.ID,
			Stops:            stops,
			LoadType:         domain.LoadType(d.LoadType),
			CreatedAt:        d.CreatedAt,
			StartLocation:    fromGeoDoc(d.StartLocation),
			FinishedAt:       d.FinishedAt,
			FinishedLocation: fromGeoDoc(d.FinishedLocation),
		})
	}
	return loads
}

func toTargetDoc(t *domain.SegmentTarget) *targetDoc {
	if t == nil {
		return nil
	}
	return &targetDoc{Kind: string(t.Kind), LoadID: t.LoadID, StopID: t.StopID}
}

func fromTargetDoc(d *targetDoc) *domain.SegmentTarget {
	if d == nil {
		return nil
	}
	return &domain.SegmentTarget{Kind: domain.TargetKind(d.Kind), LoadID: d.LoadID, StopID: d.StopID}
}

func toTripDoc(t *domain.Trip) tripDoc {
	return tripDoc{
		UserID:                   t.UserID,
		StartMileage:             t.StartMileage,
		CurrentMileage:           t.CurrentMileage,
		EndMileage:               t.EndMileage,
		Loads:                    toLoadDocs(t.Loads),
		TotalPay:                 t.TotalPay,
		IsFinished:               t.IsFinished,
		CreatedAt:                t.CreatedAt,
		UpdatedAt:                t.UpdatedAt,
		FinishedAt:               t.FinishedAt,
		NightMiles:               t.NightMiles,
		TrackingActive:           t.Tracking.Active,
		TrackingTarget:           toTargetDoc(t.Tracking.Target),
		TrackingMilesBuffer:      t.Tracking.MilesBuffer,
		TrackingNightMilesBuffer: t.Tracking.NightMilesBuffer,
		TrackingLastLocation:     toGeoDoc(t.Tracking.LastLocation),
	}
}

func fromTripDoc(id string, d tripDoc) *domain.Trip {
	return &domain.Trip{
		ID:             id,
		UserID:         d.UserID,
		StartMileage:   d.StartMileage,
		CurrentMileage: d.CurrentMileage,
		EndMileage:     d.EndMileage,
		Loads:          fromLoadDocs(d.Loads),
		NightMiles:     d.NightMiles,
		TotalPay:       d.TotalPay,
		IsFinished:     d.IsFinished,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		FinishedAt:     d.FinishedAt,
		Tracking: domain.TrackingState{
			Active:           d.TrackingActive,
			Target:           fromTargetDoc(d.TrackingTarget),
			MilesBuffer:      d.TrackingMilesBuffer,
			NightMilesBuffer: d.TrackingNightMilesBuffer,
			LastLocation:     fromGeoDoc(d.TrackingLastLocation),
		},
	}
}

func toSettingsDoc(s domain.Settings) settingsDoc {
	enabled := s.NightPayEnabled
	start := s.NightStartMinutes
	end := s.NightEndMinutes
	extra := s.NightExtraCPM
	return settingsDoc{
		CPM:               s.CPM,
		PayPerLoad:        s.PayPerLoad,
		PayPerStop:        s.PayPerStop,
		NightPayEnabled:   &enabled,
		NightStartMinutes: &start,
		NightEndMinutes:   &end,
		NightExtraCPM:     &extra,
		TimeZone:          s.TimeZone,
	}
}

func fromSettingsDoc(d settingsDoc) *domain.Settings {
	s := domain.DefaultSettings()
	s.CPM = d.CPM
	s.PayPerLoad = d.PayPerLoad
	s.PayPerStop = d.PayPerStop
	s.TimeZone = d.TimeZone
	if d.NightPayEnabled != nil {
		s.NightPayEnabled = *d.NightPayEnabled
	}
	if d.NightStartMinutes != nil {
		s.NightStartMinutes = *d.NightStartMinutes
	}
	if d.NightEndMinutes != nil {
		s.NightEndMinutes = *d.NightEndMinutes
	}
	if d.NightExtraCPM != nil {
		s.NightExtraCPM = *d.NightExtraCPM
	}
	return &s
}
