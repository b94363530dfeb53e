package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"haulpay/internal/domain"
	"haulpay/internal/location"
	"haulpay/internal/observability"
	"haulpay/internal/pay"
	"haulpay/internal/repository"
	"haulpay/internal/tracker"
)

// finishDiscrepancyMiles is how far an explicit final odometer may differ from
// the tracked mileage before the difference is logged.
const finishDiscrepancyMiles = 1.0

const progressBuffer = 8

// snapshotTimeout bounds the snapshot write made from the watch callback.
const snapshotTimeout = 2 * time.Second

// SessionConfig tunes trip sessions. Zero values use the defaults.
type SessionConfig struct {
	FlushInterval time.Duration
	// SnapshotInterval is the least time between snapshot writes triggered by fixes.
	SnapshotInterval time.Duration
	// IdleTimeout is how long an unused session without a segment stays cached.
	IdleTimeout time.Duration
	LockTTL     time.Duration
	Clock       func() time.Time
	NewID       func() string
	Logger      *slog.Logger
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.FlushInterval <= 0 {
		c.FlushInterval = tracker.DefaultFlushInterval
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = tracker.DefaultSnapshotInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = func() string { return uuid.New().String() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Progress is the live view of a trip while a segment may be open.
type Progress struct {
	TripID           string
	Active           bool
	Target           *domain.SegmentTarget
	MilesBuffer      float64
	NightMilesBuffer float64
	LastLocation     *domain.GeoPoint
	Fixes            int
	TripMiles        float64
	NightMiles       float64
	TotalPay         float64
	ProjectedPay     float64
	NightNow         bool
	LastError        string
	UpdatedAt        time.Time
}

// TripSession owns one trip's state, settings and open segment. Operations are
// serialised; fixes from the location watch are applied one at a time between them.
// The periodic flush only runs while a segment is open.
type TripSession struct {
	id       string
	lastUsed atomic.Int64

	// opMu serialises operations. mu guards the fields below and is released
	// while an operation waits for a boundary fix.
	opMu sync.Mutex
	mu   sync.Mutex

	trip       *domain.Trip
	settings   domain.Settings
	segment    *tracker.Segment
	sub        *location.Subscription
	gen        uint64
	genSeq     uint64
	lastErr    error
	closed     bool
	flusher    *tracker.Flusher
	snapshotAt time.Time

	// guard, when set, takes the trip lock for a background flush.
	guard func(ctx context.Context) (release func(), err error)

	watchers    map[uint64]chan Progress
	nextWatcher uint64

	trips     repository.TripRepository
	source    location.Source
	snapshots tracker.SnapshotStore
	notifier  *NotificationService
	cfg       SessionConfig
	log       *slog.Logger
}

func newTripSession(
	trip *domain.Trip,
	settings domain.Settings,
	trips repository.TripRepository,
	source location.Source,
	snapshots tracker.SnapshotStore,
	notifier *NotificationService,
	cfg SessionConfig,
) *TripSession {
	cfg = cfg.withDefaults()
	return &TripSession{
		id:        trip.ID,
		trip:      trip.Clone(),
		settings:  settings,
		segment:   tracker.NewSegment(trip.ID, settings, cfg.Clock),
		watchers:  make(map[uint64]chan Progress),
		trips:     trips,
		source:    source,
		snapshots: snapshots,
		notifier:  notifier,
		cfg:       cfg,
		log:       cfg.Logger.With("trip_id", trip.ID),
	}
}

// open heals a drifted total and resumes an interrupted segment.
func (s *TripSession) open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip.IsFinished {
		return nil
	}
	s.healPayLocked(ctx)
	return s.resumeLocked(ctx)
}

// adopt replaces the cached trip and settings with the stored ones. A local
// segment the record no longer carries was closed elsewhere and is dropped;
// one the record carries but this session lacks is resumed.
func (s *TripSession) adopt(ctx context.Context, trip *domain.Trip, settings *domain.Settings) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	s.trip = trip.Clone()
	if settings != nil && *settings != s.settings {
		s.settings = *settings
		s.segment.SetSettings(*settings)
	}

	if target, ok := s.segment.Target(); ok {
		ts := s.trip.Tracking
		if s.trip.IsFinished || !ts.Active || ts.Target == nil || *ts.Target != target {
			s.log.Info("dropping segment closed by another writer", "target", target.String())
			s.dropSegmentLocked()
		}
	}

	if !s.trip.IsFinished {
		s.healPayLocked(ctx)
		if s.trip.Tracking.Active && !s.segment.Active() {
			if err := s.resumeLocked(ctx); err != nil {
				return err
			}
		}
	}
	s.broadcastLocked()
	return nil
}

// Finished reports whether the trip is closed.
func (s *TripSession) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trip.IsFinished
}

func (s *TripSession) touch() {
	s.lastUsed.Store(s.cfg.Clock().UnixNano())
}

// idle reports whether the session can be evicted at now.
func (s *TripSession) idle(now time.Time) bool {
	if now.Sub(time.Unix(0, s.lastUsed.Load())) < s.cfg.IdleTimeout {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.segment.Active() && len(s.watchers) == 0
}

// Trip returns a copy of the current trip.
func (s *TripSession) Trip() *domain.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trip.Clone()
}

// Settings returns the settings pay is computed with.
func (s *TripSession) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings swaps the pay settings and corrects the stored total if it no longer matches.
func (s *TripSession) SetSettings(ctx context.Context, settings domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	s.segment.SetSettings(settings)
	if !s.closed && !s.trip.IsFinished {
		s.healPayLocked(ctx)
	}
	s.broadcastLocked()
}

// AddLoad appends a load with stopCount fresh stops.
func (s *TripSession) AddLoad(ctx context.Context, stopCount int, loadType domain.LoadType) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	if stopCount < 1 {
		return nil, ErrInvalidStopCount
	}
	if loadType == "" {
		loadType = domain.LoadTypeDry
	}
	if !loadType.Valid() {
		return nil, ErrInvalidLoadType
	}

	loads := domain.CloneLoads(s.trip.Loads)
	loads = append(loads, domain.Load{
		ID:        s.cfg.NewID(),
		Stops:     s.newStops(stopCount),
		LoadType:  loadType,
		CreatedAt: s.cfg.Clock(),
	})

	if err := s.commitLocked(ctx, s.pricedLocked(domain.TripPatch{Loads: &loads})); err != nil {
		return nil, err
	}
	s.broadcastLocked()
	return s.trip.Clone(), nil
}

// EditLoad replaces every stop of a load with stopCount fresh stops. Arrivals are discarded.
func (s *TripSession) EditLoad(ctx context.Context, loadID string, stopCount int) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	if stopCount < 1 {
		return nil, ErrInvalidStopCount
	}
	idx, err := s.loadIndexLocked(loadID)
	if err != nil {
		return nil, err
	}
	if s.segmentTargetsLoadLocked(loadID) {
		return nil, ErrSegmentActive
	}

	loads := domain.CloneLoads(s.trip.Loads)
	loads[idx].Stops = s.newStops(stopCount)

	if err := s.commitLocked(ctx, s.pricedLocked(domain.TripPatch{Loads: &loads})); err != nil {
		return nil, err
	}
	s.broadcastLocked()
	return s.trip.Clone(), nil
}

// DeleteLoad removes a load and its stops.
func (s *TripSession) DeleteLoad(ctx context.Context, loadID string) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	idx, err := s.loadIndexLocked(loadID)
	if err != nil {
		return nil, err
	}
	if s.segmentTargetsLoadLocked(loadID) {
		return nil, ErrSegmentActive
	}

	loads := domain.CloneLoads(s.trip.Loads)
	loads = append(loads[:idx], loads[idx+1:]...)

	if err := s.commitLocked(ctx, s.pricedLocked(domain.TripPatch{Loads: &loads})); err != nil {
		return nil, err
	}
	s.broadcastLocked()
	return s.trip.Clone(), nil
}

// DeleteStop removes one stop from a load.
func (s *TripSession) DeleteStop(ctx context.Context, loadID, stopID string) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	idx, err := s.loadIndexLocked(loadID)
	if err != nil {
		return nil, err
	}
	stopIdx := s.trip.Loads[idx].StopIndex(stopID)
	if stopIdx < 0 {
		return nil, ErrStopNotFound
	}
	if s.segmentTargetsLoadLocked(loadID) {
		return nil, ErrSegmentActive
	}

	loads := domain.CloneLoads(s.trip.Loads)
	stops := loads[idx].Stops
	loads[idx].Stops = append(stops[:stopIdx], stops[stopIdx+1:]...)

	if err := s.commitLocked(ctx, s.pricedLocked(domain.TripPatch{Loads: &loads})); err != nil {
		return nil, err
	}
	s.broadcastLocked()
	return s.trip.Clone(), nil
}

// BeginLoad records where the driver picked the load up. It is a no-op once set.
func (s *TripSession) BeginLoad(ctx context.Context, loadID string) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	idx, err := s.loadIndexLocked(loadID)
	if err != nil {
		return nil, err
	}
	if s.trip.Loads[idx].StartLocation != nil {
		return s.trip.Clone(), nil
	}

	fix, err := s.boundaryFixLocked(ctx)
	if err != nil {
		return nil, err
	}

	loads := domain.CloneLoads(s.trip.Loads)
	loads[idx].StartLocation = &fix

	if err := s.commitLocked(ctx, s.pricedLocked(domain.TripPatch{Loads: &loads})); err != nil {
		return nil, err
	}
	s.broadcastLocked()
	return s.trip.Clone(), nil
}

// DepartToStop opens a segment toward the next pending stop of a load.
func (s *TripSession) DepartToStop(ctx context.Context, loadID, stopID string) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	if s.segment.Active() {
		return nil, ErrSegmentActive
	}
	idx, err := s.loadIndexLocked(loadID)
	if err != nil {
		return nil, err
	}
	load := s.trip.Loads[idx]
	stopIdx := load.StopIndex(stopID)
	if stopIdx < 0 {
		return nil, ErrStopNotFound
	}
	if stopIdx != load.NextPendingStop() {
		return nil, ErrStopNotEligible
	}

	fix, err := s.boundaryFixLocked(ctx)
	if err != nil {
		return nil, err
	}

	var loads *[]domain.Load
	if load.StartLocation == nil {
		updated := domain.CloneLoads(s.trip.Loads)
		updated[idx].StartLocation = &fix
		loads = &updated
	}

	if err := s.startSegmentLocked(ctx, domain.StopTarget(loadID, stopID), fix, loads); err != nil {
		return nil, err
	}
	return s.trip.Clone(), nil
}

// DepartToDepot opens a segment back to the depot once every stop of the load is arrived.
func (s *TripSession) DepartToDepot(ctx context.Context, loadID string) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	if s.segment.Active() {
		return nil, ErrSegmentActive
	}
	idx, err := s.loadIndexLocked(loadID)
	if err != nil {
		return nil, err
	}
	load := s.trip.Loads[idx]
	if load.FinishedAt != nil || !load.AllStopsArrived() {
		return nil, ErrDepotNotEligible
	}

	fix, err := s.boundaryFixLocked(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.startSegmentLocked(ctx, domain.DepotTarget(loadID), fix, nil); err != nil {
		return nil, err
	}
	return s.trip.Clone(), nil
}

// ArriveAtStop closes the segment at its stop, folding the tracked miles into the trip.
func (s *TripSession) ArriveAtStop(ctx context.Context, loadID, stopID string) (*domain.Trip, error) {
	return s.arrive(ctx, domain.StopTarget(loadID, stopID))
}

// ArriveAtDepot closes the depot segment and finishes the load.
func (s *TripSession) ArriveAtDepot(ctx context.Context, loadID string) (*domain.Trip, error) {
	return s.arrive(ctx, domain.DepotTarget(loadID))
}

func (s *TripSession) arrive(ctx context.Context, want domain.SegmentTarget) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	target, ok := s.segment.Target()
	if !ok {
		return nil, ErrNoActiveSegment
	}
	if target != want {
		return nil, ErrTargetMismatch
	}
	idx, err := s.loadIndexLocked(target.LoadID)
	if err != nil {
		return nil, err
	}
	stopIdx := -1
	if target.Kind == domain.TargetStop {
		if stopIdx = s.trip.Loads[idx].StopIndex(target.StopID); stopIdx < 0 {
			return nil, ErrStopNotFound
		}
	}

	fix, err := s.boundaryFixLocked(ctx)
	if err != nil {
		return nil, err
	}

	totals := s.segment.Preview(fix)
	now := s.cfg.Clock()

	loads := domain.CloneLoads(s.trip.Loads)
	switch target.Kind {
	case domain.TargetStop:
		loads[idx].Stops[stopIdx].ArrivedAt = &now
		loads[idx].Stops[stopIdx].ArrivedLocation = &fix
	case domain.TargetDepot:
		loads[idx].FinishedAt = &now
		loads[idx].FinishedLocation = &fix
	}

	current := s.trip.CurrentMileage + totals.Miles
	night := clampNight(s.trip.NightMiles+totals.NightMiles, s.trip.StartMileage, current)
	cleared := domain.TrackingState{}

	patch := s.pricedLocked(domain.TripPatch{
		CurrentMileage: &current,
		NightMiles:     &night,
		Loads:          &loads,
		Tracking:       &cleared,
	})
	if err := s.commitLocked(ctx, patch); err != nil {
		return nil, err
	}

	s.endSegmentLocked(ctx)
	observeMiles("gps", totals.Miles, totals.NightMiles)

	trip := s.trip.Clone()
	if s.notifier != nil {
		switch target.Kind {
		case domain.TargetStop:
			_ = s.notifier.NotifyStopArrived(ctx, trip, target.LoadID, stopIdx, totals.Miles)
		case domain.TargetDepot:
			_ = s.notifier.NotifyDepotArrived(ctx, trip, target.LoadID, totals.Miles)
		}
	}
	s.broadcastLocked()
	return trip, nil
}

// UpdateMileage sets the odometer by hand. A positive delta is classified day or night as a whole.
func (s *TripSession) UpdateMileage(ctx context.Context, odometer float64) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	if !validOdometer(odometer, s.trip.StartMileage) {
		return nil, ErrInvalidOdometer
	}
	if s.segment.Active() {
		return nil, ErrSegmentActive
	}

	r := pay.ApplyOdometer(s.trip.StartMileage, s.trip.CurrentMileage, s.trip.NightMiles, odometer, s.cfg.Clock(), s.settings)
	patch := s.pricedLocked(domain.TripPatch{
		CurrentMileage: &r.CurrentMileage,
		NightMiles:     &r.NightMiles,
	})
	if err := s.commitLocked(ctx, patch); err != nil {
		return nil, err
	}

	if r.Delta > 0 {
		observeMiles("manual", r.Delta, r.NightDelta)
	}
	trip := s.trip.Clone()
	if s.notifier != nil {
		_ = s.notifier.NotifyMileageUpdated(ctx, trip, r.Delta)
	}
	s.broadcastLocked()
	return trip, nil
}

// FinishTrip closes the trip. An open segment is folded first; an explicit final
// odometer then overrides the tracked mileage.
func (s *TripSession) FinishTrip(ctx context.Context, finalOdometer *float64) (*domain.Trip, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return nil, err
	}
	if finalOdometer != nil && !validOdometer(*finalOdometer, s.trip.StartMileage) {
		return nil, ErrInvalidOdometer
	}

	buffered := s.segment.Totals()
	current := s.trip.CurrentMileage + buffered.Miles
	night := s.trip.NightMiles + buffered.NightMiles
	now := s.cfg.Clock()

	if finalOdometer != nil {
		if diff := *finalOdometer - current; math.Abs(diff) > finishDiscrepancyMiles {
			s.log.Warn("final odometer differs from tracked mileage",
				"final_odometer", *finalOdometer,
				"tracked_mileage", current,
				"difference", diff,
			)
		}
		r := pay.ApplyOdometer(s.trip.StartMileage, current, night, *finalOdometer, now, s.settings)
		current, night = r.CurrentMileage, r.NightMiles
	} else {
		night = clampNight(night, s.trip.StartMileage, current)
	}

	finished := true
	cleared := domain.TrackingState{}
	patch := s.pricedLocked(domain.TripPatch{
		CurrentMileage: &current,
		EndMileage:     &current,
		NightMiles:     &night,
		IsFinished:     &finished,
		FinishedAt:     &now,
		Tracking:       &cleared,
	})
	if err := s.commitLocked(ctx, patch); err != nil {
		return nil, err
	}

	if s.segment.Active() {
		s.endSegmentLocked(ctx)
		observeMiles("gps", buffered.Miles, buffered.NightMiles)
	}
	observability.TripsFinished.Inc()

	trip := s.trip.Clone()
	if s.notifier != nil {
		_ = s.notifier.NotifyTripFinished(ctx, trip)
	}
	s.broadcastLocked()
	return trip, nil
}

// Flush persists buffered segment state if it changed since the last write.
func (s *TripSession) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.flushLocked(ctx)
}

// periodicFlush runs under the trip lock when a guard is set. A tick that
// finds the lock held elsewhere is skipped.
func (s *TripSession) periodicFlush(ctx context.Context) {
	if s.guard != nil {
		release, err := s.guard(ctx)
		if err != nil {
			if !errors.Is(err, ErrTripBusy) && !errors.Is(err, ErrSessionClosed) {
				s.log.Warn("periodic flush skipped", "error", err)
			}
			return
		}
		defer release()
	}
	if err := s.Flush(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Warn("periodic flush failed", "error", err)
	}
}

func (s *TripSession) flushLocked(ctx context.Context) error {
	if !s.segment.Dirty() {
		return nil
	}

	s.saveSnapshotLocked(ctx)

	tracking := s.segment.TrackingState()
	if err := s.commitLocked(ctx, domain.TripPatch{Tracking: &tracking}); err != nil {
		observability.FlushesTotal.WithLabelValues("error").Inc()
		return err
	}
	s.segment.MarkPersisted()
	observability.FlushesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Progress returns the live tracking view with the pay the trip would have if it arrived now.
func (s *TripSession) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *TripSession) progressLocked() Progress {
	totals := s.segment.Totals()
	p := Progress{
		TripID:           s.trip.ID,
		Active:           s.segment.Active(),
		MilesBuffer:      totals.Miles,
		NightMilesBuffer: totals.NightMiles,
		Fixes:            s.segment.Fixes(),
		TripMiles:        s.trip.TripMiles(),
		NightMiles:       s.trip.NightMiles,
		TotalPay:         s.trip.TotalPay,
		ProjectedPay:     pay.Project(s.trip, s.settings, totals.Miles, totals.NightMiles),
		NightNow:         pay.IsNight(s.cfg.Clock(), s.settings),
		UpdatedAt:        s.trip.UpdatedAt,
	}
	if target, ok := s.segment.Target(); ok {
		last := s.segment.LastLocation()
		p.Target = &target
		p.LastLocation = &last
		p.UpdatedAt = s.segment.UpdatedAt()
	}
	if s.lastErr != nil {
		p.LastError = s.lastErr.Error()
	}
	return p
}

// Updates streams progress after every accepted fix and every mutation.
// Slow readers miss intermediate values. Call cancel when done.
func (s *TripSession) Updates() (<-chan Progress, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Progress, progressBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = ch
	ch <- s.progressLocked()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

func (s *TripSession) broadcastLocked() {
	if len(s.watchers) == 0 {
		return
	}
	p := s.progressLocked()
	for _, ch := range s.watchers {
		select {
		case ch <- p:
		default:
		}
	}
}

// Close persists buffered state and releases the watch. A tracked segment stays
// recorded as active so the next session resumes it.
func (s *TripSession) Close(ctx context.Context) {
	s.close(ctx, true)
}

// discard closes the session without writing anything.
func (s *TripSession) discard() {
	s.close(context.Background(), false)
}

func (s *TripSession) close(ctx context.Context, flush bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	flusher := s.flusher
	s.flusher = nil
	s.mu.Unlock()

	// The flush loop takes opMu and mu, so it must be stopped holding neither.
	if flusher != nil {
		flusher.Stop()
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if flush {
		if err := s.flushLocked(ctx); err != nil {
			s.log.Warn("final flush failed", "error", err)
		}
	}
	if s.sub != nil {
		s.source.Cancel(*s.sub)
		s.sub = nil
	}
	if s.segment.Active() {
		observability.SegmentsActive.Dec()
	}
	s.gen = 0
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}

func (s *TripSession) handleFix(gen uint64, p domain.GeoPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == 0 || gen != s.gen || s.closed || !s.segment.Active() {
		observability.FixesProcessed.WithLabelValues("ignored").Inc()
		return
	}

	if delta := s.segment.Accept(p); delta == 0 {
		observability.FixesProcessed.WithLabelValues("stationary").Inc()
		return
	}
	s.lastErr = nil
	observability.FixesProcessed.WithLabelValues("accepted").Inc()

	if s.cfg.Clock().Sub(s.snapshotAt) >= s.cfg.SnapshotInterval {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		s.saveSnapshotLocked(ctx)
		cancel()
	}
	s.broadcastLocked()
}

func (s *TripSession) handleError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == 0 || gen != s.gen {
		return
	}
	s.lastErr = err
	s.log.Warn("location watch error", "error", err)
	s.broadcastLocked()
}

// startSegmentLocked subscribes to fixes, persists the new tracking state and
// opens the segment. Nothing changes if the write fails.
func (s *TripSession) startSegmentLocked(ctx context.Context, target domain.SegmentTarget, origin domain.GeoPoint, loads *[]domain.Load) error {
	s.genSeq++
	gen := s.genSeq

	sub, err := s.source.Watch(
		func(p domain.GeoPoint) { s.handleFix(gen, p) },
		func(err error) { s.handleError(gen, err) },
	)
	if err != nil {
		return fmt.Errorf("watch location: %w", err)
	}

	last := origin
	tracking := domain.TrackingState{Active: true, Target: &target, LastLocation: &last}
	patch := domain.TripPatch{Tracking: &tracking}
	if loads != nil {
		patch.Loads = loads
		patch = s.pricedLocked(patch)
	}
	if err := s.commitLocked(ctx, patch); err != nil {
		s.source.Cancel(sub)
		return err
	}

	if err := s.segment.Start(target, origin); err != nil {
		s.source.Cancel(sub)
		return err
	}
	s.gen = gen
	s.sub = &sub
	s.lastErr = nil
	s.saveSnapshotLocked(ctx)
	s.startFlusherLocked()
	observability.SegmentsActive.Inc()

	if s.notifier != nil {
		_ = s.notifier.NotifySegmentStarted(ctx, s.trip.Clone(), target)
	}
	s.broadcastLocked()
	return nil
}

// endSegmentLocked stops the watch and forgets the segment after its miles were committed.
func (s *TripSession) endSegmentLocked(ctx context.Context) {
	s.dropSegmentLocked()
	s.clearSnapshotLocked(ctx)
}

// dropSegmentLocked stops the watch and the flush loop and forgets the segment
// without writing anything.
func (s *TripSession) dropSegmentLocked() {
	if s.sub != nil {
		s.source.Cancel(*s.sub)
		s.sub = nil
	}
	s.gen = 0
	s.segment.Stop()
	s.stopFlusherLocked()
	observability.SegmentsActive.Dec()
}

func (s *TripSession) startFlusherLocked() {
	if s.flusher == nil && !s.closed {
		s.flusher = tracker.StartFlusher(s.cfg.FlushInterval, s.periodicFlush)
	}
}

// stopFlusherLocked cancels the loop without waiting, since a running tick may be blocked on mu.
func (s *TripSession) stopFlusherLocked() {
	if s.flusher != nil {
		s.flusher.Cancel()
		s.flusher = nil
	}
}

// resumeLocked reopens a segment left active by a previous session.
func (s *TripSession) resumeLocked(ctx context.Context) error {
	var snap *domain.SegmentSnapshot
	if s.snapshots != nil {
		loaded, err := s.snapshots.Load(ctx, s.trip.ID)
		if err != nil {
			s.log.Warn("failed to load segment snapshot", "error", err)
		}
		snap = loaded
	}

	ts := s.trip.Tracking
	if !ts.Active {
		if snap != nil {
			s.log.Info("discarding snapshot of a closed segment", "target", snap.Target.String())
			s.clearSnapshotLocked(ctx)
		}
		return nil
	}

	var chosen domain.SegmentSnapshot
	var ok bool
	switch record, recordOK := tracker.SnapshotFromTracking(s.trip.ID, ts, s.trip.UpdatedAt); {
	case snap != nil && snap.Target.Valid() && (ts.Target == nil || *ts.Target == snap.Target):
		chosen, ok = *snap, true
	case recordOK:
		chosen, ok = record, true
	}

	if !ok || !s.targetOpenLocked(chosen.Target) {
		s.log.Warn("discarding unusable tracking state", "target", chosen.Target.String())
		cleared := domain.TrackingState{}
		if err := s.commitLocked(ctx, domain.TripPatch{Tracking: &cleared}); err != nil {
			return err
		}
		s.clearSnapshotLocked(ctx)
		return nil
	}

	s.genSeq++
	gen := s.genSeq
	sub, err := s.source.Watch(
		func(p domain.GeoPoint) { s.handleFix(gen, p) },
		func(err error) { s.handleError(gen, err) },
	)
	if err != nil {
		return fmt.Errorf("watch location: %w", err)
	}
	if err := s.segment.Resume(chosen); err != nil {
		s.source.Cancel(sub)
		return err
	}
	s.gen = gen
	s.sub = &sub
	s.startFlusherLocked()
	observability.SegmentsActive.Inc()

	s.log.Info("resumed segment",
		"target", chosen.Target.String(),
		"miles_buffer", chosen.MilesBuffer,
		"night_miles_buffer", chosen.NightMilesBuffer,
	)
	return nil
}

// targetOpenLocked reports whether target still points at a pending stop or an unfinished load.
func (s *TripSession) targetOpenLocked(target domain.SegmentTarget) bool {
	if !target.Valid() {
		return false
	}
	idx := s.trip.LoadIndex(target.LoadID)
	if idx < 0 {
		return false
	}
	load := s.trip.Loads[idx]
	switch target.Kind {
	case domain.TargetStop:
		i := load.StopIndex(target.StopID)
		return i >= 0 && !load.Stops[i].Arrived()
	case domain.TargetDepot:
		return load.FinishedAt == nil
	default:
		return false
	}
}

// healPayLocked rewrites a stored total that no longer matches its inputs.
func (s *TripSession) healPayLocked(ctx context.Context) {
	stored := s.trip.TotalPay
	recomputed := pay.ForTrip(s.trip, s.settings)
	if !pay.Drifted(stored, recomputed) {
		return
	}

	if err := s.commitLocked(ctx, domain.TripPatch{TotalPay: &recomputed}); err != nil {
		s.log.Warn("failed to correct trip pay", "stored_pay", stored, "recomputed_pay", recomputed, "error", err)
		return
	}

	observability.PayCorrections.Inc()
	s.log.Info("corrected trip pay", "stored_pay", stored, "recomputed_pay", recomputed)
	if s.notifier != nil {
		_ = s.notifier.NotifyPayCorrected(ctx, s.trip.Clone(), stored)
	}
}

// commitLocked writes patch and adopts the result only if the write succeeds.
func (s *TripSession) commitLocked(ctx context.Context, patch domain.TripPatch) error {
	if patch.Empty() {
		return nil
	}

	next := s.trip.Clone()
	next.Apply(patch)
	next.UpdatedAt = s.cfg.Clock()

	if err := s.trips.Update(ctx, s.trip.ID, patch); err != nil {
		return fmt.Errorf("persist trip %s: %w", s.trip.ID, err)
	}
	s.trip = next
	return nil
}

// pricedLocked sets TotalPay to the pay of the trip the patch produces.
func (s *TripSession) pricedLocked(patch domain.TripPatch) domain.TripPatch {
	next := s.trip.Clone()
	next.Apply(patch)
	total := pay.ForTrip(next, s.settings)
	patch.TotalPay = &total
	return patch
}

// boundaryFixLocked waits for one fix with mu released, so watched fixes and
// progress reads continue meanwhile. opMu keeps other operations out.
func (s *TripSession) boundaryFixLocked(ctx context.Context) (domain.GeoPoint, error) {
	s.mu.Unlock()
	start := time.Now()
	fix, err := s.source.CurrentFix(ctx)
	observability.FixWaitDuration.Observe(time.Since(start).Seconds())
	s.mu.Lock()

	if err != nil {
		return domain.GeoPoint{}, err
	}
	if s.closed {
		return domain.GeoPoint{}, ErrSessionClosed
	}
	return fix, nil
}

func (s *TripSession) saveSnapshotLocked(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	snap, ok := s.segment.Snapshot()
	if !ok {
		return
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		s.log.Warn("failed to save segment snapshot", "error", err)
		return
	}
	s.snapshotAt = s.cfg.Clock()
}

func (s *TripSession) clearSnapshotLocked(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Clear(ctx, s.trip.ID); err != nil {
		s.log.Warn("failed to clear segment snapshot", "error", err)
	}
}

func (s *TripSession) writableLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.trip.IsFinished {
		return ErrTripFinished
	}
	return nil
}

func (s *TripSession) loadIndexLocked(loadID string) (int, error) {
	idx := s.trip.LoadIndex(loadID)
	if idx < 0 {
		return -1, ErrLoadNotFound
	}
	return idx, nil
}

func (s *TripSession) segmentTargetsLoadLocked(loadID string) bool {
	target, ok := s.segment.Target()
	return ok && target.LoadID == loadID
}

func (s *TripSession) newStops(n int) []domain.Stop {
	stops := make([]domain.Stop, n)
	for i := range stops {
		stops[i] = domain.Stop{ID: s.cfg.NewID()}
	}
	return stops
}

func validOdometer(odometer, start float64) bool {
	return !math.IsNaN(odometer) && !math.IsInf(odometer, 0) && odometer >= start
}

// clampNight keeps night miles within the trip distance.
func clampNight(night, start, current float64) float64 {
	return math.Min(math.Max(night, 0), math.Max(current-start, 0))
}

func observeMiles(source string, miles, night float64) {
	if miles <= 0 {
		return
	}
	observability.MilesTracked.WithLabelValues(source, "day").Add(math.Max(miles-night, 0))
	if night > 0 {
		observability.MilesTracked.WithLabelValues(source, "night").Add(night)
	}
}
