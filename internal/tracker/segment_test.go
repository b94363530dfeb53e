package tracker

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"haulpay/internal/domain"
	"haulpay/internal/geo"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func nightWindow() domain.Settings {
	return domain.Settings{
		CPM:               1,
		NightPayEnabled:   true,
		NightStartMinutes: 1140,
		NightEndMinutes:   180,
		TimeZone:          "UTC",
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSegment_AccumulatesDayAndNight(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 3, 1, 18, 50, 0, 0, time.UTC)}
	seg := NewSegment("trip-1", nightWindow(), clock.Now)

	origin := domain.GeoPoint{Lat: 40.0, Lng: -75.0}
	p1 := domain.GeoPoint{Lat: 40.01, Lng: -75.0}
	p2 := domain.GeoPoint{Lat: 40.02, Lng: -75.0}

	if err := seg.Start(domain.StopTarget("l1", "s1"), origin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d1 := seg.Accept(p1) // 18:50, day
	clock.now = time.Date(2024, 3, 1, 19, 5, 0, 0, time.UTC)
	d2 := seg.Accept(p2) // 19:05, night

	totals := seg.Totals()
	if !near(totals.Miles, d1+d2) {
		t.Errorf("expected %v miles, got %v", d1+d2, totals.Miles)
	}
	if !near(totals.NightMiles, d2) {
		t.Errorf("expected %v night miles, got %v", d2, totals.NightMiles)
	}
	if !near(d1, geo.Distance(origin, p1)) {
		t.Errorf("delta should be measured from the origin")
	}
	if seg.Fixes() != 2 || !seg.Dirty() {
		t.Errorf("expected 2 fixes and dirty state")
	}
}

func TestSegment_ZeroDeltaIsSkipped(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	seg := NewSegment("trip-1", nightWindow(), clock.Now)
	origin := domain.GeoPoint{Lat: 40, Lng: -75}
	_ = seg.Start(domain.DepotTarget("l1"), origin)

	if d := seg.Accept(origin); d != 0 {
		t.Errorf("expected 0 delta, got %v", d)
	}
	if seg.Dirty() || seg.Fixes() != 0 {
		t.Error("zero delta should not mark the segment dirty")
	}
}

func TestSegment_IgnoresFixesWhileIdle(t *testing.T) {
	t.Parallel()

	seg := NewSegment("trip-1", nightWindow(), nil)
	if d := seg.Accept(domain.GeoPoint{Lat: 1, Lng: 1}); d != 0 {
		t.Errorf("expected idle segment to ignore fix, got %v", d)
	}
	if _, ok := seg.Snapshot(); ok {
		t.Error("idle segment should have no snapshot")
	}
	if seg.TrackingState().Active {
		t.Error("idle segment should report inactive tracking")
	}
}

func TestSegment_StartWhileActiveFails(t *testing.T) {
	t.Parallel()

	seg := NewSegment("trip-1", nightWindow(), nil)
	_ = seg.Start(domain.DepotTarget("l1"), domain.GeoPoint{})

	err := seg.Start(domain.DepotTarget("l2"), domain.GeoPoint{})
	if !errors.Is(err, ErrSegmentActive) {
		t.Errorf("expected ErrSegmentActive, got %v", err)
	}
	if err := NewSegment("t", nightWindow(), nil).Start(domain.SegmentTarget{}, domain.GeoPoint{}); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestSegment_ResumeKeepsBuffers(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	seg := NewSegment("trip-1", nightWindow(), clock.Now)

	snap := domain.SegmentSnapshot{
		TripID:           "trip-1",
		Target:           domain.StopTarget("l1", "s2"),
		MilesBuffer:      4.2,
		NightMilesBuffer: 1.1,
		LastLocation:     domain.GeoPoint{Lat: 40, Lng: -75},
	}
	if err := seg.Resume(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := domain.GeoPoint{Lat: 40.01, Lng: -75}
	d := seg.Accept(next)

	totals := seg.Totals()
	if !near(totals.Miles, 4.2+d) || !near(totals.NightMiles, 1.1) {
		t.Errorf("unexpected totals after resume: %+v", totals)
	}
	target, ok := seg.Target()
	if !ok || target != snap.Target {
		t.Errorf("expected target %v, got %v", snap.Target, target)
	}
}

func TestSegment_PreviewDoesNotMutate(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)}
	seg := NewSegment("trip-1", nightWindow(), clock.Now)
	origin := domain.GeoPoint{Lat: 40, Lng: -75}
	_ = seg.Start(domain.DepotTarget("l1"), origin)

	final := domain.GeoPoint{Lat: 40.05, Lng: -75}
	preview := seg.Preview(final)
	want := geo.Distance(origin, final)

	if !near(preview.Miles, want) || !near(preview.NightMiles, want) {
		t.Errorf("unexpected preview: %+v", preview)
	}
	if seg.Totals().Miles != 0 {
		t.Error("preview must not change buffers")
	}
}

func TestSegment_StopResets(t *testing.T) {
	t.Parallel()

	seg := NewSegment("trip-1", nightWindow(), nil)
	_ = seg.Start(domain.DepotTarget("l1"), domain.GeoPoint{Lat: 40, Lng: -75})
	seg.Accept(domain.GeoPoint{Lat: 40.1, Lng: -75})

	totals := seg.Stop()
	if totals.Miles <= 0 {
		t.Errorf("expected buffered miles to be returned, got %v", totals.Miles)
	}
	if seg.Active() || seg.Totals().Miles != 0 {
		t.Error("segment should be idle with empty buffers after stop")
	}
}

func TestSnapshotFromTracking(t *testing.T) {
	t.Parallel()

	target := domain.StopTarget("l1", "s1")
	last := domain.GeoPoint{Lat: 1, Lng: 2}
	ts := domain.TrackingState{Active: true, Target: &target, MilesBuffer: 3, NightMilesBuffer: 1, LastLocation: &last}

	snap, ok := SnapshotFromTracking("trip-1", ts, time.Time{})
	if !ok || snap.Target != target || snap.MilesBuffer != 3 || snap.LastLocation != last {
		t.Errorf("unexpected snapshot: %+v ok=%v", snap, ok)
	}

	ts.Target = &domain.SegmentTarget{Kind: "dc"}
	if _, ok := SnapshotFromTracking("trip-1", ts, time.Time{}); ok {
		t.Error("invalid target should not produce a snapshot")
	}
}

func TestFlusher_CallsUntilStopped(t *testing.T) {
	t.Parallel()

	var calls int32
	f := StartFlusher(5*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})

	time.Sleep(40 * time.Millisecond)
	f.Stop()
	after := atomic.LoadInt32(&calls)
	if after == 0 {
		t.Fatal("expected flusher to run at least once")
	}

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&calls) != after {
		t.Error("flusher kept running after stop")
	}
	f.Stop()
}

func TestFlusher_CancelDoesNotWaitForFlush(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once atomic.Bool
	f := StartFlusher(time.Millisecond, func(ctx context.Context) {
		if once.CompareAndSwap(false, true) {
			close(entered)
		}
		<-unblock
	})

	<-entered
	cancelled := make(chan struct{})
	go func() {
		f.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel blocked on an in-flight flush")
	}

	close(unblock)
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancel")
	}
	f.Cancel()
}
