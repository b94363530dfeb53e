package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"haulpay/internal/domain"
)

const (
	// DefaultFixTimeout bounds how long a boundary fix may take.
	DefaultFixTimeout = 15 * time.Second

	// DefaultMaxFixAge is how old a cached fix may be and still count as current.
	DefaultMaxFixAge = 30 * time.Second

	subscriberBuffer = 64
)

// ErrInvalidFix is returned when a published coordinate is out of range.
var ErrInvalidFix = errors.New("invalid fix coordinates")

// FixStore keeps the last fix of each trip outside the process.
type FixStore interface {
	SaveFix(ctx context.Context, tripID string, p domain.GeoPoint, at time.Time) error
	LastFix(ctx context.Context, tripID string) (domain.GeoPoint, time.Time, bool, error)
	RemoveFix(ctx context.Context, tripID string) error
}

// FeedConfig tunes a Feed. Zero values use the defaults.
type FeedConfig struct {
	FixTimeout time.Duration
	MaxFixAge  time.Duration
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Feed fans fixes posted by devices out to the trip sessions watching them.
type Feed struct {
	mu     sync.Mutex
	trips  map[string]*tripFeed
	nextID uint64

	store      FixStore
	fixTimeout time.Duration
	maxAge     time.Duration
	now        func() time.Time
	log        *slog.Logger
}

type tripFeed struct {
	fix     domain.GeoPoint
	fixAt   time.Time
	hasFix  bool
	failure error
	changed chan struct{}
	subs    map[uint64]*subscriber
}

type feedEvent struct {
	fix domain.GeoPoint
	err error
}

type subscriber struct {
	events  chan feedEvent
	stopped atomic.Bool
	onFix   func(domain.GeoPoint)
	onError func(error)
}

func (s *subscriber) run() {
	for ev := range s.events {
		if s.stopped.Load() {
			return
		}
		if ev.err != nil {
			if s.onError != nil {
				s.onError(ev.err)
			}
			continue
		}
		s.onFix(ev.fix)
	}
}

// NewFeed creates a Feed. store may be nil.
func NewFeed(store FixStore, cfg FeedConfig) *Feed {
	f := &Feed{
		trips:      make(map[string]*tripFeed),
		store:      store,
		fixTimeout: cfg.FixTimeout,
		maxAge:     cfg.MaxFixAge,
		now:        cfg.Clock,
		log:        cfg.Logger,
	}
	if f.fixTimeout <= 0 {
		f.fixTimeout = DefaultFixTimeout
	}
	if f.maxAge <= 0 {
		f.maxAge = DefaultMaxFixAge
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// trip returns the feed state for tripID. Caller must hold f.mu.
func (f *Feed) trip(tripID string) *tripFeed {
	tf, ok := f.trips[tripID]
	if !ok {
		tf = &tripFeed{
			changed: make(chan struct{}),
			subs:    make(map[uint64]*subscriber),
		}
		f.trips[tripID] = tf
	}
	return tf
}

// Publish records a fix for the trip and hands it to every watcher.
func (f *Feed) Publish(ctx context.Context, tripID string, p domain.GeoPoint) error {
	if !p.Valid() {
		return ErrInvalidFix
	}
	now := f.now()

	f.mu.Lock()
	tf := f.trip(tripID)
	tf.fix = p
	tf.fixAt = now
	tf.hasFix = true
	tf.failure = nil
	f.broadcast(tripID, tf, feedEvent{fix: p})
	f.mu.Unlock()

	if f.store != nil {
		if err := f.store.SaveFix(ctx, tripID, p, now); err != nil {
			f.log.Warn("failed to store last fix", "trip_id", tripID, "error", err)
		}
	}
	return nil
}

// Fail records that the device cannot currently provide fixes.
func (f *Feed) Fail(tripID string, err error) {
	if err == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tf := f.trip(tripID)
	tf.hasFix = false
	tf.failure = err
	f.broadcast(tripID, tf, feedEvent{err: err})
}

// broadcast wakes CurrentFix waiters and queues ev for subscribers. Caller must hold f.mu.
func (f *Feed) broadcast(tripID string, tf *tripFeed, ev feedEvent) {
	close(tf.changed)
	tf.changed = make(chan struct{})

	for id, sub := range tf.subs {
		select {
		case sub.events <- ev:
		default:
			f.log.Warn("subscriber backlog full, dropping fix", "trip_id", tripID, "subscription", id)
		}
	}
}

func (f *Feed) currentFix(ctx context.Context, tripID string) (domain.GeoPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, f.fixTimeout)
	defer cancel()

	checkedStore := f.store == nil
	for {
		f.mu.Lock()
		tf := f.trip(tripID)
		if tf.hasFix && f.now().Sub(tf.fixAt) <= f.maxAge {
			p := tf.fix
			f.mu.Unlock()
			return p, nil
		}
		if tf.failure != nil {
			err := tf.failure
			f.mu.Unlock()
			return domain.GeoPoint{}, err
		}
		changed := tf.changed
		f.mu.Unlock()

		if !checkedStore {
			checkedStore = true
			p, at, ok, err := f.store.LastFix(ctx, tripID)
			if err != nil {
				f.log.Warn("failed to read last fix", "trip_id", tripID, "error", err)
			} else if ok && f.now().Sub(at) <= f.maxAge {
				return p, nil
			}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return domain.GeoPoint{}, ErrUnavailable
			}
			return domain.GeoPoint{}, ctx.Err()
		}
	}
}

func (f *Feed) watch(tripID string, onFix func(domain.GeoPoint), onError func(error)) (Subscription, error) {
	if onFix == nil {
		return Subscription{}, errors.New("watch requires a fix callback")
	}

	sub := &subscriber{
		events:  make(chan feedEvent, subscriberBuffer),
		onFix:   onFix,
		onError: onError,
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.trip(tripID).subs[id] = sub
	f.mu.Unlock()

	go sub.run()

	return Subscription{TripID: tripID, ID: id}, nil
}

func (f *Feed) cancel(sub Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tf, ok := f.trips[sub.TripID]
	if !ok {
		return
	}
	s, ok := tf.subs[sub.ID]
	if !ok {
		return
	}
	delete(tf.subs, sub.ID)
	s.stopped.Store(true)
	close(s.events)
}

// Drop forgets a trip: watchers are cancelled and the stored fix removed.
func (f *Feed) Drop(ctx context.Context, tripID string) {
	f.mu.Lock()
	if tf, ok := f.trips[tripID]; ok {
		for id, s := range tf.subs {
			delete(tf.subs, id)
			s.stopped.Store(true)
			close(s.events)
		}
		delete(f.trips, tripID)
	}
	f.mu.Unlock()

	if f.store != nil {
		if err := f.store.RemoveFix(ctx, tripID); err != nil {
			f.log.Warn("failed to remove last fix", "trip_id", tripID, "error", err)
		}
	}
}

// ForTrip returns a Source bound to one trip.
func (f *Feed) ForTrip(tripID string) Source {
	return &tripSource{feed: f, tripID: tripID}
}

type tripSource struct {
	feed   *Feed
	tripID string
}

func (s *tripSource) CurrentFix(ctx context.Context) (domain.GeoPoint, error) {
	return s.feed.currentFix(ctx, s.tripID)
}

func (s *tripSource) Watch(onFix func(domain.GeoPoint), onError func(error)) (Subscription, error) {
	return s.feed.watch(s.tripID, onFix, onError)
}

func (s *tripSource) Cancel(sub Subscription) {
	s.feed.cancel(sub)
}

var _ Source = (*tripSource)(nil)
