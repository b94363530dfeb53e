package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"haulpay/internal/domain"
)

const (
	lastFixGeoKey  = "trips:last_fix"
	lastFixTimeKey = "trips:last_fix_at"
)

// LocationStore indexes the most recent device fix of every trip.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// SaveFix stores the fix with GEOADD and its timestamp in a hash, in one pipeline.
func (s *LocationStore) SaveFix(ctx context.Context, tripID string, p domain.GeoPoint, at time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.GeoAdd(ctx, lastFixGeoKey, &redis.GeoLocation{
		Name:      tripID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
	pipe.HSet(ctx, lastFixTimeKey, tripID, at.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

// LastFix returns the stored fix for a trip. ok is false when none exists.
// Coordinates come back at Redis geohash precision.
func (s *LocationStore) LastFix(ctx context.Context, tripID string) (domain.GeoPoint, time.Time, bool, error) {
	pipe := s.client.Pipeline()
	posCmd := pipe.GeoPos(ctx, lastFixGeoKey, tripID)
	atCmd := pipe.HGet(ctx, lastFixTimeKey, tripID)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return domain.GeoPoint{}, time.Time{}, false, err
	}

	positions, err := posCmd.Result()
	if err != nil {
		return domain.GeoPoint{}, time.Time{}, false, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return domain.GeoPoint{}, time.Time{}, false, nil
	}

	raw, err := atCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return domain.GeoPoint{}, time.Time{}, false, nil
		}
		return domain.GeoPoint{}, time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.GeoPoint{}, time.Time{}, false, err
	}

	p := domain.GeoPoint{Lat: positions[0].Latitude, Lng: positions[0].Longitude}
	return p, time.UnixMilli(millis), true, nil
}

// RemoveFix drops a trip from the index.
func (s *LocationStore) RemoveFix(ctx context.Context, tripID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, lastFixGeoKey, tripID)
	pipe.HDel(ctx, lastFixTimeKey, tripID)
	_, err := pipe.Exec(ctx)
	return err
}
