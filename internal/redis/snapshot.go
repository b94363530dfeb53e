package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"haulpay/internal/domain"
)

const snapshotPrefix = "segment:snapshot:"

// DefaultSnapshotTTL expires snapshots of trips that were abandoned mid-segment.
const DefaultSnapshotTTL = 7 * 24 * time.Hour

// SnapshotStore keeps open segment snapshots in Redis.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

// Load returns the snapshot for a trip, or nil when none is stored.
func (s *SnapshotStore) Load(ctx context.Context, tripID string) (*domain.SegmentSnapshot, error) {
	data, err := s.client.Get(ctx, snapshotPrefix+tripID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap domain.SegmentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save stores a snapshot, replacing any previous one.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.SegmentSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, snapshotPrefix+snap.TripID, data, s.ttl).Err()
}

// Clear removes a trip's snapshot.
func (s *SnapshotStore) Clear(ctx context.Context, tripID string) error {
	return s.client.Del(ctx, snapshotPrefix+tripID).Err()
}
