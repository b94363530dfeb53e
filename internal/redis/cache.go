package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"haulpay/internal/domain"
)

// SettingsCacheTTL bounds how long a cached settings document is trusted.
const SettingsCacheTTL = 5 * time.Minute

const settingsCachePrefix = "cache:settings:"

// CacheStore caches per-user settings in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client, ttl: SettingsCacheTTL}
}

// GetSettings retrieves a user's settings from cache.
func (s *CacheStore) GetSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	data, err := s.client.Get(ctx, settingsCachePrefix+userID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var settings domain.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SetSettings stores a user's settings in cache.
func (s *CacheStore) SetSettings(ctx context.Context, userID string, settings domain.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, settingsCachePrefix+userID, data, s.ttl).Err()
}

// InvalidateSettings removes a user's settings from cache.
func (s *CacheStore) InvalidateSettings(ctx context.Context, userID string) error {
	return s.client.Del(ctx, settingsCachePrefix+userID).Err()
}
