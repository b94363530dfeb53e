package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when a release finds the lock expired or taken by another holder.
var ErrLockNotHeld = errors.New("trip lock not held")

// releaseScript deletes the lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore hands out per-trip write locks. Each acquisition stores a fresh
// token, and only the holder of that token can release it.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func tripLockKey(tripID string) string {
	return fmt.Sprintf("lock:trip:%s", tripID)
}

// AcquireTripLock takes the trip's write lock for ttl. ok is false if another
// holder has it; token must be passed back to ReleaseTripLock.
func (s *LockStore) AcquireTripLock(ctx context.Context, tripID string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := s.client.SetNX(ctx, tripLockKey(tripID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseTripLock drops the lock if token still owns it. A lock that expired
// and was re-acquired by someone else is left alone and ErrLockNotHeld returned.
func (s *LockStore) ReleaseTripLock(ctx context.Context, tripID, token string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{tripLockKey(tripID)}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
