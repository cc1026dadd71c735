package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrOrderBusy is returned when another worker holds the lock of an order
var ErrOrderBusy = errors.New("order is being processed by another worker")

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OrderLock serializes jobs of the same order across workers
type OrderLock struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewOrderLock creates a lock with the given expiry
func NewOrderLock(rdb redis.UniversalClient, ttl time.Duration) *OrderLock {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &OrderLock{rdb: rdb, ttl: ttl}
}

// LockKey returns the redis key guarding an order
func LockKey(bucket string, orderPK int) string {
	return fmt.Sprintf("vpe:lock:%s:%d", bucket, orderPK)
}

// Guard runs fn while holding key. It returns ErrOrderBusy without running fn when
// the lock is taken.
func (l *OrderLock) Guard(ctx context.Context, key string, fn func() error) error {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderBusy, key)
	}
	defer func() {
		// Release even when ctx is already cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil {
			log.Printf("[queue] failed to release lock %s: %v", key, err)
		}
	}()
	return fn()
}
