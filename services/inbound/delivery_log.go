package inbound

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryLog remembers message ids for a while so a message the chat
// platform delivers twice is only handled once.
type DeliveryLog interface {
	// TryClaim reports whether id was seen for the first time.
	TryClaim(ctx context.Context, id string) (bool, error)
}

type MemoryDeliveryLog struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeliveryLog(ttl time.Duration) *MemoryDeliveryLog {
	return &MemoryDeliveryLog{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (l *MemoryDeliveryLog) TryClaim(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if at, ok := l.seen[id]; ok && now.Sub(at) < l.ttl {
		return false, nil
	}
	l.seen[id] = now

	if len(l.seen) > 1024 {
		for k, at := range l.seen {
			if now.Sub(at) >= l.ttl {
				delete(l.seen, k)
			}
		}
	}
	return true, nil
}

// RedisDeliveryLog shares the log between several bot processes.
type RedisDeliveryLog struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisDeliveryLog(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisDeliveryLog {
	return &RedisDeliveryLog{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (l *RedisDeliveryLog) TryClaim(ctx context.Context, id string) (bool, error) {
	return l.client.SetNX(ctx, l.keyPrefix+"delivery:"+id, "1", l.ttl).Result()
}
