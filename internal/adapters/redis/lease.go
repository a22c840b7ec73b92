package redisad

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Coordinator backs the two cross-process guards this core needs: a short-TTL
// advisory lease per reservation push and a seen-before window for webhook
// event ids. Both are convenience guards, not strict locks; the status-field
// checks in the services remain the source of truth.
type Coordinator struct{ c *redis.Client }

func New(addr, pass string, db int) *Coordinator {
	return &Coordinator{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

func NewFromClient(c *redis.Client) *Coordinator { return &Coordinator{c: c} }

func (r *Coordinator) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, 1, ttl).Result()
}

func (r *Coordinator) Release(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

// FirstSeen records id for ttl and reports whether it was new.
func (r *Coordinator) FirstSeen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, id, 1, ttl).Result()
}
