package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL outlives the inbound stream's retention.
const DefaultDedupeTTL = 24 * time.Hour

// Deduper claims an inbound message ID so a redelivered message is handled once.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
}

// RedisDeduper records claimed IDs under processed:<id> with SET NX.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// Claim reports true the first time id is seen.
func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "processed:"+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming message %s: %w", id, err)
	}
	return ok, nil
}
