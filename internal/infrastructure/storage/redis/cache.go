package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"tdxmon/internal/domain/model"
)

// Cache mirrors each broadcast into Redis so out-of-process consumers can read
// the latest snapshot without opening a stream. It is a best-effort mirror, not
// a Store backend; the SQL store stays authoritative.
type Cache struct {
	rdb         *redis.Client
	ttl         time.Duration
	keySnapshot string // prefix + ":snapshot"
	keyLatest   string // prefix + ":latest", hash field = instrument code
}

func NewCache(rdb *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		rdb:         rdb,
		ttl:         ttl,
		keySnapshot: prefix + ":snapshot",
		keyLatest:   prefix + ":latest",
	}
}

// Publish stores the serialized snapshot and refreshes the per-instrument hash
// in one pipeline.
func (c *Cache) Publish(ctx context.Context, payload []byte, quotes []model.RealtimeQuote) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, c.keySnapshot, payload, c.ttl)
	for i := range quotes {
		b, err := json.Marshal(&quotes[i])
		if err != nil {
			return err
		}
		pipe.HSet(ctx, c.keyLatest, quotes[i].Code, string(b))
	}
	if c.ttl > 0 {
		pipe.Expire(ctx, c.keyLatest, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) Close() error { return c.rdb.Close() }
