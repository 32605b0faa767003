// Package usage tracks per-user daily engine call counts in Redis.
package usage

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter keys roll over at UTC midnight; the TTL keeps yesterday's key
// readable for a day after rollover.
const keyTTL = 48 * time.Hour

type Counter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewCounter(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb, now: time.Now}
}

func (c *Counter) key(userID string, day time.Time) string {
	return "engine:usage:" + strings.TrimSpace(userID) + ":" + day.UTC().Format("20060102")
}

// Increment bumps today's engine call count for the user and returns the new
// total. The INCR and EXPIRE run in one pipeline so a key never outlives its
// day unbounded.
func (c *Counter) Increment(ctx context.Context, userID string) (int64, error) {
	key := c.key(userID, c.now())
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Today returns the user's engine call count for the current UTC day. A
// missing key reads as zero.
func (c *Counter) Today(ctx context.Context, userID string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.key(userID, c.now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
