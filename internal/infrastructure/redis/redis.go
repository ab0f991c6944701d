package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const watermarkKey = "processor:last_session_agg"

// Watermark entries outlive the value's usefulness by a wide margin; a
// missing key just restarts the promoter window.
const watermarkTTL = 7 * 24 * time.Hour

type Cache struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Watermark returns the promoter's last-processed timestamp in epoch
// milliseconds, zero when unset.
func (c *Cache) Watermark(ctx context.Context) (int64, error) {
	val, err := c.Client.Get(ctx, watermarkKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (c *Cache) SetWatermark(ctx context.Context, epochMS int64) error {
	return c.Client.Set(ctx, watermarkKey, strconv.FormatInt(epochMS, 10), watermarkTTL).Err()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
