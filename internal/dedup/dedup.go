package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DexBinion/nuscape-backend/internal/domain"
	"github.com/DexBinion/nuscape-backend/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisDeduper is the durable implementation: one Redis set per device,
// expiry refreshed to the retention window on every accepted event.
// Authoritative only within that window.
type RedisDeduper struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedis(client *redis.Client, retention time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, retention: retention}
}

func (d *RedisDeduper) IsDuplicate(ctx context.Context, deviceID, eventID string) (bool, error) {
	key := "dedupe:" + deviceID

	added, err := d.client.SAdd(ctx, key, eventID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrDedupUnavailable, err)
	}

	if added == 1 {
		// New event: refresh the rolling retention window. Last writer
		// wins on the TTL, which is fine per-device.
		_ = d.client.Expire(ctx, key, d.retention).Err()
		return false, nil
	}
	return true, nil
}

// MemoryDeduper is the degraded fallback: process-local, non-durable,
// not shared across workers. Duplicates can slip through after a crash
// or between instances; that weaker guarantee is accepted by design.
type MemoryDeduper struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemory(retention time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (d *MemoryDeduper) IsDuplicate(_ context.Context, deviceID, eventID string) (bool, error) {
	key := deviceID + ":" + eventID
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked(now)

	if ts, ok := d.seen[key]; ok && now.Sub(ts) < d.retention {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

// sweepLocked drops expired entries at most once per minute so the map
// cannot grow unbounded while Redis is down for long stretches.
func (d *MemoryDeduper) sweepLocked(now time.Time) {
	if now.Sub(d.lastSweep) < time.Minute {
		return
	}
	d.lastSweep = now
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.retention {
			delete(d.seen, k)
		}
	}
}

// Failover prefers the durable deduper and degrades to the local one
// when it is unreachable. Callers only see the domain.Deduper interface
// and never learn which backend answered.
type Failover struct {
	primary  domain.Deduper
	fallback domain.Deduper
	log      zerolog.Logger
}

func NewFailover(primary, fallback domain.Deduper, log zerolog.Logger) *Failover {
	return &Failover{
		primary:  primary,
		fallback: fallback,
		log:      log.With().Str("component", "dedup").Logger(),
	}
}

func (f *Failover) IsDuplicate(ctx context.Context, deviceID, eventID string) (bool, error) {
	dup, err := f.primary.IsDuplicate(ctx, deviceID, eventID)
	if err == nil {
		return dup, nil
	}

	metrics.DedupFallbacks.Inc()
	f.log.Warn().Err(err).
		Str("device_id", deviceID).
		Str("event_id", eventID).
		Msg("durable dedup check failed; using local fallback")

	return f.fallback.IsDuplicate(ctx, deviceID, eventID)
}
