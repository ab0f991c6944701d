package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DexBinion/nuscape-backend/internal/domain"
	"github.com/DexBinion/nuscape-backend/internal/metrics"
)

// Consumer reads event batches from the ingest stream via a consumer
// group and folds them into the rollup tables. Malformed entries are
// acknowledged and dropped so they cannot wedge the stream; transient
// downstream failures leave the entry pending for redelivery.
type Consumer struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	batch    int64
	deduper  domain.Deduper
	rollups  domain.RollupAccumulator
	log      zerolog.Logger
}

func NewConsumer(rdb *redis.Client, stream, group string, batch int, deduper domain.Deduper, rollups domain.RollupAccumulator, log zerolog.Logger) *Consumer {
	return &Consumer{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: group + "-worker",
		batch:    int64(batch),
		deduper:  deduper,
		rollups:  rollups,
		log:      log,
	}
}

// Run creates the consumer group if needed and consumes until the
// context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.log.Info().Str("stream", c.stream).Str("group", c.group).Msg("ingestion worker started consuming")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.batch,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			c.log.Error().Err(err).Msg("stream read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.processMessage(ctx, msg)
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) {
	start := time.Now()

	batch, reason := decodeBatch(msg.Values)
	if reason != "" {
		metrics.DeadLettered.WithLabelValues(reason).Inc()
		c.log.Error().Str("entry_id", msg.ID).Str("reason", reason).Msg("dropping malformed stream entry")
		c.ack(ctx, msg.ID)
		return
	}

	log := c.log.With().Str("entry_id", msg.ID).Str("device_id", batch.DeviceID).Logger()

	facts, err := c.buildFacts(ctx, batch.DeviceID, batch.Events)
	if err != nil {
		log.Error().Err(err).Msg("dedup check failed, leaving entry pending")
		return
	}

	if err := c.rollups.Accumulate(ctx, batch.AccountID, batch.DeviceID, facts); err != nil {
		log.Error().Err(err).Msg("rollup write failed, leaving entry pending")
		return
	}

	c.ack(ctx, msg.ID)
	metrics.EventsProcessed.Add(float64(len(facts)))
	metrics.RollupLatency.Observe(time.Since(start).Seconds())
}

// buildFacts filters a batch down to first-seen events. Events without
// an id cannot be deduplicated and are dropped; a dedup backend error
// aborts the whole entry so it stays pending.
func (c *Consumer) buildFacts(ctx context.Context, deviceID string, events []domain.QueueEvent) ([]domain.Fact, error) {
	facts := make([]domain.Fact, 0, len(events))
	for _, ev := range events {
		if ev.EventID == "" {
			metrics.DeadLettered.WithLabelValues("missing_event_id").Inc()
			continue
		}
		dup, err := c.deduper.IsDuplicate(ctx, deviceID, ev.EventID)
		if err != nil {
			return nil, err
		}
		if dup {
			metrics.DupesDropped.Inc()
			continue
		}
		facts = append(facts, domain.Fact{
			TS:   time.UnixMilli(ev.TS).UTC(),
			Kind: ev.Kind,
			Key:  ev.Key,
			Secs: ev.Secs,
		})
	}
	return facts, nil
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("entry_id", id).Msg("ack failed")
	}
}

func decodeBatch(values map[string]interface{}) (domain.EventBatch, string) {
	var batch domain.EventBatch

	deviceID, ok := stringField(values, "device_id")
	if !ok || deviceID == "" {
		return batch, "missing_device_id"
	}
	eventsJSON, ok := stringField(values, "events_json")
	if !ok || eventsJSON == "" {
		return batch, "missing_events_json"
	}

	var events []domain.QueueEvent
	if err := json.Unmarshal([]byte(eventsJSON), &events); err != nil {
		return batch, "invalid_json"
	}

	batch.DeviceID = deviceID
	batch.Events = events
	batch.AccountID, _ = stringField(values, "account_id")
	batch.ClientVersion, _ = stringField(values, "client_version")
	if raw, ok := stringField(values, "sequence_start"); ok {
		var n int
		if err := json.Unmarshal([]byte(raw), &n); err == nil {
			batch.SequenceStart = n
		}
	}
	return batch, ""
}

func stringField(values map[string]interface{}, key string) (string, bool) {
	v, ok := values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
