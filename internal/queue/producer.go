package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/DexBinion/nuscape-backend/internal/domain"
	"github.com/DexBinion/nuscape-backend/internal/metrics"
)

// Producer appends event batches to the ingest stream. Entries carry the
// batch envelope as flat fields with the event list JSON-encoded, so a
// consumer can reject a malformed payload without losing the envelope.
type Producer struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewProducer(rdb *redis.Client, stream string, maxLen int64) *Producer {
	return &Producer{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Enqueue appends one batch and returns the stream entry id. The stream
// is trimmed approximately to the configured maximum length on every add.
func (p *Producer) Enqueue(ctx context.Context, batch domain.EventBatch) (string, error) {
	eventsJSON, err := json.Marshal(batch.Events)
	if err != nil {
		return "", fmt.Errorf("encode events: %w", err)
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"account_id":     batch.AccountID,
			"device_id":      batch.DeviceID,
			"events_json":    string(eventsJSON),
			"sequence_start": strconv.Itoa(batch.SequenceStart),
			"client_version": batch.ClientVersion,
		},
	}).Result()
	if err != nil {
		metrics.EnqueueErrors.Inc()
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	metrics.EnqueueTotal.Inc()
	return id, nil
}
