package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DexBinion/nuscape-backend/internal/domain"
)

type stubDeduper struct {
	seen map[string]bool
	err  error
}

func (s *stubDeduper) IsDuplicate(_ context.Context, deviceID, eventID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	key := deviceID + ":" + eventID
	if s.seen[key] {
		return true, nil
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.seen[key] = true
	return false, nil
}

func newTestConsumer(d domain.Deduper) *Consumer {
	return NewConsumer(nil, "test:events", "proc-1", 10, d, nil, zerolog.Nop())
}

func TestBuildFacts_FirstSeenPasses(t *testing.T) {
	c := newTestConsumer(&stubDeduper{})

	events := []domain.QueueEvent{
		{EventID: "e1", TS: 1700000000000, Kind: "app_session", Key: "com.example.app", Secs: 30},
		{EventID: "e2", TS: 1700000060000, Kind: "app_session", Key: "com.example.app", Secs: 15},
	}

	facts, err := c.buildFacts(context.Background(), "dev-1", events)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "com.example.app", facts[0].Key)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), facts[0].TS)
	assert.Equal(t, 30.0, facts[0].Secs)
}

func TestBuildFacts_DropsDuplicates(t *testing.T) {
	c := newTestConsumer(&stubDeduper{})

	events := []domain.QueueEvent{
		{EventID: "e1", TS: 1700000000000, Kind: "app_session", Key: "a", Secs: 30},
		{EventID: "e1", TS: 1700000000000, Kind: "app_session", Key: "a", Secs: 30},
	}

	facts, err := c.buildFacts(context.Background(), "dev-1", events)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestBuildFacts_SkipsMissingEventID(t *testing.T) {
	c := newTestConsumer(&stubDeduper{})

	events := []domain.QueueEvent{
		{EventID: "", TS: 1700000000000, Kind: "app_session", Key: "a", Secs: 30},
		{EventID: "e1", TS: 1700000000000, Kind: "app_session", Key: "a", Secs: 30},
	}

	facts, err := c.buildFacts(context.Background(), "dev-1", events)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestBuildFacts_DedupErrorAborts(t *testing.T) {
	c := newTestConsumer(&stubDeduper{err: errors.New("backend down")})

	events := []domain.QueueEvent{
		{EventID: "e1", TS: 1700000000000, Kind: "app_session", Key: "a", Secs: 30},
	}

	_, err := c.buildFacts(context.Background(), "dev-1", events)
	assert.Error(t, err)
}

func TestDecodeBatch(t *testing.T) {
	batch, reason := decodeBatch(map[string]interface{}{
		"account_id":     "acct-1",
		"device_id":      "dev-1",
		"events_json":    `[{"event_id":"e1","ts":1700000000000,"kind":"app_session","key":"a","secs":30}]`,
		"sequence_start": "5",
		"client_version": "1.4.0",
	})
	require.Empty(t, reason)
	assert.Equal(t, "acct-1", batch.AccountID)
	assert.Equal(t, "dev-1", batch.DeviceID)
	assert.Equal(t, 5, batch.SequenceStart)
	assert.Equal(t, "1.4.0", batch.ClientVersion)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "e1", batch.Events[0].EventID)
}

func TestDecodeBatch_MissingFields(t *testing.T) {
	_, reason := decodeBatch(map[string]interface{}{"events_json": "[]"})
	assert.Equal(t, "missing_device_id", reason)

	_, reason = decodeBatch(map[string]interface{}{"device_id": "dev-1"})
	assert.Equal(t, "missing_events_json", reason)
}

func TestDecodeBatch_InvalidJSON(t *testing.T) {
	_, reason := decodeBatch(map[string]interface{}{
		"device_id":   "dev-1",
		"events_json": "{not json",
	})
	assert.Equal(t, "invalid_json", reason)
}
