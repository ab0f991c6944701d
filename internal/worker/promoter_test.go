package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DexBinion/nuscape-backend/internal/domain"
)

type stubSource struct {
	sessions []domain.PromotableSession
	err      error
	gotSince time.Time
	gotUntil time.Time
}

func (s *stubSource) ListPromotable(_ context.Context, since, until time.Time) ([]domain.PromotableSession, error) {
	s.gotSince, s.gotUntil = since, until
	return s.sessions, s.err
}

type stubAccumulator struct {
	calls map[string][]domain.Fact
	err   error
}

func (s *stubAccumulator) Accumulate(_ context.Context, accountID, deviceID string, facts []domain.Fact) error {
	if s.err != nil {
		return s.err
	}
	if s.calls == nil {
		s.calls = map[string][]domain.Fact{}
	}
	s.calls[accountID+"/"+deviceID] = append(s.calls[accountID+"/"+deviceID], facts...)
	return nil
}

type memWatermark struct {
	value int64
	sets  int
	err   error
}

func (m *memWatermark) Watermark(context.Context) (int64, error) { return m.value, m.err }

func (m *memWatermark) SetWatermark(_ context.Context, epochMS int64) error {
	m.value = epochMS
	m.sets++
	return nil
}

func newTestPromoter(src SessionSource, acc domain.RollupAccumulator, wm domain.WatermarkStore, now time.Time) *Promoter {
	p := NewPromoter(src, acc, wm, 15*time.Second, zerolog.Nop())
	p.now = func() time.Time { return now }
	return p
}

func TestPromoteOnce_GroupsByDevice(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	devA := uuid.New()
	devB := uuid.New()

	src := &stubSource{sessions: []domain.PromotableSession{
		{AccountID: "acct-1", DeviceID: devA, Package: "com.example.app", Start: now.Add(-10 * time.Second), Duration: 30},
		{AccountID: "acct-1", DeviceID: devA, Package: "com.example.other", Start: now.Add(-8 * time.Second), Duration: 15},
		{AccountID: "acct-1", DeviceID: devB, Package: "com.example.app", Start: now.Add(-5 * time.Second), Duration: 20},
	}}
	acc := &stubAccumulator{}
	wm := &memWatermark{value: now.Add(-15 * time.Second).UnixMilli()}

	require.NoError(t, newTestPromoter(src, acc, wm, now).promoteOnce(context.Background()))

	require.Len(t, acc.calls, 2)
	assert.Len(t, acc.calls["acct-1/"+devA.String()], 2)
	assert.Len(t, acc.calls["acct-1/"+devB.String()], 1)
	assert.Equal(t, "app_session", acc.calls["acct-1/"+devB.String()][0].Kind)
	assert.Equal(t, 20.0, acc.calls["acct-1/"+devB.String()][0].Secs)
	assert.Equal(t, now.UnixMilli(), wm.value)
}

func TestPromoteOnce_AdvancesWatermarkOnEmptyScan(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	src := &stubSource{}
	acc := &stubAccumulator{}
	wm := &memWatermark{value: now.Add(-time.Minute).UnixMilli()}

	require.NoError(t, newTestPromoter(src, acc, wm, now).promoteOnce(context.Background()))

	assert.Empty(t, acc.calls)
	assert.Equal(t, now.UnixMilli(), wm.value)
	assert.Equal(t, 1, wm.sets)
}

func TestPromoteOnce_MissingWatermarkScansFromEpoch(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	src := &stubSource{}
	wm := &memWatermark{value: 0}

	require.NoError(t, newTestPromoter(src, &stubAccumulator{}, wm, now).promoteOnce(context.Background()))

	assert.Equal(t, time.UnixMilli(0).UTC(), src.gotSince)
	assert.Equal(t, now, src.gotUntil)
}

func TestPromoteOnce_MissingWatermarkReplaysOldSessions(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	dev := uuid.New()

	// Recorded an hour before the very first tick: with no watermark the
	// scan starts at epoch zero, so the row is still picked up.
	src := &stubSource{sessions: []domain.PromotableSession{
		{AccountID: "acct-1", DeviceID: dev, Package: "com.example.app", Start: now.Add(-time.Hour), Duration: 300},
	}}
	acc := &stubAccumulator{}
	wm := &memWatermark{value: 0}

	require.NoError(t, newTestPromoter(src, acc, wm, now).promoteOnce(context.Background()))

	require.Len(t, acc.calls["acct-1/"+dev.String()], 1)
	assert.Equal(t, 300.0, acc.calls["acct-1/"+dev.String()][0].Secs)
	assert.Equal(t, now.UnixMilli(), wm.value)
}

func TestPromoteOnce_WatermarkHeldOnFailure(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	prev := now.Add(-time.Minute).UnixMilli()
	src := &stubSource{sessions: []domain.PromotableSession{
		{AccountID: "acct-1", DeviceID: uuid.New(), Package: "a", Start: now, Duration: 5},
	}}
	acc := &stubAccumulator{err: errors.New("db down")}
	wm := &memWatermark{value: prev}

	err := newTestPromoter(src, acc, wm, now).promoteOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, prev, wm.value)
	assert.Equal(t, 0, wm.sets)
}

func TestPromoteOnce_SourceErrorHoldsWatermark(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	wm := &memWatermark{value: now.Add(-time.Minute).UnixMilli()}

	err := newTestPromoter(&stubSource{err: errors.New("query failed")}, &stubAccumulator{}, wm, now).promoteOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, wm.sets)
}
