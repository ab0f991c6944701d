package dedup

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper_FirstSeenThenDuplicate(t *testing.T) {
	d := NewMemory(48 * time.Hour)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "dev-1", "evt-1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = d.IsDuplicate(ctx, "dev-1", "evt-1")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestMemoryDeduper_ScopedPerDevice(t *testing.T) {
	d := NewMemory(48 * time.Hour)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "dev-1", "evt-1")
	require.NoError(t, err)
	assert.False(t, dup)

	// Same event id on another device is not a duplicate.
	dup, err = d.IsDuplicate(ctx, "dev-2", "evt-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMemoryDeduper_ExpiresAfterRetention(t *testing.T) {
	d := NewMemory(time.Hour)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "dev-1", "evt-1")
	require.NoError(t, err)
	assert.False(t, dup)

	now = now.Add(2 * time.Hour)
	dup, err = d.IsDuplicate(ctx, "dev-1", "evt-1")
	require.NoError(t, err)
	assert.False(t, dup, "entry older than retention should be forgotten")
}

type stubDeduper struct {
	dup   bool
	err   error
	calls int
}

func (s *stubDeduper) IsDuplicate(_ context.Context, _, _ string) (bool, error) {
	s.calls++
	return s.dup, s.err
}

func TestFailover_PrefersPrimary(t *testing.T) {
	primary := &stubDeduper{dup: true}
	fallback := &stubDeduper{dup: false}
	f := NewFailover(primary, fallback, zerolog.New(io.Discard))

	dup, err := f.IsDuplicate(context.Background(), "dev-1", "evt-1")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls)
}

func TestFailover_DegradesOnPrimaryError(t *testing.T) {
	primary := &stubDeduper{err: errors.New("connection refused")}
	fallback := &stubDeduper{dup: false}
	f := NewFailover(primary, fallback, zerolog.New(io.Discard))

	dup, err := f.IsDuplicate(context.Background(), "dev-1", "evt-1")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, 1, fallback.calls)
}
