package ingest

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

type stubResolver struct {
	err error
}

func (r *stubResolver) Resolve(_ context.Context, namespace, ident, displayName string) (domain.AppResolution, error) {
	if r.err != nil {
		return domain.AppResolution{}, r.err
	}
	return domain.AppResolution{
		AppID:       "app-" + ident,
		DisplayName: displayName,
		AliasIdent:  ident,
	}, nil
}

type stubBlocklist map[string]struct{}

func (b stubBlocklist) BlockedAppIDs() map[string]struct{} { return b }

type stubRepo struct {
	rows       []domain.UsageRow
	violations []domain.PolicyViolation
	upsertErr  error
	result     domain.UsageInsertResult
}

func (r *stubRepo) UpsertUsageLogs(_ context.Context, rows []domain.UsageRow) (domain.UsageInsertResult, error) {
	if r.upsertErr != nil {
		return domain.UsageInsertResult{}, r.upsertErr
	}
	r.rows = append(r.rows, rows...)
	if r.result == (domain.UsageInsertResult{}) {
		return domain.UsageInsertResult{Accepted: len(rows)}, nil
	}
	return r.result, nil
}

func (r *stubRepo) InsertViolation(_ context.Context, v domain.PolicyViolation) error {
	r.violations = append(r.violations, v)
	return nil
}

func androidDevice() domain.Device {
	return domain.Device{ID: uuid.New(), Platform: "Android", Name: "pixel"}
}

func entry(name string, start time.Time, secs int) domain.UsageEntry {
	return domain.UsageEntry{
		AppName:  name,
		Start:    start,
		End:      start.Add(time.Duration(secs) * time.Second),
		Duration: secs,
	}
}

func TestRecordBatch_ResolvesAndUpserts(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(&stubResolver{}, stubBlocklist{}, repo, zerolog.Nop())
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	result, err := svc.RecordBatch(context.Background(), androidDevice(), []domain.UsageEntry{
		entry("com.example.app", start, 60),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Empty(t, result.Errors)

	require.Len(t, repo.rows, 1)
	row := repo.rows[0]
	assert.Equal(t, "app-com.example.app", *row.AppID)
	assert.Equal(t, "android", row.AliasNamespace)
	assert.Equal(t, "com.example.app", *row.AppPackage)
	assert.Nil(t, row.AppLabel)
	assert.Equal(t, 60, row.Duration)
}

func TestRecordBatch_InvalidIntervalReportedPerIndex(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(&stubResolver{}, stubBlocklist{}, repo, zerolog.Nop())
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	bad := domain.UsageEntry{AppName: "com.example.app", Start: start, End: start}
	result, err := svc.RecordBatch(context.Background(), androidDevice(), []domain.UsageEntry{
		bad,
		entry("com.example.app", start, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Errors[0].Index)
	assert.Equal(t, "invalid_interval", result.Errors[0].Code)
}

func TestRecordBatch_BlockedAppIntercepted(t *testing.T) {
	repo := &stubRepo{}
	blocklist := stubBlocklist{"app-com.example.game": {}}
	svc := NewService(&stubResolver{}, blocklist, repo, zerolog.Nop())
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	result, err := svc.RecordBatch(context.Background(), androidDevice(), []domain.UsageEntry{
		entry("com.example.game", start, 120),
		entry("com.example.app", start.Add(time.Hour), 60),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Blocked)
	assert.Equal(t, 1, result.Accepted)

	// The blocked entry never reaches usage_logs and leaves a violation.
	require.Len(t, repo.rows, 1)
	require.Len(t, repo.violations, 1)
	v := repo.violations[0]
	assert.Equal(t, "blocked_app", v.ViolationType)
	assert.Equal(t, "app-com.example.game", *v.AppID)
	assert.Equal(t, "com.example.game", *v.AppPackage)
}

func TestRecordBatch_ResolveFailureSkipsEntry(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(&stubResolver{err: errors.New("db down")}, stubBlocklist{}, repo, zerolog.Nop())
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	result, err := svc.RecordBatch(context.Background(), androidDevice(), []domain.UsageEntry{
		entry("com.example.app", start, 60),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Accepted)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "resolve_failed", result.Errors[0].Code)
}

func TestRecordBatch_DurationFlooredToOneSecond(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(&stubResolver{}, stubBlocklist{}, repo, zerolog.Nop())
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	e := domain.UsageEntry{AppName: "com.example.app", Start: start, End: start.Add(200 * time.Millisecond)}
	_, err := svc.RecordBatch(context.Background(), androidDevice(), []domain.UsageEntry{e})
	require.NoError(t, err)
	require.Len(t, repo.rows, 1)
	assert.Equal(t, 1, repo.rows[0].Duration)
}

func TestRecordBatch_WebEntryKeysOnDomain(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(&stubResolver{}, stubBlocklist{}, repo, zerolog.Nop())
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	e := domain.UsageEntry{
		AppName:  "Firefox",
		Domain:   "Example.COM",
		Start:    start,
		End:      start.Add(time.Minute),
		Duration: 60,
	}
	device := domain.Device{ID: uuid.New(), Platform: "windows"}

	_, err := svc.RecordBatch(context.Background(), device, []domain.UsageEntry{e})
	require.NoError(t, err)
	require.Len(t, repo.rows, 1)
	row := repo.rows[0]
	assert.Equal(t, "web", row.AliasNamespace)
	assert.Equal(t, "example.com", *row.Domain)
	assert.Nil(t, row.AppPackage)
	assert.Nil(t, row.AppLabel)
}

func TestRecordBatch_DuplicatesSurfaced(t *testing.T) {
	repo := &stubRepo{result: domain.UsageInsertResult{Accepted: 1, Duplicates: 2}}
	svc := NewService(&stubResolver{}, stubBlocklist{}, repo, zerolog.Nop())
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	result, err := svc.RecordBatch(context.Background(), androidDevice(), []domain.UsageEntry{
		entry("a", start, 10),
		entry("a", start, 10),
		entry("a", start, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 2, result.Duplicates)
}
