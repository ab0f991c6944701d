package rollup

import (
	"context"
	"time"

	"github.com/DexBinion/nuscape-backend/internal/domain"
)

// The three fixed bucket widths, in minutes. Each maps to its own table
// (usage_1m, usage_5m, usage_60m).
var Resolutions = []int{1, 5, 60}

// TableFor returns the rollup table backing a bucket width.
func TableFor(minutes int) string {
	switch minutes {
	case 1:
		return "usage_1m"
	case 5:
		return "usage_5m"
	default:
		return "usage_60m"
	}
}

// BucketStart floors a timestamp to the bucket boundary at the given
// width, aligned to the top of the hour/day in UTC rather than to the
// fact's own timestamp.
func BucketStart(ts time.Time, minutes int) time.Time {
	return ts.UTC().Truncate(time.Duration(minutes) * time.Minute)
}

type BucketKey struct {
	BucketStart time.Time
	Kind        string
	Key         string
}

type BucketAgg struct {
	Secs   float64
	Count  int
	LastTS time.Time
}

// Plan holds the merged upsert rows per resolution: one entry per
// distinct (bucket_start, kind, key), regardless of how many raw facts
// landed in that bucket.
type Plan map[int]map[BucketKey]BucketAgg

// BuildPlan merges facts in memory across all three resolutions.
func BuildPlan(facts []domain.Fact) Plan {
	plan := make(Plan, len(Resolutions))
	for _, res := range Resolutions {
		plan[res] = make(map[BucketKey]BucketAgg)
	}

	for _, f := range facts {
		ts := f.TS.UTC()
		for _, res := range Resolutions {
			k := BucketKey{BucketStart: BucketStart(ts, res), Kind: f.Kind, Key: f.Key}
			agg := plan[res][k]
			agg.Secs += f.Secs
			agg.Count++
			if ts.After(agg.LastTS) {
				agg.LastTS = ts
			}
			plan[res][k] = agg
		}
	}
	return plan
}

// BucketStore persists a merged plan. The upsert must be additive: on
// conflict, deltas are added to the existing totals and last_ts takes
// the maximum. That makes concurrent and out-of-order writes safe, but
// NOT idempotent per fact; no-double-counting rests on upstream dedup.
type BucketStore interface {
	UpsertBuckets(ctx context.Context, accountID, deviceID string, plan Plan) error
}

// Writer accumulates facts for one device into all three bucket tables.
type Writer struct {
	store BucketStore
}

func NewWriter(store BucketStore) *Writer {
	return &Writer{store: store}
}

var _ domain.RollupAccumulator = (*Writer)(nil)

func (w *Writer) Accumulate(ctx context.Context, accountID, deviceID string, facts []domain.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	return w.store.UpsertBuckets(ctx, accountID, deviceID, BuildPlan(facts))
}
