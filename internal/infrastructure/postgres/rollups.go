package postgres

import (
	"context"
	"fmt"

	"github.com/DexBinion/nuscape-backend/internal/rollup"
)

// UpsertBuckets applies one accumulation plan across the resolution
// tables in a single transaction. Conflicting buckets add their sums and
// counts and keep the newest last_ts, so replays and out-of-order
// batches stay additive.
func (s *Store) UpsertBuckets(ctx context.Context, accountID, deviceID string, plan rollup.Plan) error {
	if len(plan) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, minutes := range rollup.Resolutions {
		buckets := plan[minutes]
		if len(buckets) == 0 {
			continue
		}
		table := rollup.TableFor(minutes)
		stmt := fmt.Sprintf(`
			INSERT INTO %s (account_id, device_id, bucket_start, kind, key, secs_sum, events_count, last_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (account_id, device_id, bucket_start, kind, key) DO UPDATE SET
				secs_sum = %s.secs_sum + EXCLUDED.secs_sum,
				events_count = %s.events_count + EXCLUDED.events_count,
				last_ts = GREATEST(%s.last_ts, EXCLUDED.last_ts)
		`, table, table, table, table)

		for key, agg := range buckets {
			if _, err := tx.Exec(ctx, stmt,
				accountID, deviceID, key.BucketStart, key.Kind, key.Key,
				agg.Secs, agg.Count, agg.LastTS,
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
