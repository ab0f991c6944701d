package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DexBinion/nuscape-backend/internal/domain"
	"github.com/DexBinion/nuscape-backend/internal/metrics"
	"github.com/DexBinion/nuscape-backend/internal/sessions"
)

// RunDailyRollup rebuilds the session tables for one account-day from
// the raw intervals. The whole run is one transaction guarded by an
// advisory lock on (account, date): a concurrent run for the same day
// blocks, then regenerates over the winner's output, so the last writer
// leaves a consistent day. Delete and regenerate commit together.
func (s *Store) RunDailyRollup(ctx context.Context, accountID string, date time.Time, gapSeconds int) (domain.RollupRunResult, error) {
	if gapSeconds <= 0 {
		return domain.RollupRunResult{}, domain.ErrInvalidInterval
	}
	result, err := s.runDailyRollup(ctx, accountID, date, gapSeconds)
	if err != nil {
		metrics.RollupRuns.WithLabelValues("error").Inc()
		return domain.RollupRunResult{}, err
	}
	metrics.RollupRuns.WithLabelValues("ok").Inc()
	return result, nil
}

func (s *Store) runDailyRollup(ctx context.Context, accountID string, date time.Time, gapSeconds int) (domain.RollupRunResult, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	sessionDate := dayStart.Format("2006-01-02")
	gap := time.Duration(gapSeconds) * time.Second

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.RollupRunResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtext($1))
	`, accountID+"|"+sessionDate); err != nil {
		return domain.RollupRunResult{}, err
	}

	rows, err := tx.Query(ctx, `
		SELECT u.device_id, u.app_id, u.app_package, u.app_name, u."start", u."end"
		FROM usage_logs u
		JOIN devices d ON d.id = u.device_id
		WHERE d.account_id = $1
		  AND u."start" < $3 AND u."end" > $2
		  AND u.duration > 0
	`, accountID, dayStart, dayEnd)
	if err != nil {
		return domain.RollupRunResult{}, err
	}

	var intervals []domain.UsageIntervalRow
	for rows.Next() {
		var r domain.UsageIntervalRow
		if err := rows.Scan(&r.DeviceID, &r.AppID, &r.AppPackage, &r.AppName, &r.Start, &r.End); err != nil {
			rows.Close()
			return domain.RollupRunResult{}, err
		}
		intervals = append(intervals, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.RollupRunResult{}, err
	}

	clipped := sessions.ClipToDay(intervals, dayStart, dayEnd)
	deviceSessions := sessions.BuildDeviceSessions(clipped, gap)
	attention := sessions.BuildAttentionSessions(deviceSessions, gap)
	totals := sessions.BuildDailyTotals(deviceSessions, attention)

	for _, table := range []string{"device_sessions_daily", "attention_sessions_daily"} {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE account_id = $1 AND session_date = $2`,
			accountID, dayStart,
		); err != nil {
			return domain.RollupRunResult{}, err
		}
	}

	for _, ds := range deviceSessions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO device_sessions_daily
				(account_id, session_date, device_id, app_id, app_package, app_name,
				 session_start, session_end, duration_seconds, fragment_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, accountID, dayStart, ds.DeviceID, ds.AppID, ds.AppPackage, ds.AppName,
			ds.Start, ds.End, ds.DurationSeconds, ds.FragmentCount,
		); err != nil {
			return domain.RollupRunResult{}, err
		}
	}

	for _, as := range attention {
		deviceIDs, err := json.Marshal(as.DeviceIDs)
		if err != nil {
			return domain.RollupRunResult{}, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO attention_sessions_daily
				(account_id, session_date, session_start, session_end,
				 duration_seconds, device_count, device_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, accountID, dayStart, as.Start, as.End,
			as.DurationSeconds, as.DeviceCount, deviceIDs,
		); err != nil {
			return domain.RollupRunResult{}, err
		}
	}

	breakdown, err := json.Marshal(totals.DeviceBreakdown)
	if err != nil {
		return domain.RollupRunResult{}, err
	}
	topApps, err := json.Marshal(totals.TopApps)
	if err != nil {
		return domain.RollupRunResult{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_daily_totals
			(account_id, session_date, total_attention_sec, device_breakdown, top_apps, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id, session_date) DO UPDATE SET
			total_attention_sec = EXCLUDED.total_attention_sec,
			device_breakdown = EXCLUDED.device_breakdown,
			top_apps = EXCLUDED.top_apps,
			updated_at = NOW()
	`, accountID, dayStart, totals.TotalAttentionSec, breakdown, topApps); err != nil {
		return domain.RollupRunResult{}, err
	}

	result := domain.RollupRunResult{
		SessionDate:       sessionDate,
		DeviceSessions:    len(deviceSessions),
		AttentionSessions: len(attention),
		TotalAttentionSec: totals.TotalAttentionSec,
		DeviceCount:       len(totals.DeviceBreakdown),
		TopAppsCount:      len(totals.TopApps),
	}

	if err := enqueueOutbox(ctx, tx, "usage.rollup_completed", map[string]any{
		"account_id":          accountID,
		"session_date":        sessionDate,
		"device_sessions":     result.DeviceSessions,
		"attention_sessions":  result.AttentionSessions,
		"total_attention_sec": result.TotalAttentionSec,
	}); err != nil {
		return domain.RollupRunResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.RollupRunResult{}, err
	}
	return result, nil
}
