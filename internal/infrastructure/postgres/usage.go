package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DexBinion/nuscape-backend/internal/domain"
)

// UpsertUsageLogs writes raw intervals on the natural key
// (device_id, app_package, start, end). A conflicting row is refreshed in
// place and reported as a duplicate so retried client batches converge.
func (s *Store) UpsertUsageLogs(ctx context.Context, rows []domain.UsageRow) (domain.UsageInsertResult, error) {
	var result domain.UsageInsertResult
	if len(rows) == 0 {
		return result, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, row := range rows {
		var inserted bool
		err := tx.QueryRow(ctx, `
			INSERT INTO usage_logs
				(device_id, app_id, app_name, app_package, app_label,
				 alias_namespace, alias_ident, domain, "start", "end", duration)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (device_id, COALESCE(app_package, ''), "start", "end") DO UPDATE SET
				app_id = EXCLUDED.app_id,
				app_name = EXCLUDED.app_name,
				app_label = EXCLUDED.app_label,
				alias_namespace = EXCLUDED.alias_namespace,
				alias_ident = EXCLUDED.alias_ident,
				domain = EXCLUDED.domain,
				duration = EXCLUDED.duration
			RETURNING (xmax = 0) AS inserted
		`, row.DeviceID, row.AppID, row.AppName, row.AppPackage, row.AppLabel,
			row.AliasNamespace, row.AliasIdent, row.Domain, row.Start, row.End, row.Duration,
		).Scan(&inserted)
		if err != nil {
			return domain.UsageInsertResult{}, err
		}
		if inserted {
			result.Accepted++
		} else {
			result.Duplicates++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.UsageInsertResult{}, err
	}
	return result, nil
}

// InsertViolation records a blocked-app hit and stages a policy.violation
// event in the same transaction.
func (s *Store) InsertViolation(ctx context.Context, v domain.PolicyViolation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO policy_violations
			(device_id, app_id, violation_type, app_name, app_package, domain, violation_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.DeviceID, v.AppID, v.ViolationType, v.AppName, v.AppPackage, v.Domain, v.OccurredAt)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"device_id":      v.DeviceID.String(),
		"app_id":         v.AppID,
		"violation_type": v.ViolationType,
		"app_name":       v.AppName,
		"app_package":    v.AppPackage,
		"domain":         v.Domain,
		"occurred_at":    v.OccurredAt,
	}
	if err := enqueueOutbox(ctx, tx, "policy.violation", payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListPromotable returns raw intervals recorded within (since, until],
// shaped for the rollup promoter.
func (s *Store) ListPromotable(ctx context.Context, since, until time.Time) ([]domain.PromotableSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.account_id, u.device_id,
		       COALESCE(u.app_package, u.alias_ident, u.app_name) AS package,
		       u."start", u.duration
		FROM usage_logs u
		JOIN devices d ON d.id = u.device_id
		WHERE u.created_at > $1 AND u.created_at <= $2
		ORDER BY u.created_at ASC
	`, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PromotableSession
	for rows.Next() {
		var p domain.PromotableSession
		if err := rows.Scan(&p.AccountID, &p.DeviceID, &p.Package, &p.Start, &p.Duration); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetDeviceByID(ctx context.Context, id uuid.UUID) (domain.Device, error) {
	var d domain.Device
	err := s.pool.QueryRow(ctx, `
		SELECT id, platform, name, device_uid, last_seen_at, created_at
		FROM devices
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Platform, &d.Name, &d.DeviceUID, &d.LastSeenAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Device{}, domain.ErrDeviceNotFound
	}
	if err != nil {
		return domain.Device{}, err
	}
	return d, nil
}

func (s *Store) TouchDeviceLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE devices SET last_seen_at = NOW() WHERE id = $1`, id)
	return err
}

// ReplaceBlocklist persists the full blocklist, replacing the previous
// contents in one transaction.
func (s *Store) ReplaceBlocklist(ctx context.Context, appIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM blocked_apps`); err != nil {
		return err
	}
	for _, id := range appIDs {
		if id == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO blocked_apps (app_id) VALUES ($1)
			ON CONFLICT (app_id) DO NOTHING
		`, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) LoadBlocklist(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT app_id FROM blocked_apps`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
