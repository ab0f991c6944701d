package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/DexBinion/nuscape-backend/internal/apps"
	"github.com/DexBinion/nuscape-backend/internal/domain"
)

// Resolve maps a (namespace, ident) alias onto a canonical app, creating
// the app and alias on first sight. Concurrent first-sight resolutions
// of the same alias race on the unique index; the loser re-reads the
// winner's row.
func (s *Store) Resolve(ctx context.Context, namespace, ident, displayName string) (domain.AppResolution, error) {
	ident = apps.NormalizeIdent(namespace, ident)
	if ident == "" {
		ident = "unknown-" + namespace
	}

	if res, err := s.lookupAlias(ctx, namespace, ident); err == nil {
		return res, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.AppResolution{}, err
	}

	if displayName == "" {
		displayName = apps.FallbackDisplayName(namespace, ident)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.AppResolution{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appID, err := ensureApp(ctx, tx, displayName)
	if err != nil {
		return domain.AppResolution{}, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO app_aliases (app_id, namespace, ident, match_kind)
		VALUES ($1, $2, $3, 'equals')
		ON CONFLICT (namespace, ident) DO NOTHING
	`, appID, namespace, ident)
	if err != nil {
		return domain.AppResolution{}, err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race: drop our app row and use the winner's alias.
		_ = tx.Rollback(ctx)
		return s.lookupAlias(ctx, namespace, ident)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AppResolution{}, err
	}

	return domain.AppResolution{
		AppID:        appID,
		DisplayName:  displayName,
		AliasIdent:   ident,
		CreatedApp:   true,
		CreatedAlias: true,
	}, nil
}

func (s *Store) lookupAlias(ctx context.Context, namespace, ident string) (domain.AppResolution, error) {
	var res domain.AppResolution
	err := s.pool.QueryRow(ctx, `
		SELECT a.app_id, a.display_name, al.ident
		FROM app_aliases al
		JOIN apps a ON a.app_id = al.app_id
		WHERE al.namespace = $1 AND al.ident = $2
	`, namespace, ident).Scan(&res.AppID, &res.DisplayName, &res.AliasIdent)
	if err != nil {
		return domain.AppResolution{}, err
	}
	return res, nil
}

const maxAppIDLen = 128

// ensureApp inserts the canonical app row under a unique slug, appending
// a counter when the slug is taken. Claiming the slug with
// ON CONFLICT DO NOTHING instead of probing first keeps two concurrent
// resolves of the same display name from colliding on the primary key.
func ensureApp(ctx context.Context, tx pgx.Tx, displayName string) (string, error) {
	base := apps.Slugify(displayName)
	if base == "" {
		base = "app"
	}
	if len(base) > maxAppIDLen {
		base = base[:maxAppIDLen]
	}

	candidate := base
	for idx := 1; ; idx++ {
		tag, err := tx.Exec(ctx, `
			INSERT INTO apps (app_id, display_name) VALUES ($1, $2)
			ON CONFLICT (app_id) DO NOTHING
		`, candidate, displayName)
		if err != nil {
			return "", err
		}
		if tag.RowsAffected() == 1 {
			return candidate, nil
		}
		suffix := fmt.Sprintf("-%d", idx+1)
		candidate = base
		if len(candidate)+len(suffix) > maxAppIDLen {
			candidate = candidate[:maxAppIDLen-len(suffix)]
		}
		candidate += suffix
	}
}
