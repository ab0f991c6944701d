package postgres

import "context"

// EnsureSchema creates the tables the service needs if they are missing.
// Every statement is idempotent so repeated startups are safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY,
			account_id TEXT NOT NULL DEFAULT '',
			device_uid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			last_seen_at TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE TABLE IF NOT EXISTS apps (
			app_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			category TEXT NULL,
			icon_url TEXT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE TABLE IF NOT EXISTS app_aliases (
			id BIGSERIAL PRIMARY KEY,
			app_id TEXT NOT NULL REFERENCES apps(app_id),
			namespace TEXT NOT NULL,
			ident TEXT NOT NULL,
			match_kind TEXT NOT NULL DEFAULT 'equals',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (namespace, ident)
		);`,

		`CREATE TABLE IF NOT EXISTS usage_logs (
			id BIGSERIAL PRIMARY KEY,
			device_id UUID NOT NULL REFERENCES devices(id),
			app_id TEXT NULL,
			app_name TEXT NOT NULL,
			app_package TEXT NULL,
			app_label TEXT NULL,
			alias_namespace TEXT NOT NULL DEFAULT '',
			alias_ident TEXT NOT NULL DEFAULT '',
			domain TEXT NULL,
			"start" TIMESTAMPTZ NOT NULL,
			"end" TIMESTAMPTZ NOT NULL,
			duration INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS usage_logs_natural_key
			ON usage_logs (device_id, COALESCE(app_package, ''), "start", "end");`,
		`CREATE INDEX IF NOT EXISTS usage_logs_created_at_idx ON usage_logs (created_at);`,
		`CREATE INDEX IF NOT EXISTS usage_logs_device_start_idx ON usage_logs (device_id, "start");`,

		`CREATE TABLE IF NOT EXISTS usage_1m (
			account_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			bucket_start TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			secs_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			events_count BIGINT NOT NULL DEFAULT 0,
			last_ts TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account_id, device_id, bucket_start, kind, key)
		);`,
		`CREATE TABLE IF NOT EXISTS usage_5m (
			account_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			bucket_start TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			secs_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			events_count BIGINT NOT NULL DEFAULT 0,
			last_ts TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account_id, device_id, bucket_start, kind, key)
		);`,
		`CREATE TABLE IF NOT EXISTS usage_60m (
			account_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			bucket_start TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			secs_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			events_count BIGINT NOT NULL DEFAULT 0,
			last_ts TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account_id, device_id, bucket_start, kind, key)
		);`,

		`CREATE TABLE IF NOT EXISTS device_sessions_daily (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL,
			session_date DATE NOT NULL,
			device_id UUID NOT NULL,
			app_id TEXT NULL,
			app_package TEXT NULL,
			app_name TEXT NULL,
			session_start TIMESTAMPTZ NOT NULL,
			session_end TIMESTAMPTZ NOT NULL,
			duration_seconds INTEGER NOT NULL,
			fragment_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS device_sessions_daily_date_idx
			ON device_sessions_daily (account_id, session_date);`,

		`CREATE TABLE IF NOT EXISTS attention_sessions_daily (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL,
			session_date DATE NOT NULL,
			session_start TIMESTAMPTZ NOT NULL,
			session_end TIMESTAMPTZ NOT NULL,
			duration_seconds INTEGER NOT NULL,
			device_count INTEGER NOT NULL,
			device_ids JSONB NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS attention_sessions_daily_date_idx
			ON attention_sessions_daily (account_id, session_date);`,

		`CREATE TABLE IF NOT EXISTS usage_daily_totals (
			account_id TEXT NOT NULL,
			session_date DATE NOT NULL,
			total_attention_sec INTEGER NOT NULL,
			device_breakdown JSONB NOT NULL DEFAULT '[]',
			top_apps JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, session_date)
		);`,

		`CREATE TABLE IF NOT EXISTS policy_violations (
			id BIGSERIAL PRIMARY KEY,
			device_id UUID NOT NULL,
			app_id TEXT NULL,
			violation_type TEXT NOT NULL,
			app_name TEXT NULL,
			app_package TEXT NULL,
			domain TEXT NULL,
			violation_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved BOOLEAN NOT NULL DEFAULT FALSE
		);`,

		`CREATE TABLE IF NOT EXISTS blocked_apps (
			app_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE TABLE IF NOT EXISTS outbox (
			id UUID PRIMARY KEY,
			message_id UUID NOT NULL,
			trace_id TEXT NOT NULL DEFAULT '',
			routing_key TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			next_retry_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS outbox_pending_idx
			ON outbox (next_retry_at) WHERE status = 'pending';`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
