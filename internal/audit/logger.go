package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appCtx "github.com/DexBinion/nuscape-backend/internal/pkg/context"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// UsageBatchRecorded logs the outcome of one synchronous usage batch
func (l *Logger) UsageBatchRecorded(ctx context.Context, deviceID uuid.UUID, accepted, duplicates, blocked int) {
	l.log.Info().
		Str("action", "usage_batch_recorded").
		Str("device_id", deviceID.String()).
		Int("accepted", accepted).
		Int("duplicates", duplicates).
		Int("blocked", blocked).
		Str("trace_id", getTraceID(ctx)).
		Msg("Usage batch recorded")
}

// EventsEnqueued logs a batch accepted onto the ingest stream
func (l *Logger) EventsEnqueued(ctx context.Context, deviceID string, count int, entryID string) {
	l.log.Info().
		Str("action", "events_enqueued").
		Str("device_id", deviceID).
		Int("events", count).
		Str("entry_id", entryID).
		Str("trace_id", getTraceID(ctx)).
		Msg("Event batch enqueued")
}

// PolicyViolation logs a blocked-app interception
func (l *Logger) PolicyViolation(ctx context.Context, deviceID uuid.UUID, appID string) {
	l.log.Warn().
		Str("action", "policy_violation").
		Str("device_id", deviceID.String()).
		Str("app_id", appID).
		Str("trace_id", getTraceID(ctx)).
		Msg("Blocked app intercepted")
}

// BlocklistReplaced logs a controls update
func (l *Logger) BlocklistReplaced(ctx context.Context, size int) {
	l.log.Info().
		Str("action", "blocklist_replaced").
		Int("size", size).
		Str("trace_id", getTraceID(ctx)).
		Msg("Blocklist replaced")
}

// RollupCompleted logs a finished daily reconstruction
func (l *Logger) RollupCompleted(ctx context.Context, accountID, sessionDate string, deviceSessions, attentionSessions, totalSec int) {
	l.log.Info().
		Str("action", "rollup_completed").
		Str("account_id", accountID).
		Str("session_date", sessionDate).
		Int("device_sessions", deviceSessions).
		Int("attention_sessions", attentionSessions).
		Int("total_attention_sec", totalSec).
		Str("trace_id", getTraceID(ctx)).
		Msg("Daily rollup completed")
}

// getTraceID extracts the request ID from context if available
func getTraceID(ctx context.Context) string {
	return appCtx.GetRequestID(ctx)
}
