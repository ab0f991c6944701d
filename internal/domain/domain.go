package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrInvalidInterval = errors.New("interval end must be after start")

	// ErrDedupUnavailable marks a dedup backend that cannot answer; the
	// failover wrapper translates it into degraded-mode behavior.
	ErrDedupUnavailable = errors.New("dedup store unavailable")
)

// Fact is one validated, timestamped usage observation heading into the
// rollup tables.
type Fact struct {
	TS   time.Time
	Kind string
	Key  string
	Secs float64
}

// QueueEvent is one element of an EventBatch as carried on the wire.
type QueueEvent struct {
	EventID string  `json:"event_id"`
	TS      int64   `json:"ts"` // epoch ms
	Kind    string  `json:"kind"`
	Key     string  `json:"key"`
	Secs    float64 `json:"secs"`
}

// EventBatch is the decoded form of one queue entry. The stream carries
// it as flat fields with the event list JSON-encoded in events_json.
type EventBatch struct {
	AccountID     string
	DeviceID      string
	Events        []QueueEvent
	SequenceStart int
	ClientVersion string
}

// UsageEntry is one raw interval as submitted on the synchronous path.
type UsageEntry struct {
	AppName  string    `json:"app_name"`
	Domain   string    `json:"domain,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration int       `json:"duration"`
}

// UsageRow is a fully resolved interval ready for the natural-key upsert.
type UsageRow struct {
	DeviceID       uuid.UUID
	AppID          *string
	AppName        string
	AppPackage     *string
	AppLabel       *string
	AliasNamespace string
	AliasIdent     string
	Domain         *string
	Start          time.Time
	End            time.Time
	Duration       int
}

type UsageInsertResult struct {
	Accepted   int
	Duplicates int
}

// ItemError reports a per-entry rejection on the synchronous path.
type ItemError struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
}

type Device struct {
	ID         uuid.UUID
	Platform   string
	Name       string
	DeviceUID  string
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

type PolicyViolation struct {
	DeviceID      uuid.UUID
	AppID         *string
	ViolationType string
	AppName       *string
	AppPackage    *string
	Domain        *string
	OccurredAt    time.Time
}

// UsageIntervalRow is a clipped raw interval feeding reconstruction.
type UsageIntervalRow struct {
	DeviceID   uuid.UUID
	AppID      *string
	AppPackage *string
	AppName    *string
	Start      time.Time
	End        time.Time
}

// DeviceSession is one merged per-device, per-app session for a day.
type DeviceSession struct {
	DeviceID        uuid.UUID
	AppID           *string
	AppPackage      *string
	AppName         *string
	Start           time.Time
	End             time.Time
	DurationSeconds int
	FragmentCount   int
}

// AttentionSession is a device-agnostic merged engagement interval.
type AttentionSession struct {
	Start           time.Time
	End             time.Time
	DurationSeconds int
	DeviceCount     int
	DeviceIDs       []string
}

type DeviceTotal struct {
	DeviceID string `json:"device_id"`
	Seconds  int    `json:"seconds"`
}

type AppTotal struct {
	AppPackage *string `json:"app_package"`
	AppID      *string `json:"app_id"`
	AppName    *string `json:"app_name"`
	Seconds    int     `json:"seconds"`
}

// RollupRunResult summarizes one daily reconstruction run.
type RollupRunResult struct {
	SessionDate       string `json:"session_date"`
	DeviceSessions    int    `json:"device_sessions"`
	AttentionSessions int    `json:"attention_sessions"`
	TotalAttentionSec int    `json:"total_attention_sec"`
	DeviceCount       int    `json:"device_count"`
	TopAppsCount      int    `json:"top_apps_count"`
}

// PromotableSession is one freshly recorded raw interval picked up by the
// watermark promoter.
type PromotableSession struct {
	AccountID string
	DeviceID  uuid.UUID
	Package   string
	Start     time.Time
	Duration  int
}

// AppResolution is the canonical-identity answer for one alias.
type AppResolution struct {
	AppID        string
	DisplayName  string
	AliasIdent   string
	CreatedApp   bool
	CreatedAlias bool
}

// Deduper answers whether an event id has been seen for a device within
// the retention window, recording it as seen when it has not.
type Deduper interface {
	IsDuplicate(ctx context.Context, deviceID, eventID string) (bool, error)
}

// RollupAccumulator folds facts into the multi-resolution bucket tables.
type RollupAccumulator interface {
	Accumulate(ctx context.Context, accountID, deviceID string, facts []Fact) error
}

// AppResolver maps a (namespace, ident) alias to a canonical app,
// creating directory entries on first sight.
type AppResolver interface {
	Resolve(ctx context.Context, namespace, ident, displayName string) (AppResolution, error)
}

// BlocklistProvider exposes the currently blocked canonical app ids.
type BlocklistProvider interface {
	BlockedAppIDs() map[string]struct{}
}

// UsageLogRepository persists raw intervals and violation records.
type UsageLogRepository interface {
	UpsertUsageLogs(ctx context.Context, rows []UsageRow) (UsageInsertResult, error)
	InsertViolation(ctx context.Context, v PolicyViolation) error
}

// RollupRunner executes the daily reconstruction for one scope.
type RollupRunner interface {
	RunDailyRollup(ctx context.Context, accountID string, date time.Time, gapSeconds int) (RollupRunResult, error)
}

// WatermarkStore persists the promoter's last-processed timestamp.
type WatermarkStore interface {
	Watermark(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, epochMS int64) error
}
