package rest

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/DexBinion/nuscape-backend/internal/audit"
	"github.com/DexBinion/nuscape-backend/internal/domain"
	"github.com/DexBinion/nuscape-backend/internal/ingest"
	appCtx "github.com/DexBinion/nuscape-backend/internal/pkg/context"
	"github.com/DexBinion/nuscape-backend/internal/policy"
	"github.com/DexBinion/nuscape-backend/internal/transport/rest/response"
)

// Enqueuer appends event batches to the ingest stream.
type Enqueuer interface {
	Enqueue(ctx context.Context, batch domain.EventBatch) (string, error)
}

// DeviceStore is the device lookup surface the handlers need.
type DeviceStore interface {
	GetDeviceByID(ctx context.Context, id uuid.UUID) (domain.Device, error)
	TouchDeviceLastSeen(ctx context.Context, id uuid.UUID) error
}

// ControlsStore persists the blocklist behind the in-memory snapshot.
type ControlsStore interface {
	ReplaceBlocklist(ctx context.Context, appIDs []string) error
}

type Handler struct {
	ingest     *ingest.Service
	producer   Enqueuer
	rollups    domain.RollupRunner
	devices    DeviceStore
	controls   ControlsStore
	policy     *policy.Store
	audit      *audit.Logger
	gapSeconds int
}

type HandlerDeps struct {
	Ingest     *ingest.Service
	Producer   Enqueuer
	Rollups    domain.RollupRunner
	Devices    DeviceStore
	Controls   ControlsStore
	Policy     *policy.Store
	Audit      *audit.Logger
	GapSeconds int
}

func NewHandler(d HandlerDeps) *Handler {
	return &Handler{
		ingest:     d.Ingest,
		producer:   d.Producer,
		rollups:    d.Rollups,
		devices:    d.Devices,
		controls:   d.Controls,
		policy:     d.Policy,
		audit:      d.Audit,
		gapSeconds: d.GapSeconds,
	}
}

// RecordUsage is the synchronous ingest path: resolve, intercept, upsert.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Entries []domain.UsageEntry `json:"entries"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if len(req.Entries) == 0 {
		fail(w, r, http.StatusBadRequest, "request.invalid", "entries must not be empty", nil)
		return
	}

	device, err := h.devices.GetDeviceByID(r.Context(), auth.DeviceID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	result, err := h.ingest.RecordBatch(r.Context(), device, req.Entries)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	_ = h.devices.TouchDeviceLastSeen(r.Context(), device.ID)
	h.audit.UsageBatchRecorded(r.Context(), device.ID, result.Accepted, result.Duplicates, result.Blocked)

	response.Data(w, http.StatusOK, result)
}

// EnqueueEvents accepts a device event batch onto the durable stream and
// returns immediately; the processor folds it into the rollups.
func (h *Handler) EnqueueEvents(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Events        []domain.QueueEvent `json:"events"`
		SequenceStart int                 `json:"sequence_start"`
		ClientVersion string              `json:"client_version"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if len(req.Events) == 0 {
		fail(w, r, http.StatusBadRequest, "request.invalid", "events must not be empty", nil)
		return
	}

	entryID, err := h.producer.Enqueue(r.Context(), domain.EventBatch{
		AccountID:     auth.Account,
		DeviceID:      auth.DeviceID.String(),
		Events:        req.Events,
		SequenceStart: req.SequenceStart,
		ClientVersion: req.ClientVersion,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}

	h.audit.EventsEnqueued(r.Context(), auth.DeviceID.String(), len(req.Events), entryID)

	response.Data(w, http.StatusAccepted, map[string]any{
		"entry_id": entryID,
		"queued":   len(req.Events),
	})
}

// RunRollup triggers the daily session reconstruction for one date.
func (h *Handler) RunRollup(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Date       string `json:"date"`
		GapSeconds int    `json:"gap_seconds"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	// Default to the previous UTC day: that is the most recent complete
	// day and the one the nightly trigger regenerates.
	date := time.Now().UTC().AddDate(0, 0, -1)
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid date", map[string]string{
				"date": "must be YYYY-MM-DD",
			})
			return
		}
		date = parsed
	}

	gap := h.gapSeconds
	if req.GapSeconds != 0 {
		gap = req.GapSeconds
	}

	result, err := h.rollups.RunDailyRollup(r.Context(), auth.Account, date, gap)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	h.audit.RollupCompleted(r.Context(), auth.Account, result.SessionDate,
		result.DeviceSessions, result.AttentionSessions, result.TotalAttentionSec)

	response.Data(w, http.StatusOK, result)
}

// GetControls returns the active blocklist snapshot.
func (h *Handler) GetControls(w http.ResponseWriter, r *http.Request) {
	blocked := h.policy.BlockedAppIDs()
	ids := make([]string, 0, len(blocked))
	for id := range blocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	response.Data(w, http.StatusOK, map[string]any{
		"blocked_app_ids": ids,
	})
}

// PutControls replaces the blocklist, persisting it and swapping the
// in-memory snapshot only after the write commits.
func (h *Handler) PutControls(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BlockedAppIDs []string `json:"blocked_app_ids"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	if err := h.controls.ReplaceBlocklist(r.Context(), req.BlockedAppIDs); err != nil {
		handleErr(w, r, err)
		return
	}
	h.policy.Replace(req.BlockedAppIDs)
	h.audit.BlocklistReplaced(r.Context(), len(req.BlockedAppIDs))

	h.GetControls(w, r)
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		fail(w, r, http.StatusNotFound, "device.not_found", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrInvalidInterval):
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
		return
	default:
		// Do not leak internal details by default.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
