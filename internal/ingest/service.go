package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/DexBinion/nuscape-backend/internal/apps"
	"github.com/DexBinion/nuscape-backend/internal/domain"
	"github.com/DexBinion/nuscape-backend/internal/metrics"
)

// BatchResult summarizes one synchronous usage batch.
type BatchResult struct {
	Accepted   int                `json:"accepted"`
	Duplicates int                `json:"duplicates"`
	Blocked    int                `json:"blocked"`
	Errors     []domain.ItemError `json:"errors,omitempty"`
}

// Service is the synchronous usage-recording path: resolve each entry to
// a canonical app, intercept blocked apps, then upsert the rest on the
// natural key so client retries stay idempotent.
type Service struct {
	resolver  domain.AppResolver
	blocklist domain.BlocklistProvider
	repo      domain.UsageLogRepository
	log       zerolog.Logger

	now func() time.Time
}

func NewService(resolver domain.AppResolver, blocklist domain.BlocklistProvider, repo domain.UsageLogRepository, log zerolog.Logger) *Service {
	return &Service{
		resolver:  resolver,
		blocklist: blocklist,
		repo:      repo,
		log:       log,
		now:       time.Now,
	}
}

// RecordBatch processes one device batch. Invalid entries are reported
// per index without failing the batch; only the final upsert can fail it.
func (s *Service) RecordBatch(ctx context.Context, device domain.Device, entries []domain.UsageEntry) (BatchResult, error) {
	var result BatchResult
	platform := strings.ToLower(strings.TrimSpace(device.Platform))
	blocked := s.blocklist.BlockedAppIDs()

	rows := make([]domain.UsageRow, 0, len(entries))
	for i, entry := range entries {
		if !entry.End.After(entry.Start) {
			result.Errors = append(result.Errors, domain.ItemError{Index: i, Code: "invalid_interval"})
			continue
		}

		namespace, rawIdent, displayName := apps.InferAliasContext(platform, entry.AppName, entry.Domain)
		res, err := s.resolver.Resolve(ctx, namespace, rawIdent, displayName)
		if err != nil {
			s.log.Error().Err(err).Str("device_id", device.ID.String()).Str("ident", rawIdent).Msg("app resolution failed")
			result.Errors = append(result.Errors, domain.ItemError{Index: i, Code: "resolve_failed"})
			continue
		}

		var domainValue *string
		if entry.Domain != "" {
			d := strings.ToLower(strings.TrimSpace(entry.Domain))
			domainValue = &d
		}

		if _, isBlocked := blocked[res.AppID]; isBlocked {
			appID := res.AppID
			appName := res.DisplayName
			v := domain.PolicyViolation{
				DeviceID:      device.ID,
				AppID:         &appID,
				ViolationType: "blocked_app",
				AppName:       &appName,
				AppPackage:    androidPackage(namespace, entry.AppName),
				Domain:        domainValue,
				OccurredAt:    s.now().UTC(),
			}
			if err := s.repo.InsertViolation(ctx, v); err != nil {
				return result, err
			}
			metrics.PolicyViolations.Inc()
			result.Blocked++
			continue
		}

		duration := entry.Duration
		if duration <= 0 {
			duration = int(entry.End.Sub(entry.Start) / time.Second)
		}
		if duration < 1 {
			duration = 1
		}

		appID := res.AppID
		rows = append(rows, domain.UsageRow{
			DeviceID:       device.ID,
			AppID:          &appID,
			AppName:        res.DisplayName,
			AppPackage:     androidPackage(namespace, entry.AppName),
			AppLabel:       desktopLabel(namespace, entry.AppName),
			AliasNamespace: namespace,
			AliasIdent:     res.AliasIdent,
			Domain:         domainValue,
			Start:          entry.Start,
			End:            entry.End,
			Duration:       duration,
		})
	}

	if len(rows) > 0 {
		upserted, err := s.repo.UpsertUsageLogs(ctx, rows)
		if err != nil {
			return result, err
		}
		result.Accepted = upserted.Accepted
		result.Duplicates = upserted.Duplicates
		metrics.IngestAccepted.Add(float64(upserted.Accepted))
		metrics.IngestDuplicates.Add(float64(upserted.Duplicates))
	}

	return result, nil
}

func androidPackage(namespace, appName string) *string {
	if namespace != "android" || appName == "" {
		return nil
	}
	return &appName
}

func desktopLabel(namespace, appName string) *string {
	if namespace == "web" || namespace == "android" || appName == "" {
		return nil
	}
	return &appName
}
