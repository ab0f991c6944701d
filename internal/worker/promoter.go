package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/DexBinion/nuscape-backend/internal/domain"
	"github.com/DexBinion/nuscape-backend/internal/metrics"
)

// SessionSource lists raw intervals recorded after a given point in time.
type SessionSource interface {
	ListPromotable(ctx context.Context, since, until time.Time) ([]domain.PromotableSession, error)
}

// Promoter periodically lifts freshly recorded raw intervals into the
// rollup tables. It shares no state with the stream consumer; the only
// coordination point is the persisted watermark, which is advanced even
// on an empty scan so the window never re-expands.
type Promoter struct {
	source    SessionSource
	rollups   domain.RollupAccumulator
	watermark domain.WatermarkStore
	interval  time.Duration
	log       zerolog.Logger

	now func() time.Time
}

func NewPromoter(source SessionSource, rollups domain.RollupAccumulator, watermark domain.WatermarkStore, interval time.Duration, log zerolog.Logger) *Promoter {
	return &Promoter{
		source:    source,
		rollups:   rollups,
		watermark: watermark,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Run ticks until the context is cancelled. A failed cycle is logged and
// retried on the next tick; the watermark only moves after success.
func (p *Promoter) Run(ctx context.Context) {
	p.log.Info().Dur("interval", p.interval).Msg("session promoter started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.promoteOnce(ctx); err != nil {
				p.log.Error().Err(err).Msg("promotion cycle failed")
			}
		}
	}
}

func (p *Promoter) promoteOnce(ctx context.Context) error {
	wm, err := p.watermark.Watermark(ctx)
	if err != nil {
		return err
	}

	// Absent watermark means epoch zero: every row recorded so far is
	// scanned once, then the watermark keeps the window bounded.
	until := p.now().UTC()
	since := time.UnixMilli(wm).UTC()

	sessions, err := p.source.ListPromotable(ctx, since, until)
	if err != nil {
		return err
	}

	if len(sessions) > 0 {
		if err := p.accumulate(ctx, sessions); err != nil {
			return err
		}
		metrics.SessionsPromoted.Add(float64(len(sessions)))
		p.log.Debug().Int("sessions", len(sessions)).Time("until", until).Msg("promoted sessions")
	}

	return p.watermark.SetWatermark(ctx, until.UnixMilli())
}

type promoteScope struct {
	account string
	device  string
}

func (p *Promoter) accumulate(ctx context.Context, sessions []domain.PromotableSession) error {
	grouped := make(map[promoteScope][]domain.Fact)
	for _, s := range sessions {
		scope := promoteScope{account: s.AccountID, device: s.DeviceID.String()}
		grouped[scope] = append(grouped[scope], domain.Fact{
			TS:   s.Start,
			Kind: "app_session",
			Key:  s.Package,
			Secs: float64(s.Duration),
		})
	}
	for scope, facts := range grouped {
		if err := p.rollups.Accumulate(ctx, scope.account, scope.device, facts); err != nil {
			return err
		}
	}
	return nil
}
