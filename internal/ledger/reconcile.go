package ledger

import (
	"context"
	"log/slog"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// Synthesizer builds a fresh ledger entry for an exchange position the
// ledger has no usable state for.
type Synthesizer func(ctx context.Context, ep domain.ExchangePosition) (domain.Position, error)

// ReconcileResult lists what Reconcile changed, by symbol.
type ReconcileResult struct {
	Restored    []string
	Synthesized []string
	Resized     []string
	Purged      []string
}

// Reconcile aligns the ledger with the exchange's live positions. live must
// hold only positions of tradable size in the agent's direction.
//
// An exchange position missing from the ledger is restored from the state
// store when a saved entry with the same direction exists, otherwise synth
// builds one. A ledger entry with no live position is purged. A live
// position whose size differs from the ledger takes the exchange size.
func (l *Ledger) Reconcile(ctx context.Context, live []domain.ExchangePosition, synth Synthesizer) ReconcileResult {
	var res ReconcileResult

	saved := map[string]domain.Position{}
	if l.store != nil && len(live) > 0 {
		loaded, err := l.store.LoadAll(ctx)
		if err != nil {
			l.logger.WarnContext(ctx, "position state load failed", slog.String("error", err.Error()))
		} else {
			saved = loaded
		}
	}

	liveSet := make(map[string]struct{}, len(live))
	for _, ep := range live {
		liveSet[ep.Symbol] = struct{}{}

		if l.IsOpen(ep.Symbol) {
			err := l.Update(ctx, ep.Symbol, func(p *domain.Position) error {
				if p.Qty != ep.Size {
					l.logger.InfoContext(ctx, "position size synced from exchange",
						slog.String("symbol", ep.Symbol),
						slog.Float64("ledger_qty", p.Qty),
						slog.Float64("exchange_qty", ep.Size),
					)
					p.Qty = ep.Size
					p.EntryCost = p.Qty * p.EntryPrice
					res.Resized = append(res.Resized, ep.Symbol)
				}
				return nil
			})
			if err != nil {
				l.logger.WarnContext(ctx, "position size sync failed",
					slog.String("symbol", ep.Symbol),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if pos, ok := saved[ep.Symbol]; ok && pos.Direction == ep.Direction() {
			pos.Qty = ep.Size
			if pos.EntryPrice <= 0 {
				pos.EntryPrice = ep.AvgPrice
			}
			pos.EntryCost = pos.Qty * pos.EntryPrice
			pos.Recovered = true
			l.Put(ctx, pos)
			res.Restored = append(res.Restored, ep.Symbol)
			l.logger.InfoContext(ctx, "position restored from saved state",
				slog.String("symbol", ep.Symbol),
				slog.Float64("stop_loss", pos.StopLoss),
				slog.Bool("be_locked", pos.BELocked),
				slog.Float64("floor_roi", pos.FloorROI),
			)
			continue
		}

		pos, err := synth(ctx, ep)
		if err != nil {
			l.logger.WarnContext(ctx, "position recovery failed",
				slog.String("symbol", ep.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		pos.Recovered = true
		l.Put(ctx, pos)
		res.Synthesized = append(res.Synthesized, ep.Symbol)
		l.logger.InfoContext(ctx, "position recovered from exchange",
			slog.String("symbol", ep.Symbol),
			slog.Float64("entry", pos.EntryPrice),
			slog.Float64("stop_loss", pos.StopLoss),
		)
	}

	for _, sym := range l.Symbols() {
		if _, ok := liveSet[sym]; ok {
			continue
		}
		unlock, err := l.Lock(ctx, sym)
		if err != nil {
			continue
		}
		if l.Remove(ctx, sym) {
			res.Purged = append(res.Purged, sym)
			l.logger.InfoContext(ctx, "position purged: closed on exchange", slog.String("symbol", sym))
		}
		unlock()
	}

	for sym := range saved {
		if _, ok := liveSet[sym]; ok || l.store == nil {
			continue
		}
		if err := l.store.Delete(ctx, sym); err != nil {
			l.logger.WarnContext(ctx, "stale position state delete failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
		}
	}
	return res
}
