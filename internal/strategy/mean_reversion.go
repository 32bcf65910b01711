package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/indicator"
)

// NameMeanReversion is the label attached to every mean reversion signal.
const NameMeanReversion = "mean_reversion"

// MeanReversion enters when the last close is stretched against the trading
// direction by StdDevThreshold standard deviations from the mean of the
// previous MeanWindow closes, and exits once price is back on the far side of
// the mean. A long agent buys dips; a short agent sells rallies.
type MeanReversion struct {
	cfg     Config
	dir     domain.Direction
	candles CandleSource
	logger  *slog.Logger
}

// NewMeanReversion creates a MeanReversion generator.
func NewMeanReversion(cfg Config, dir domain.Direction, candles CandleSource, logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		cfg:     cfg,
		dir:     dir,
		candles: candles,
		logger:  logger.With(slog.String("strategy", NameMeanReversion)),
	}
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return NameMeanReversion }

// Analyze fetches recent candles for symbol and returns a verdict.
func (mr *MeanReversion) Analyze(ctx context.Context, symbol string) (domain.Signal, error) {
	candles, err := mr.candles.Klines(ctx, symbol, mr.cfg.Interval, mr.cfg.Lookback)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("strategy: %s candles: %w", symbol, err)
	}
	if len(candles) > 1 {
		candles = candles[:len(candles)-1]
	}
	return mr.Evaluate(symbol, candles)
}

// Evaluate computes the verdict for closed candles ordered oldest first.
func (mr *MeanReversion) Evaluate(symbol string, candles []domain.Candle) (domain.Signal, error) {
	sig := domain.Signal{Symbol: symbol, Verdict: domain.VerdictNone, Strategy: NameMeanReversion}
	need := mr.cfg.MeanWindow + 1
	if len(candles) < need {
		return sig, fmt.Errorf("strategy: %s: %d candles, need %d: %w",
			symbol, len(candles), need, domain.ErrNoData)
	}

	closes := indicator.Closes(candles)
	last := len(closes) - 1
	mean, std := indicator.MeanStdDev(closes[last-mr.cfg.MeanWindow : last])

	sig.Price = closes[last]
	if atr, err := indicator.ATR(candles, mr.cfg.ATRPeriod); err == nil {
		sig.ATR = atr
	} else if !errors.Is(err, domain.ErrNoData) {
		return sig, err
	}
	if std == 0 {
		return sig, nil
	}

	// z > 0 means price sits on the profitable side of the mean.
	z := mr.dir.Sign() * (sig.Price - mean) / std
	switch {
	case z <= -mr.cfg.StdDevThreshold:
		sig.Verdict = domain.VerdictEnter
	case z >= 0:
		sig.Verdict = domain.VerdictExit
	}

	if sig.Verdict == domain.VerdictEnter {
		mr.logger.Debug("mean reversion entry",
			slog.String("symbol", symbol),
			slog.Float64("price", sig.Price),
			slog.Float64("mean", mean),
			slog.Float64("z", z),
		)
	}
	return sig, nil
}

var _ domain.SignalGenerator = (*MeanReversion)(nil)
