package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/indicator"
)

// NameEMACross is the label attached to every EMA crossover signal.
const NameEMACross = "ema_cross"

// CandleSource returns candles oldest first.
type CandleSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// EMACross enters when the fast EMA crosses the slow EMA in the trading
// direction on the last closed candle, and exits once the fast EMA is back
// on the wrong side. The crossover is measured through the direction's
// sign, so one generator serves long and short agents.
type EMACross struct {
	cfg     Config
	dir     domain.Direction
	candles CandleSource
	logger  *slog.Logger
}

// NewEMACross creates an EMACross generator.
func NewEMACross(cfg Config, dir domain.Direction, candles CandleSource, logger *slog.Logger) *EMACross {
	return &EMACross{
		cfg:     cfg,
		dir:     dir,
		candles: candles,
		logger:  logger.With(slog.String("strategy", NameEMACross)),
	}
}

// Name returns the strategy identifier.
func (s *EMACross) Name() string { return NameEMACross }

// Analyze fetches recent candles for symbol and returns a verdict. Too
// little history yields domain.ErrNoData.
func (s *EMACross) Analyze(ctx context.Context, symbol string) (domain.Signal, error) {
	candles, err := s.candles.Klines(ctx, symbol, s.cfg.Interval, s.cfg.Lookback)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("strategy: %s candles: %w", symbol, err)
	}
	// The newest candle is still forming.
	if len(candles) > 1 {
		candles = candles[:len(candles)-1]
	}
	return s.Evaluate(symbol, candles)
}

// Evaluate computes the verdict for closed candles ordered oldest first.
func (s *EMACross) Evaluate(symbol string, candles []domain.Candle) (domain.Signal, error) {
	sig := domain.Signal{Symbol: symbol, Verdict: domain.VerdictNone, Strategy: NameEMACross}
	if len(candles) < s.cfg.SlowPeriod+2 {
		return sig, fmt.Errorf("strategy: %s: %d candles, need %d: %w",
			symbol, len(candles), s.cfg.SlowPeriod+2, domain.ErrNoData)
	}

	closes := indicator.Closes(candles)
	fast := indicator.EMA(closes, s.cfg.FastPeriod)
	slow := indicator.EMA(closes, s.cfg.SlowPeriod)
	last := len(closes) - 1

	sig.Price = closes[last]
	if atr, err := indicator.ATR(candles, s.cfg.ATRPeriod); err == nil {
		sig.ATR = atr
	} else if !errors.Is(err, domain.ErrNoData) {
		return sig, err
	}

	sign := s.dir.Sign()
	prev := sign * (fast[last-1] - slow[last-1])
	cur := sign * (fast[last] - slow[last])

	switch {
	case prev <= 0 && cur > 0 && s.separated(cur, slow[last]):
		sig.Verdict = domain.VerdictEnter
	case cur < 0:
		sig.Verdict = domain.VerdictExit
	}

	if sig.Verdict != domain.VerdictNone {
		s.logger.Debug("ema cross",
			slog.String("symbol", symbol),
			slog.String("verdict", string(sig.Verdict)),
			slog.Float64("fast", fast[last]),
			slog.Float64("slow", slow[last]),
			slog.Float64("price", sig.Price),
		)
	}
	return sig, nil
}

// separated filters crosses too shallow to be distinguished from noise.
func (s *EMACross) separated(gap, slow float64) bool {
	if s.cfg.MinSeparationPct <= 0 || slow <= 0 {
		return true
	}
	return gap/slow*100 >= s.cfg.MinSeparationPct
}

var _ domain.SignalGenerator = (*EMACross)(nil)
