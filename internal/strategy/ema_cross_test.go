package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

type fakeCandles struct {
	candles  []domain.Candle
	interval string
	limit    int
}

func (f *fakeCandles) Klines(_ context.Context, _ string, interval string, limit int) ([]domain.Candle, error) {
	f.interval, f.limit = interval, limit
	return f.candles, nil
}

func series(closes ...float64) []domain.Candle {
	start := time.Unix(1700000000, 0)
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Start: start.Add(time.Duration(i) * 15 * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func flat(n int, price float64, tail ...float64) []domain.Candle {
	closes := make([]float64, 0, n+len(tail))
	for i := 0; i < n; i++ {
		closes = append(closes, price)
	}
	return series(append(closes, tail...)...)
}

func crossConfig() Config {
	return Config{Name: NameEMACross, Interval: "15", Lookback: 20, FastPeriod: 2, SlowPeriod: 4, ATRPeriod: 3}
}

func newCross(cfg Config, dir domain.Direction, src CandleSource) *EMACross {
	return NewEMACross(cfg, dir, src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEMACrossEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dir     domain.Direction
		candles []domain.Candle
		minSep  float64
		want    domain.Verdict
	}{
		{name: "long cross up enters", dir: domain.Long, candles: flat(10, 100, 110), want: domain.VerdictEnter},
		{name: "long cross down exits", dir: domain.Long, candles: flat(10, 100, 90), want: domain.VerdictExit},
		{name: "short cross down enters", dir: domain.Short, candles: flat(10, 100, 90), want: domain.VerdictEnter},
		{name: "short cross up exits", dir: domain.Short, candles: flat(10, 100, 110), want: domain.VerdictExit},
		{name: "flat is none", dir: domain.Long, candles: flat(10, 100), want: domain.VerdictNone},
		{name: "shallow cross filtered", dir: domain.Long, candles: flat(10, 100, 110), minSep: 5, want: domain.VerdictNone},
		{name: "trend continuation is none", dir: domain.Long, candles: flat(10, 100, 110, 115), want: domain.VerdictNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := crossConfig()
			cfg.MinSeparationPct = tt.minSep
			s := newCross(cfg, tt.dir, nil)

			sig, err := s.Evaluate("SOLUSDT", tt.candles)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.Verdict)
			assert.Equal(t, NameEMACross, sig.Strategy)
			assert.Equal(t, tt.candles[len(tt.candles)-1].Close, sig.Price)
		})
	}
}

func TestEMACrossNotEnoughHistory(t *testing.T) {
	t.Parallel()
	s := newCross(crossConfig(), domain.Long, nil)
	sig, err := s.Evaluate("SOLUSDT", flat(4, 100))
	require.ErrorIs(t, err, domain.ErrNoData)
	assert.Equal(t, domain.VerdictNone, sig.Verdict)
}

func TestEMACrossAnalyzeDropsFormingCandle(t *testing.T) {
	t.Parallel()
	// The closed series crosses up; the forming candle would reverse it.
	src := &fakeCandles{candles: flat(10, 100, 110, 50)}
	s := newCross(crossConfig(), domain.Long, src)

	sig, err := s.Analyze(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictEnter, sig.Verdict)
	assert.Equal(t, 110.0, sig.Price)
	assert.Greater(t, sig.ATR, 0.0)
	assert.Equal(t, "15", src.interval)
	assert.Equal(t, 20, src.limit)
}

func TestRegistryBuild(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	assert.Equal(t, []string{NameEMACross, NameMeanReversion}, r.List())

	gen, err := r.Build(DefaultConfig(), domain.Long, &fakeCandles{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.IsType(t, &EMACross{}, gen)

	cfg := DefaultConfig()
	cfg.Name = "rsi"
	_, err = r.Build(cfg, domain.Long, nil, slog.Default())
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.FastPeriod = 30
	cfg.Lookback = 10
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast_period must be below slow_period")
	assert.Contains(t, err.Error(), "lookback too short")
}
