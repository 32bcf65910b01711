package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

func reversionConfig() Config {
	return Config{
		Name: NameMeanReversion, Interval: "15", Lookback: 20,
		FastPeriod: 2, SlowPeriod: 4, ATRPeriod: 3,
		MeanWindow: 4, StdDevThreshold: 1.5,
	}
}

func TestMeanReversionEvaluate(t *testing.T) {
	t.Parallel()

	// Window mean 100, standard deviation sqrt(2).
	window := []float64{100, 102, 98, 100}
	with := func(last float64) []domain.Candle {
		return series(append(append([]float64{}, window...), last)...)
	}

	tests := []struct {
		name    string
		dir     domain.Direction
		candles []domain.Candle
		want    domain.Verdict
	}{
		{"long buys a stretched dip", domain.Long, with(97), domain.VerdictEnter},
		{"long holds a shallow dip", domain.Long, with(99.5), domain.VerdictNone},
		{"long exits above the mean", domain.Long, with(100.5), domain.VerdictExit},
		{"short sells a stretched rally", domain.Short, with(103), domain.VerdictEnter},
		{"short exits below the mean", domain.Short, with(99), domain.VerdictExit},
		{"flat window never signals", domain.Long, flat(4, 100, 90), domain.VerdictNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mr := NewMeanReversion(reversionConfig(), tt.dir, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
			sig, err := mr.Evaluate("SOLUSDT", tt.candles)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.Verdict)
			assert.Equal(t, NameMeanReversion, sig.Strategy)
		})
	}
}

func TestMeanReversionNeedsHistory(t *testing.T) {
	t.Parallel()
	mr := NewMeanReversion(reversionConfig(), domain.Long, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := mr.Evaluate("SOLUSDT", series(100, 101, 99))
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestMeanReversionAnalyzeDropsFormingCandle(t *testing.T) {
	t.Parallel()
	// The forming candle at 80 would be a deep dip; only the closed 100.5
	// counts.
	src := &fakeCandles{candles: series(100, 102, 98, 100, 100.5, 80)}
	mr := NewMeanReversion(reversionConfig(), domain.Long, src, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sig, err := mr.Analyze(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictExit, sig.Verdict)
	assert.Equal(t, 20, src.limit)
}

func TestMeanReversionValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, reversionConfig().Validate())

	cfg := reversionConfig()
	cfg.StdDevThreshold = 0
	cfg.MeanWindow = 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mean_window")
	assert.Contains(t, err.Error(), "std_dev_threshold")
}
