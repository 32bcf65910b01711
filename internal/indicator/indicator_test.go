package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

func TestEMA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []float64
		period int
		want   []float64
	}{
		{name: "too short", values: []float64{1, 2}, period: 3, want: nil},
		{name: "zero period", values: []float64{1, 2}, period: 0, want: nil},
		{name: "constant series", values: []float64{5, 5, 5, 5}, period: 2, want: []float64{0, 5, 5, 5}},
		{name: "seeded with sma", values: []float64{1, 2, 3, 4}, period: 3, want: []float64{0, 0, 2, 3}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := EMA(tt.values, tt.period)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-9, "index %d", i)
			}
		})
	}
}

func candle(h, l, c float64) domain.Candle {
	return domain.Candle{High: h, Low: l, Close: c, Open: c}
}

func TestATR(t *testing.T) {
	t.Parallel()

	t.Run("insufficient history", func(t *testing.T) {
		t.Parallel()
		_, err := ATR([]domain.Candle{candle(1, 1, 1)}, 14)
		assert.ErrorIs(t, err, domain.ErrNoData)
	})

	t.Run("constant range", func(t *testing.T) {
		t.Parallel()
		candles := []domain.Candle{
			candle(101, 99, 100),
			candle(101, 99, 100),
			candle(101, 99, 100),
			candle(101, 99, 100),
		}
		atr, err := ATR(candles, 2)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, atr, 1e-9)
	})

	t.Run("gap uses previous close", func(t *testing.T) {
		t.Parallel()
		candles := []domain.Candle{
			candle(100, 98, 99),
			candle(110, 108, 109), // TR = 110-99 = 11
		}
		atr, err := ATR(candles, 1)
		require.NoError(t, err)
		assert.InDelta(t, 11.0, atr, 1e-9)
	})
}
