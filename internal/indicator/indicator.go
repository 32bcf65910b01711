// Package indicator computes the price-series indicators used for signals
// and for ATR-derived risk distances.
package indicator

import (
	"math"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// EMA returns the exponential moving average series of values. The series is
// seeded with the simple average of the first period values, so the first
// period-1 entries are zero. It returns nil when there is not enough data.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))

	var sma float64
	for i := 0; i < period; i++ {
		sma += values[i]
	}
	out[period-1] = sma / float64(period)

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// TrueRange returns the true range of cur given the previous close.
func TrueRange(cur domain.Candle, prevClose float64) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prevClose), math.Abs(cur.Low-prevClose)))
}

// ATR returns the latest Average True Range using Wilder's smoothing over
// candles ordered oldest first. It returns domain.ErrNoData when fewer than
// period+1 candles are available.
func ATR(candles []domain.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period+1 {
		return 0, domain.ErrNoData
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += TrueRange(candles[i], candles[i-1].Close)
	}
	atr /= float64(period)

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + TrueRange(candles[i], candles[i-1].Close)) / float64(period)
	}
	return atr, nil
}

// MeanStdDev returns the mean and population standard deviation of values.
func MeanStdDev(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// Closes extracts the close prices from candles.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
