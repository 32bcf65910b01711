package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	p := DefaultRetryPolicy()

	tests := []struct {
		name string
		err  error
		want Remedy
	}{
		{name: "nil", err: nil, want: RemedyAbandon},
		{name: "qty precision", err: apiErr(170137, "too many decimals"), want: RemedyRefreshStep},
		{name: "qty invalid", err: apiErr(170136, "qty invalid"), want: RemedyRefreshStep},
		{name: "param error about qty", err: apiErr(10001, "Qty invalid"), want: RemedyRefreshStep},
		{name: "param error about price", err: apiErr(10001, "price invalid"), want: RemedyAbandon},
		{name: "min notional", err: apiErr(110094, "order does not meet minimum"), want: RemedyBumpMinNotional},
		{name: "order value too low", err: apiErr(170140, "order value exceeded lower limit"), want: RemedyBumpMinNotional},
		{name: "insufficient balance", err: apiErr(110007, "ab not enough"), want: RemedyShrink},
		{name: "qty too large", err: apiErr(110012, "insufficient available balance"), want: RemedyShrink},
		{name: "insufficient margin", err: apiErr(110044, "insufficient margin"), want: RemedyShrink},
		{name: "balance not enough", err: apiErr(170131, "balance insufficient"), want: RemedyShrink},
		{name: "unknown code", err: apiErr(30208, "price above max"), want: RemedyAbandon},
		{name: "wrapped api error", err: fmt.Errorf("bybit: create order: %w", apiErr(170137, "x")), want: RemedyRefreshStep},
		{name: "transport", err: &bybit.TransportError{Path: "/p", Err: errors.New("reset")}, want: RemedyResend},
		{name: "cancelled", err: &bybit.TransportError{Path: "/p", Err: context.Canceled}, want: RemedyAbandon},
		{name: "plain error", err: errors.New("boom"), want: RemedyAbandon},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Classify(tt.err))
		})
	}
}

func TestRemedyString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "refresh_step", RemedyRefreshStep.String())
	assert.Equal(t, "abandon", Remedy(99).String())
}

func TestThrottle(t *testing.T) {
	t.Parallel()
	th := NewThrottle(time.Minute)
	now := time.Unix(1700000000, 0)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("BTCUSDT"))
	assert.False(t, th.Allow("BTCUSDT"))
	assert.True(t, th.Allow("ETHUSDT"))
	assert.True(t, th.Active("BTCUSDT"))
	assert.Equal(t, time.Minute, th.Remaining("BTCUSDT"))

	now = now.Add(time.Minute)
	assert.False(t, th.Active("BTCUSDT"))
	assert.Zero(t, th.Remaining("BTCUSDT"))
	th.Cleanup()
	assert.Empty(t, th.seen)
	assert.True(t, th.Allow("BTCUSDT"))
}
