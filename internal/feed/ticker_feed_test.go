package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/cache/memory"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
)

type fakeStream struct {
	connectErr error
	push       []bybit.TickerUpdate
	handler    bybit.TickerHandler
	onSub      func([]string)
}

func (s *fakeStream) OnTicker(h bybit.TickerHandler) { s.handler = h }

func (s *fakeStream) Connect(context.Context) error { return s.connectErr }

func (s *fakeStream) SubscribeTickers(symbols []string) error {
	if s.onSub != nil {
		s.onSub(symbols)
	}
	return nil
}

func (s *fakeStream) Run(ctx context.Context) error {
	for _, u := range s.push {
		s.handler(u)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeStream) Close() error { return nil }

type symbolSet struct {
	mu   sync.Mutex
	syms []string
}

func (s *symbolSet) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syms
}

func (s *symbolSet) set(syms ...string) {
	s.mu.Lock()
	s.syms = syms
	s.mu.Unlock()
}

func testFeedConfig() Config {
	return Config{
		ResyncInterval: 5 * time.Millisecond,
		MinBackoff:     time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		StableAfter:    time.Minute,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickerFeedWritesPrices(t *testing.T) {
	t.Parallel()
	cache := memory.NewPriceCache()
	syms := &symbolSet{}
	syms.set("SOLUSDT", "BTCUSDT", "SOLUSDT")

	var (
		mu   sync.Mutex
		subs [][]string
	)
	dial := func() Stream {
		return &fakeStream{
			push: []bybit.TickerUpdate{
				{Symbol: "BTCUSDT", LastPrice: 65000, Time: time.UnixMilli(1_700_000_000_000)},
				{Symbol: "SOLUSDT", MarkPrice: 150.5},
				{Symbol: "SOLUSDT"},
			},
			onSub: func(s []string) {
				mu.Lock()
				subs = append(subs, s)
				mu.Unlock()
			},
		}
	}
	f := NewTickerFeed(dial, syms.get, cache, testFeedConfig(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool { return f.Updates() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	price, ts, err := cache.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 65000.0, price)
	assert.Equal(t, int64(1_700_000_000_000), ts.UnixMilli())

	price, _, err = cache.GetPrice(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 150.5, price)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, subs)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, subs[0])
}

func TestTickerFeedResubscribesOnSymbolChange(t *testing.T) {
	t.Parallel()
	syms := &symbolSet{}
	syms.set("BTCUSDT")

	subs := make(chan []string, 8)
	dial := func() Stream {
		return &fakeStream{onSub: func(s []string) { subs <- s }}
	}
	f := NewTickerFeed(dial, syms.get, memory.NewPriceCache(), testFeedConfig(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	assert.Equal(t, []string{"BTCUSDT"}, <-subs)
	syms.set("ETHUSDT", "BTCUSDT")
	select {
	case got := <-subs:
		assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
	case <-time.After(time.Second):
		t.Fatal("feed did not resubscribe")
	}
}

func TestTickerFeedReconnectsAfterFailure(t *testing.T) {
	t.Parallel()
	syms := &symbolSet{}
	syms.set("BTCUSDT")

	var (
		mu    sync.Mutex
		dials int
	)
	dial := func() Stream {
		mu.Lock()
		defer mu.Unlock()
		dials++
		return &fakeStream{connectErr: errors.New("refused")}
	}
	f := NewTickerFeed(dial, syms.get, memory.NewPriceCache(), testFeedConfig(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 3
	}, time.Second, time.Millisecond)
}

func TestTickerFeedIdlesWithoutSymbols(t *testing.T) {
	t.Parallel()
	syms := &symbolSet{}
	dialed := false
	dial := func() Stream {
		dialed = true
		return &fakeStream{}
	}
	f := NewTickerFeed(dial, syms.get, memory.NewPriceCache(), testFeedConfig(), quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Run(ctx), context.DeadlineExceeded)
	assert.False(t, dialed)
}
