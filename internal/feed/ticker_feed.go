// Package feed streams exchange tickers into the price cache so the
// protection engine reads fresh prices without a REST call per tick.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
)

// Stream is one ticker stream connection.
type Stream interface {
	OnTicker(h bybit.TickerHandler)
	Connect(ctx context.Context) error
	SubscribeTickers(symbols []string) error
	Run(ctx context.Context) error
	Close() error
}

var _ Stream = (*bybit.WSClient)(nil)

// SymbolSource returns the symbols the feed should follow.
type SymbolSource func() []string

// Config controls reconnect pacing and resubscription.
type Config struct {
	// ResyncInterval is how often the symbol set is compared against the
	// current subscription. A change reconnects the stream.
	ResyncInterval time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	// StableAfter resets the backoff once a connection has lived this long.
	StableAfter time.Duration
}

// DefaultConfig returns the feed defaults.
func DefaultConfig() Config {
	return Config{
		ResyncInterval: time.Minute,
		MinBackoff:     time.Second,
		MaxBackoff:     30 * time.Second,
		StableAfter:    time.Minute,
	}
}

var errResubscribe = errors.New("feed: symbol set changed")

// TickerFeed keeps a ticker stream subscribed to the current symbol set and
// writes every push into a PriceCache. It reconnects with exponential
// backoff.
type TickerFeed struct {
	dial    func() Stream
	symbols SymbolSource
	prices  domain.PriceCache
	cfg     Config
	logger  *slog.Logger

	updates atomic.Int64
}

// NewTickerFeed creates a TickerFeed. dial returns a fresh, unconnected
// stream for each connection attempt.
func NewTickerFeed(dial func() Stream, symbols SymbolSource, prices domain.PriceCache, cfg Config, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		dial:    dial,
		symbols: symbols,
		prices:  prices,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ticker_feed")),
	}
}

// Updates returns how many price updates have been written.
func (f *TickerFeed) Updates() int64 {
	return f.updates.Load()
}

// Run keeps the feed connected until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "ticker feed started")
	defer f.logger.Info("ticker feed stopped")

	backoff := f.cfg.MinBackoff
	for {
		symbols := f.current()
		if len(symbols) == 0 {
			if err := sleep(ctx, f.cfg.ResyncInterval); err != nil {
				return err
			}
			continue
		}

		started := time.Now()
		err := f.runConnection(ctx, symbols)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errResubscribe) {
			f.logger.InfoContext(ctx, "resubscribing ticker feed")
			backoff = f.cfg.MinBackoff
			continue
		}
		if time.Since(started) >= f.cfg.StableAfter {
			backoff = f.cfg.MinBackoff
		}
		f.logger.WarnContext(ctx, "ticker feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, f.cfg.MaxBackoff)
	}
}

func (f *TickerFeed) runConnection(ctx context.Context, symbols []string) error {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stream := f.dial()
	defer stream.Close()

	stream.OnTicker(func(u bybit.TickerUpdate) {
		f.store(connCtx, u)
	})
	if err := stream.Connect(connCtx); err != nil {
		return err
	}
	if err := stream.SubscribeTickers(symbols); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "ticker feed subscribed", slog.Int("symbols", len(symbols)))

	go f.watch(connCtx, symbols, cancel)

	err := stream.Run(connCtx)
	if cause := context.Cause(connCtx); errors.Is(cause, errResubscribe) {
		return errResubscribe
	}
	return err
}

// watch cancels the connection when the wanted symbol set drifts from the
// subscribed one.
func (f *TickerFeed) watch(ctx context.Context, subscribed []string, cancel context.CancelCauseFunc) {
	t := time.NewTicker(f.cfg.ResyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !slices.Equal(f.current(), subscribed) {
				cancel(errResubscribe)
				return
			}
		}
	}
}

func (f *TickerFeed) store(ctx context.Context, u bybit.TickerUpdate) {
	price := u.LastPrice
	if price <= 0 {
		price = u.MarkPrice
	}
	if price <= 0 {
		return
	}
	ts := u.Time
	if ts.IsZero() || ts.Unix() <= 0 {
		ts = time.Now()
	}
	if err := f.prices.SetPrice(ctx, u.Symbol, price, ts); err != nil {
		f.logger.DebugContext(ctx, "price cache write failed",
			slog.String("symbol", u.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	f.updates.Add(1)
}

func (f *TickerFeed) current() []string {
	syms := slices.Clone(f.symbols())
	sort.Strings(syms)
	return slices.Compact(syms)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return "stream closed"
	}
	return err.Error()
}
