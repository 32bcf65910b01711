package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// InstrumentTTL is how long instrument metadata is trusted before refetch.
const InstrumentTTL = 5 * time.Minute

// InstrumentSource fetches instrument metadata from the exchange.
type InstrumentSource interface {
	Instrument(ctx context.Context, symbol string) (domain.Instrument, error)
}

type cachedInstrument struct {
	inst    domain.Instrument
	expires time.Time
}

// Instruments is a lock-protected, TTL-bounded view of exchange instrument
// metadata. Lookups go local map, then the optional shared cache, then the
// exchange.
type Instruments struct {
	src    InstrumentSource
	shared domain.InstrumentCache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	local map[string]cachedInstrument
}

// NewInstruments creates an instrument cache over src. shared may be nil.
func NewInstruments(src InstrumentSource, shared domain.InstrumentCache, logger *slog.Logger) *Instruments {
	return &Instruments{
		src:    src,
		shared: shared,
		ttl:    InstrumentTTL,
		now:    time.Now,
		logger: logger.With(slog.String("component", "instruments")),
		local:  make(map[string]cachedInstrument),
	}
}

// Get returns metadata for symbol, fetching it if the cached copy is missing
// or older than the TTL.
func (in *Instruments) Get(ctx context.Context, symbol string) (domain.Instrument, error) {
	now := in.now()

	in.mu.Lock()
	if c, ok := in.local[symbol]; ok && now.Before(c.expires) {
		in.mu.Unlock()
		return c.inst, nil
	}
	in.mu.Unlock()

	if in.shared != nil {
		inst, err := in.shared.Get(ctx, symbol)
		switch {
		case err == nil:
			in.store(symbol, inst, now)
			return inst, nil
		case !errors.Is(err, domain.ErrNotFound):
			in.logger.WarnContext(ctx, "shared instrument cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	inst, err := in.src.Instrument(ctx, symbol)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("execution: instrument %s: %w", symbol, err)
	}
	in.store(symbol, inst, now)
	if in.shared != nil {
		if err := in.shared.Set(ctx, inst); err != nil {
			in.logger.WarnContext(ctx, "shared instrument cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return inst, nil
}

// Refresh drops any cached copy of symbol and fetches it again.
func (in *Instruments) Refresh(ctx context.Context, symbol string) (domain.Instrument, error) {
	in.Invalidate(ctx, symbol)
	return in.Get(ctx, symbol)
}

// Invalidate drops symbol from the local and shared caches.
func (in *Instruments) Invalidate(ctx context.Context, symbol string) {
	in.mu.Lock()
	delete(in.local, symbol)
	in.mu.Unlock()

	if in.shared != nil {
		if err := in.shared.Invalidate(ctx, symbol); err != nil {
			in.logger.WarnContext(ctx, "shared instrument cache invalidate failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (in *Instruments) store(symbol string, inst domain.Instrument, now time.Time) {
	in.mu.Lock()
	in.local[symbol] = cachedInstrument{inst: inst, expires: now.Add(in.ttl)}
	in.mu.Unlock()
}
