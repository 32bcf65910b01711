// Package ledger is the authoritative record of open positions. Every
// compound read-modify-write on a position goes through Update, which holds
// that symbol's exclusive lock for the whole sequence, so the protection
// workers cannot issue conflicting stop updates from a stale read.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// ErrRemove may be returned by an Update callback to delete the position
// after the callback's side effects succeeded.
var ErrRemove = errors.New("ledger: remove position")

// Ledger maps symbol to Position. It is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.Position

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	store  domain.PositionStateStore
	logger *slog.Logger
}

// New creates an empty Ledger. store may be nil; when set, every mutation is
// mirrored to it.
func New(store domain.PositionStateStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]domain.Position),
		locks:     make(map[string]chan struct{}),
		store:     store,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Get returns a copy of the position for symbol.
func (l *Ledger) Get(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// IsOpen reports whether symbol has a position.
func (l *Ledger) IsOpen(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[symbol]
	return ok
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Symbols returns the open symbols in sorted order.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot returns copies of every position sorted by symbol.
func (l *Ledger) Snapshot() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Put stores pos, replacing any existing entry for the symbol.
func (l *Ledger) Put(ctx context.Context, pos domain.Position) {
	l.mu.Lock()
	l.positions[pos.Symbol] = pos
	l.mu.Unlock()
	l.persist(ctx, pos)
}

// Remove deletes the position for symbol. It reports whether one existed.
func (l *Ledger) Remove(ctx context.Context, symbol string) bool {
	l.mu.Lock()
	_, ok := l.positions[symbol]
	delete(l.positions, symbol)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Delete(ctx, symbol); err != nil {
			l.logger.WarnContext(ctx, "position state delete failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return ok
}

// Lock acquires the exclusive lock for symbol, waiting until it is free or
// ctx is done.
func (l *Ledger) Lock(ctx context.Context, symbol string) (func(), error) {
	sem := l.semaphore(symbol)
	select {
	case sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-sem }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("ledger: lock %s: %w", symbol, ctx.Err())
	}
}

// Update runs fn on a copy of symbol's position while holding the symbol's
// lock, then stores the copy. The copy is stored even when fn returns an
// error, since fn may already have changed exchange state. Returning
// ErrRemove deletes the position instead.
//
// It returns domain.ErrNotFound if symbol has no position.
func (l *Ledger) Update(ctx context.Context, symbol string, fn func(*domain.Position) error) error {
	unlock, err := l.Lock(ctx, symbol)
	if err != nil {
		return err
	}
	defer unlock()

	pos, ok := l.Get(symbol)
	if !ok {
		return fmt.Errorf("ledger: update %s: %w", symbol, domain.ErrNotFound)
	}

	ferr := fn(&pos)
	if errors.Is(ferr, ErrRemove) {
		l.Remove(ctx, symbol)
		return nil
	}
	l.Put(ctx, pos)
	return ferr
}

func (l *Ledger) semaphore(symbol string) chan struct{} {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	sem, ok := l.locks[symbol]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[symbol] = sem
	}
	return sem
}

func (l *Ledger) persist(ctx context.Context, pos domain.Position) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, pos); err != nil {
		l.logger.WarnContext(ctx, "position state save failed",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
