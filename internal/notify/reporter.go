package notify

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// Reporter is the asynchronous domain.EventSink. Emit never blocks: events
// go into a bounded buffer and are dropped when it is full. Run drains the
// buffer into the journal and, for events carrying a Message, the notifier.
type Reporter struct {
	journal  domain.JournalStore
	notifier *Notifier
	title    string
	events   chan domain.Event
	dropped  atomic.Uint64
	logger   *slog.Logger
}

// NewReporter creates a Reporter. journal and notifier may be nil.
func NewReporter(journal domain.JournalStore, notifier *Notifier, title string, buffer int, logger *slog.Logger) *Reporter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Reporter{
		journal:  journal,
		notifier: notifier,
		title:    title,
		events:   make(chan domain.Event, buffer),
		logger:   logger.With(slog.String("component", "reporter")),
	}
}

// Emit queues ev without blocking.
func (r *Reporter) Emit(_ context.Context, ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case r.events <- ev:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn("event buffer full, dropping",
				slog.String("event", ev.Name),
				slog.Uint64("dropped", r.dropped.Load()),
			)
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Reporter) Dropped() uint64 { return r.dropped.Load() }

// Run delivers queued events until ctx is cancelled, then flushes what is
// left with a short grace period.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return ctx.Err()
		case ev := <-r.events:
			r.deliver(ctx, ev)
		}
	}
}

func (r *Reporter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-r.events:
			r.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (r *Reporter) deliver(ctx context.Context, ev domain.Event) {
	if r.journal != nil {
		detail := make(map[string]any, len(ev.Detail)+1)
		maps.Copy(detail, ev.Detail)
		detail["at"] = ev.At.UTC().Format(time.RFC3339Nano)
		if err := r.journal.Append(ctx, ev.Name, ev.Symbol, detail); err != nil {
			r.logger.WarnContext(ctx, "journal append failed",
				slog.String("event", ev.Name),
				slog.String("symbol", ev.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if ev.Message != "" && r.notifier.Enabled() {
		title := ev.Name
		if r.title != "" {
			title = r.title + ": " + ev.Name
		}
		// Failures are logged by the notifier.
		_ = r.notifier.Notify(ctx, ev.Name, title, ev.Message)
	}
}

var _ domain.EventSink = (*Reporter)(nil)
