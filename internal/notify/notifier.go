// Package notify delivers operator notifications and records lifecycle events.
// Notifications go to every registered sender (Telegram, Discord) and can be
// filtered by event name so operators receive only fills, closes and
// emergencies.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only allowed event names; an empty allow list admits everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithRateLimit caps deliveries at limit per window, shared through limiter.
// Messages over the cap are dropped and logged.
func (n *Notifier) WithRateLimit(limiter domain.RateLimiter, limit int, window time.Duration) *Notifier {
	n.limiter = limiter
	n.limit = limit
	n.window = window
	return n
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends a notification for event if the event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if n.limiter != nil && n.limit > 0 {
		ok, err := n.limiter.Allow(ctx, "notify", n.limit, n.window)
		if err == nil && !ok {
			n.logger.WarnContext(ctx, "notification rate limited",
				slog.String("event", event),
				slog.String("title", title),
			)
			return nil
		}
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event name.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// defaultClient is shared by senders built without an explicit client.
var defaultClient = &http.Client{Timeout: 10 * time.Second}

// postJSON posts payload to url and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}
