package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Symbol string
	Event  string
}

// Journal event names.
const (
	EventOpened        = "position.opened"
	EventClosed        = "position.closed"
	EventPurged        = "position.purged"
	EventRecovered     = "position.recovered"
	EventBreakeven     = "protection.breakeven"
	EventTrailingArmed = "protection.trailing_armed"
	EventFloorRaised   = "protection.floor_raised"
	EventEntryRejected = "entry.rejected"
	EventArchive       = "archive.journal"
)

// JournalEntry is one row of the append-only trade journal.
type JournalEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Symbol    string         `json:"symbol"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// JournalStore persists the append-only trade journal.
type JournalStore interface {
	Append(ctx context.Context, event, symbol string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]JournalEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]JournalEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Event is a lifecycle record for the audit and notification sinks. Message,
// when set, is also sent to operators.
type Event struct {
	Name    string
	Symbol  string
	Detail  map[string]any
	Message string
	At      time.Time
}

// EventSink accepts events without blocking the caller. Implementations
// swallow their own failures.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}
