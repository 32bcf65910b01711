package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// JournalStore implements domain.JournalStore on the trade_journal table.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append records one event. detail is stored as JSONB.
func (s *JournalStore) Append(ctx context.Context, event, symbol string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal journal detail: %w", err)
	}

	const query = `INSERT INTO trade_journal (event, symbol, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, event, symbol, detailJSON); err != nil {
		return fmt.Errorf("postgres: append journal %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first with pagination and optional time bounds.
func (s *JournalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query, args := listQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	return scanEntries(rows)
}

// ListBefore returns every entry created before the cutoff, oldest first.
func (s *JournalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.JournalEntry, error) {
	const query = `SELECT id, event, symbol, detail, created_at FROM trade_journal
		WHERE created_at < $1 ORDER BY created_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanEntries(rows)
}

// DeleteBefore removes entries created before the cutoff and returns how
// many were removed.
func (s *JournalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_journal WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete journal before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// listQuery builds the filtered, paginated List query.
func listQuery(opts domain.ListOpts) (string, []any) {
	query := `SELECT id, event, symbol, detail, created_at FROM trade_journal WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += " AND created_at >= " + arg(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND created_at <= " + arg(*opts.Until)
	}
	if opts.Symbol != "" {
		query += " AND symbol = " + arg(opts.Symbol)
	}
	if opts.Event != "" {
		query += " AND event = " + arg(opts.Event)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}
	return query, args
}

func scanEntries(rows pgx.Rows) ([]domain.JournalEntry, error) {
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.Event, &e.Symbol, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal journal detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: journal rows: %w", err)
	}
	return entries, nil
}

var _ domain.JournalStore = (*JournalStore)(nil)
