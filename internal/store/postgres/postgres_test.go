package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "bybot", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/bybot?sslmode=disable",
		},
		{
			name: "explicit port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "bybot", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/bybot?sslmode=require",
		},
		{
			name: "credentials are escaped",
			cfg:  ClientConfig{Host: "db", Database: "bybot", User: "u", Password: "p@ss word"},
			want: "postgres://u:p%40ss%20word@db:5432/bybot?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestListQuery(t *testing.T) {
	t.Parallel()

	q, args := listQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, symbol, detail, created_at FROM trade_journal WHERE 1=1 ORDER BY created_at DESC, id DESC", q)
	assert.Empty(t, args)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	q, args = listQuery(domain.ListOpts{Since: &since, Until: &until, Limit: 50, Offset: 10})
	assert.Contains(t, q, "created_at >= $1 AND created_at <= $2")
	assert.Contains(t, q, "LIMIT $3 OFFSET $4")
	assert.Equal(t, []any{since, until, 50, 10}, args)

	q, args = listQuery(domain.ListOpts{Symbol: "BTCUSDT", Event: domain.EventClosed, Limit: 20})
	assert.Contains(t, q, "symbol = $1 AND event = $2 ORDER BY")
	assert.Equal(t, []any{"BTCUSDT", domain.EventClosed, 20}, args)

	q, args = listQuery(domain.ListOpts{Limit: 5})
	assert.Contains(t, q, "LIMIT $1")
	assert.Equal(t, []any{5}, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, []string{"001_journal.sql", "002_journal_event_idx.sql"}, names)
}

func TestPendingMigrations(t *testing.T) {
	t.Parallel()
	all := []string{"001_a.sql", "002_b.sql", "003_c.sql"}
	assert.Equal(t, all, pending(all, nil))
	assert.Equal(t, []string{"003_c.sql"}, pending(all, []string{"002_b.sql", "001_a.sql"}))
	assert.Empty(t, pending(all, all))
}
