package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/metrics"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/server/handler"
)

type staticPositions []domain.Position

func (s staticPositions) Snapshot() []domain.Position { return s }

type staticJournal struct {
	entries []domain.JournalEntry
	opts    domain.ListOpts
}

func (j *staticJournal) List(_ context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	j.opts = opts
	return j.entries, nil
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return l.calls <= 1, nil
}

func (l *countingLimiter) Wait(context.Context, string) error { return nil }

func newTestServer(t *testing.T, cfg Config, checks map[string]handler.Check, limiter domain.RateLimiter) (http.Handler, *staticJournal) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := &staticJournal{entries: []domain.JournalEntry{{ID: 7, Event: domain.EventOpened, Symbol: "SOLUSDT"}}}
	positions := staticPositions{{Symbol: "SOLUSDT", Direction: domain.Long, EntryPrice: 100, StopLoss: 98}}
	m := metrics.New()
	m.SetOpenPositions(1)
	srv := NewServer(cfg, Handlers{
		Health:    handler.NewHealthHandler(checks, logger),
		Positions: handler.NewPositionHandler(positions, journal, logger),
		Metrics:   m.Handler(),
	}, limiter, logger)
	return srv.Handler(), journal
}

func do(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		checks map[string]handler.Check
		code   int
		status string
	}{
		{
			name:   "all healthy",
			checks: map[string]handler.Check{"redis": func(context.Context) error { return nil }},
			code:   http.StatusOK,
			status: "ok",
		},
		{
			name: "one dependency down",
			checks: map[string]handler.Check{
				"redis":    func(context.Context) error { return nil },
				"postgres": func(context.Context) error { return errors.New("connection refused") },
			},
			code:   http.StatusServiceUnavailable,
			status: "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _ := newTestServer(t, Config{Port: 8080, APIKey: "secret"}, tt.checks, nil)
			rec := do(h, http.MethodGet, "/api/health", nil)
			assert.Equal(t, tt.code, rec.Code)

			var body struct {
				Status       string            `json:"status"`
				Dependencies map[string]string `json:"dependencies"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
			assert.Len(t, body.Dependencies, len(tt.checks))
		})
	}
}

func TestPositionsRequireAPIKey(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t, Config{Port: 8080, APIKey: "secret"}, nil, nil)

	rec := do(h, http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(h, http.MethodGet, "/api/positions", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodGet, "/api/journal", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/api/positions", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"SOLUSDT"`)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestJournalQuery(t *testing.T) {
	t.Parallel()
	h, journal := newTestServer(t, Config{Port: 8080}, nil, nil)

	rec := do(h, http.MethodGet, "/api/journal?limit=9000&offset=5&symbol=solusdt&event=position.opened&since=2026-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	opts := journal.opts
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 5, opts.Offset)
	assert.Equal(t, "SOLUSDT", opts.Symbol)
	assert.Equal(t, domain.EventOpened, opts.Event)
	require.NotNil(t, opts.Since)
	assert.Nil(t, opts.Until)
	assert.Contains(t, rec.Body.String(), domain.EventOpened)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	for _, bad := range []string{
		"limit=0",
		"offset=-1",
		"since=yesterday",
		"since=2026-02-01T00:00:00Z&until=2026-01-01T00:00:00Z",
	} {
		rec := do(h, http.MethodGet, "/api/journal?"+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	limiter := &countingLimiter{}
	h, _ := newTestServer(t, Config{Port: 8080, RateLimit: 1}, nil, limiter)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/positions", nil).Code)
	rec := do(h, http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health probes bypass the limiter.
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, 2, limiter.calls)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t, Config{Port: 8080, APIKey: "secret"}, nil, nil)
	rec := do(h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "open_positions"))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Config{Port: 8080}.Validate())
	assert.Error(t, Config{Port: 0}.Validate())
	assert.Error(t, Config{Port: 8080, RateLimit: -1}.Validate())
}
