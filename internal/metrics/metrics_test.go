package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Order("market", true)
		m.Retry("shrink")
		m.ProtectionAction("breakeven")
		m.Close("stop_breach")
		m.SetOpenPositions(3)
		m.SetEquity(1000)
		m.ObserveCycle(1.5)
	})
	assert.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	t.Parallel()
	m := New()
	m.Order("market", true)
	m.Order("market", false)
	m.Order("market", false)
	m.SetOpenPositions(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `bybot_orders_total{kind="market",result="ok"} 1`))
	assert.True(t, strings.Contains(body, `bybot_orders_total{kind="market",result="failed"} 2`))
	assert.True(t, strings.Contains(body, "bybot_open_positions 2"))
}
