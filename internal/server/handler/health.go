package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Each check is run on every request
// with a shared timeout.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		timeout: 3 * time.Second,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck reports "ok" when every dependency answers, otherwise
// "degraded" with a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"uptime":       time.Since(h.started).Round(time.Second).String(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
