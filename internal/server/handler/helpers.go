// Package handler implements the read-only HTTP API of the agent.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseJournalQuery reads the journal filters from the query string:
// limit (default 50, capped at 500), offset, since and until (RFC 3339),
// symbol and event. Malformed values are rejected rather than ignored.
func parseJournalQuery(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  defaultPageSize,
		Symbol: strings.ToUpper(strings.TrimSpace(q.Get("symbol"))),
		Event:  strings.TrimSpace(q.Get("event")),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errors.New("limit must be a positive integer")
		}
		opts.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%s must be an RFC 3339 timestamp", bound.name)
		}
		*bound.dst = &ts
	}
	if opts.Since != nil && opts.Until != nil && opts.Until.Before(*opts.Since) {
		return opts, errors.New("until is before since")
	}
	return opts, nil
}
