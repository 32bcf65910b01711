// Package bybit is the REST and WebSocket client for the Bybit v5 unified
// trading API, limited to USDT linear perpetuals.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/crypto"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

const (
	// DefaultBaseURL is the production REST endpoint.
	DefaultBaseURL = "https://api.bybit.com"
	// Category is the product line every request is scoped to.
	Category = "linear"

	maxResponseBytes = 4 << 20
)

// Config holds the client's connection parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	Timeout    time.Duration
	SettleCoin string

	// Limiter throttles outgoing requests when set. Key is "bybit:rest".
	Limiter domain.RateLimiter
}

// Client is the REST client for the Bybit v5 API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	settleCoin string
	limiter    domain.RateLimiter
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new REST client.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	coin := cfg.SettleCoin
	if coin == "" {
		coin = "USDT"
	}
	return &Client{
		baseURL: base,
		auth: &crypto.HMACAuth{
			Key:        cfg.APIKey,
			Secret:     cfg.APISecret,
			RecvWindow: cfg.RecvWindow,
		},
		settleCoin: coin,
		limiter:    cfg.Limiter,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// envelope is the common response wrapper of every v5 endpoint.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// Get performs a signed GET with params as the query string and returns the
// raw result object.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	query := ""
	if len(params) > 0 {
		// Encode sorts by key, so the signed payload matches the sent query.
		query = params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Post performs a signed POST with body marshalled as JSON and returns the
// raw result object.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s: marshal body: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, "", data)
}

func (c *Client) do(ctx context.Context, method, path, query string, body []byte) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "bybit:rest"); err != nil {
			return nil, &TransportError{Path: path, Err: err}
		}
	}

	fullURL := c.baseURL + path
	payload := string(body)
	if method == http.MethodGet {
		payload = query
		if query != "" {
			fullURL += "?" + query
		}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s: create request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.auth.HeadersAt(payload, c.now().UnixMilli()) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := raw
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.RetCode != CodeOK {
		return nil, &APIError{Path: path, Code: env.RetCode, Message: env.RetMsg}
	}
	return env.Result, nil
}
