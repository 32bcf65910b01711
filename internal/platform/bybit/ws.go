package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

const (
	// DefaultPublicWSURL is the public linear stream.
	DefaultPublicWSURL = "wss://stream.bybit.com/v5/public/linear"

	writeWait = 10 * time.Second
	// The exchange drops connections that stay silent for more than 30s.
	pingPeriod = 20 * time.Second
	readWait   = 60 * time.Second

	// maxArgsPerSubscribe is the exchange limit on topics per request.
	maxArgsPerSubscribe = 10
)

// TickerUpdate is a (possibly partial) ticker push. Zero fields were absent
// from a delta message.
type TickerUpdate struct {
	Symbol    string
	LastPrice float64
	MarkPrice float64
	Time      time.Time
}

// TickerHandler is called for every ticker push.
type TickerHandler func(TickerUpdate)

type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type wsMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

type wsTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
}

// WSClient is a client for the public ticker stream. It holds one
// connection; reconnection is the caller's job (see feed.TickerFeed).
type WSClient struct {
	wsURL string

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn

	handlerMu sync.RWMutex
	handlers  []TickerHandler
}

// NewWSClient creates a client for the given stream URL.
func NewWSClient(wsURL string) *WSClient {
	if wsURL == "" {
		wsURL = DefaultPublicWSURL
	}
	return &WSClient{wsURL: wsURL}
}

// OnTicker registers a handler for ticker pushes.
func (w *WSClient) OnTicker(h TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Connect dials the stream.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return nil
}

// SubscribeTickers subscribes to tickers.{symbol} for every symbol.
func (w *WSClient) SubscribeTickers(symbols []string) error {
	for start := 0; start < len(symbols); start += maxArgsPerSubscribe {
		end := min(start+maxArgsPerSubscribe, len(symbols))
		args := make([]string, 0, end-start)
		for _, s := range symbols[start:end] {
			args = append(args, "tickers."+s)
		}
		if err := w.send(wsCommand{Op: "subscribe", Args: args}); err != nil {
			return fmt.Errorf("bybit/ws: subscribe: %w", err)
		}
	}
	return nil
}

// Run reads messages until the connection fails or ctx is done. It always
// returns a non-nil error.
func (w *WSClient) Run(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errCh <- fmt.Errorf("bybit/ws: read: %w", err)
				return
			}
			conn.SetReadDeadline(time.Now().Add(readWait))
			w.handleMessage(raw)
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := w.send(wsCommand{Op: "ping"}); err != nil {
				_ = w.Close()
				return fmt.Errorf("bybit/ws: ping: %w", err)
			}
		}
	}
}

// Close closes the connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *WSClient) send(cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return domain.ErrWSDisconnect
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// handleMessage parses one frame and dispatches ticker updates. Control
// replies and unknown topics are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || len(msg.Data) == 0 {
		return
	}

	var t wsTicker
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return
	}
	if t.Symbol == "" {
		t.Symbol = strings.TrimPrefix(msg.Topic, "tickers.")
	}
	upd := TickerUpdate{
		Symbol:    t.Symbol,
		LastPrice: parseFloat(t.LastPrice),
		MarkPrice: parseFloat(t.MarkPrice),
		Time:      time.UnixMilli(msg.Ts),
	}
	if upd.LastPrice == 0 && upd.MarkPrice == 0 {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(upd)
	}
}
