package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names used by the Bybit v5 signed envelope.
const (
	HeaderAPIKey     = "X-BAPI-API-KEY"
	HeaderTimestamp  = "X-BAPI-TIMESTAMP"
	HeaderRecvWindow = "X-BAPI-RECV-WINDOW"
	HeaderSign       = "X-BAPI-SIGN"
	HeaderSignType   = "X-BAPI-SIGN-TYPE"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the exchange REST API.
type HMACAuth struct {
	Key        string
	Secret     string
	RecvWindow time.Duration
}

// Headers returns the signed headers for a request whose payload is the
// canonical query string (GET) or the exact JSON body (POST).
func (h *HMACAuth) Headers(payload string) map[string]string {
	return h.HeadersAt(payload, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond
// timestamp.
func (h *HMACAuth) HeadersAt(payload string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)
	recv := strconv.FormatInt(h.recvWindow().Milliseconds(), 10)

	return map[string]string{
		HeaderAPIKey:     h.Key,
		HeaderTimestamp:  ts,
		HeaderRecvWindow: recv,
		HeaderSign:       Sign(h.Secret, ts+h.Key+recv+payload),
		HeaderSignType:   "2",
	}
}

func (h *HMACAuth) recvWindow() time.Duration {
	if h.RecvWindow <= 0 {
		return 5 * time.Second
	}
	return h.RecvWindow
}

// Sign computes HMAC-SHA256 of message using secret and returns it hex encoded.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
