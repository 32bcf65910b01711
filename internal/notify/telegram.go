package notify

import (
	"context"
	"net/http"
	"strings"
)

const (
	telegramAPI = "https://api.telegram.org"
	// telegramMaxText is the Bot API limit on message text, in characters.
	telegramMaxText = 4096
)

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. An empty baseURL selects the public Bot API.
func NewTelegramSender(token, chatID, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  defaultClient,
	}
}

// Send posts a plain-text message to the configured chat. Symbols and event
// names contain underscores, so no parse mode is set.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, t.Name(), t.baseURL+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncate(title+"\n"+message, telegramMaxText),
		"disable_web_page_preview": true,
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
