package notify

import (
	"context"
	"net/http"
)

// discordMaxContent is the webhook limit on message content, in characters.
const discordMaxContent = 2000

// DiscordSender posts notifications to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender. A non-empty username overrides
// the webhook's display name.
func NewDiscordSender(webhookURL, username string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, username: username, client: defaultClient}
}

// Send posts the title in bold followed by the message, cut to the webhook
// limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"content":          truncate("**"+title+"**\n"+message, discordMaxContent),
		"allowed_mentions": map[string]any{"parse": []string{}},
	}
	if d.username != "" {
		payload["username"] = d.username
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, payload)
}

func (d *DiscordSender) Name() string { return "discord" }
