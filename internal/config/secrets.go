package config

import (
	"fmt"
	"slices"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/crypto"
)

// ResolveSecret returns the Bybit API secret from the plain value or the
// encrypted file.
func ResolveSecret(cfg *Config) (string, error) {
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Bybit.APISecret,
		EncryptedPath: cfg.Bybit.EncryptedSecretPath,
		Password:      cfg.Bybit.SecretPassword,
	})
	if err != nil {
		return "", fmt.Errorf("config: resolve bybit secret: %w", err)
	}
	return secret, nil
}

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Bybit.APIKey)
	redact(&out.Bybit.APISecret)
	redact(&out.Bybit.SecretPassword)

	redact(&out.Redis.Password)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Protection.FloorTiers = slices.Clone(cfg.Protection.FloorTiers)
	out.Risk.MinNotionalAllowlist = slices.Clone(cfg.Risk.MinNotionalAllowlist)
	out.Universe.Volatile = slices.Clone(cfg.Universe.Volatile)
	out.Universe.Include = slices.Clone(cfg.Universe.Include)
	out.Universe.Exclude = slices.Clone(cfg.Universe.Exclude)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
