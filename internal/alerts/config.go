package alerts

import (
	"context"
	"fmt"
	"strconv"

	"github.com/timmy-time/catalyst/internal/store"
)

// Setting keys consulted by the alert engine's transports (spec §4.4.1),
// namespaced so they never collide with other configuration stored in the
// same generic Setting table.
const (
	KeySMTPHost     = "smtp.host"
	KeySMTPPort     = "smtp.port"
	KeySMTPUsername = "smtp.username"
	KeySMTPPassword = "smtp.password" // encrypted at rest by sqlstore.EncryptedString
	KeySMTPFrom     = "smtp.from"
	KeySMTPTLS      = "smtp.tls"

	KeyWebhookSecret = "webhook.secret" // HMAC secret applied to every outbound webhook, encrypted at rest
)

// SMTPConfig holds the configuration needed to send alert emails.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// ErrConfigNotFound indicates the requested transport has no settings rows at
// all. The first email dispatch records such a delivery as sent (transport
// disabled); the retry pass records it as failed with this error.
var ErrConfigNotFound = fmt.Errorf("alerts: transport not configured")

func loadSMTPConfig(ctx context.Context, settings store.SettingStore) (*SMTPConfig, error) {
	rows, err := settings.GetMany(ctx, "smtp.")
	if err != nil {
		return nil, fmt.Errorf("alerts: load smtp settings: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrConfigNotFound
	}

	host := rows[KeySMTPHost]
	if host == "" {
		return nil, fmt.Errorf("alerts: smtp.host is required")
	}
	portStr := rows[KeySMTPPort]
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("alerts: smtp.port must be a valid port number")
	}
	from := rows[KeySMTPFrom]
	if from == "" {
		return nil, fmt.Errorf("alerts: smtp.from is required")
	}

	return &SMTPConfig{
		Host:     host,
		Port:     port,
		Username: rows[KeySMTPUsername],
		Password: rows[KeySMTPPassword],
		From:     from,
		TLS:      rows[KeySMTPTLS] == "true",
	}, nil
}

func loadWebhookSecret(ctx context.Context, settings store.SettingStore) string {
	secret, err := settings.Get(ctx, KeyWebhookSecret)
	if err != nil {
		return ""
	}
	return secret
}
