package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/timmy-time/catalyst/internal/model"
)

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

type genericWebhookPayload struct {
	Type      model.AlertRuleType `json:"type"`
	Severity  model.AlertSeverity `json:"severity"`
	Title     string              `json:"title"`
	Message   string              `json:"message"`
	ServerID  string              `json:"serverId,omitempty"`
	NodeID    string              `json:"nodeId,omitempty"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	Timestamp string              `json:"timestamp"`
}

const (
	colorWarning  = 0xF5A623
	colorCritical = 0xD0021B
)

type webhookSender struct {
	client *http.Client
}

func newWebhookSender() *webhookSender {
	return &webhookSender{client: &http.Client{Timeout: 10 * time.Second}}
}

// Send POSTs the alert to url, shaping the body as a Discord embed for
// Discord webhook hosts and as a generic JSON envelope otherwise (spec §4.4
// Dispatch). The request is HMAC-SHA256 signed when secret is non-empty.
func (s *webhookSender) Send(ctx context.Context, url, secret string, a model.Alert) error {
	var data []byte
	var err error

	if strings.Contains(url, "discord.com") || strings.Contains(url, "discordapp.com") {
		color := colorWarning
		if a.Severity == model.SeverityCritical {
			color = colorCritical
		}
		data, err = json.Marshal(discordPayload{Embeds: []webhookEmbed{{
			Title:       a.Title,
			Description: a.Message,
			Color:       color,
			Timestamp:   a.CreatedAt.UTC().Format(time.RFC3339),
		}}})
	} else {
		data, err = json.Marshal(genericWebhookPayload{
			Type: a.Type, Severity: a.Severity, Title: a.Title, Message: a.Message,
			ServerID: a.ServerID, NodeID: a.NodeID, Metadata: a.Metadata,
			Timestamp: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err != nil {
		return fmt.Errorf("alerts: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("alerts: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Catalyst-Alerts/1.0")
	if secret != "" {
		req.Header.Set("X-Catalyst-Signature", "sha256="+hmacSHA256(data, secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: webhook returned non-2xx status %d", resp.StatusCode)
	}
	return nil
}

func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
