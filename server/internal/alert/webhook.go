// Package alert sends outbound webhook notifications for safety-critical
// fleet events: a device entering Emergency or ReturningHome, or being
// evicted by the dead-session sweep. Email alerting is not carried forward
// — see DESIGN.md.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrSendFailed wraps any failure delivering a webhook notification.
var ErrSendFailed = fmt.Errorf("alert: webhook send failed")

// EventType identifies why an alert fired.
type EventType string

const (
	EventEmergency     EventType = "fleet.emergency"
	EventReturningHome EventType = "fleet.returning_home"
	EventSessionDead   EventType = "fleet.session_dead"
)

// payload is the JSON body sent to the webhook endpoint. The "text" field
// keeps it directly compatible with Slack/Discord incoming webhooks, while
// "payload" carries structured data for custom integrations.
type payload struct {
	Type      EventType      `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Config configures the webhook sender. A zero-value Config (empty URL)
// disables alerting silently.
type Config struct {
	URL    string
	Secret string
}

// Sender delivers fleet alerts via an outbound HTTP POST, optionally
// HMAC-SHA256 signed when Config.Secret is set.
type Sender struct {
	client *http.Client
	cfg    Config
}

// New creates a Sender. An empty cfg.URL means Send is a silent no-op.
func New(cfg Config) *Sender {
	return &Sender{
		client: &http.Client{Timeout: 10 * time.Second},
		cfg:    cfg,
	}
}

// Send serializes the event as JSON and POSTs it to the configured webhook
// URL. If no URL is configured, Send returns nil without making a request.
// Non-2xx responses are treated as delivery failures wrapped in
// ErrSendFailed.
func (s *Sender) Send(ctx context.Context, eventType EventType, title, body string, extra map[string]any) error {
	if s.cfg.URL == "" {
		return nil
	}

	data, err := json.Marshal(payload{
		Type:      eventType,
		Title:     title,
		Body:      body,
		Payload:   extra,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal alert payload: %s", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: build request: %s", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Skylink-Alert/1.0")

	if s.cfg.Secret != "" {
		req.Header.Set("X-Skylink-Signature", "sha256="+hmacSHA256(data, s.cfg.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: non-2xx status %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
