package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ipwatch/internal/config"
	"ipwatch/internal/types"
	"ipwatch/internal/version"
)

// WebhookNotifier posts change events as JSON to a configured endpoint
type WebhookNotifier struct {
	config *config.WebhookConfig
	client *http.Client
	logger *zap.Logger
}

// webhookPayload is the wire format posted to the endpoint
type webhookPayload struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Machine   string         `json:"machine"`
	Hostname  string         `json:"hostname"`
	Data      map[string]any `json:"data"`
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(cfg *config.WebhookConfig, logger *zap.Logger) *WebhookNotifier {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}

	return &WebhookNotifier{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// Name returns the channel name
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// NotifyIPChange sends an IP change notification
func (n *WebhookNotifier) NotifyIPChange(event *types.ChangeEvent) error {
	data := map[string]any{
		"first_run":  event.Changes.FirstRun,
		"server":     event.Server,
		"changed_at": event.Timestamp,
	}
	if c := event.Changes.External; c != nil {
		data["external"] = map[string]string{"old": c.Old, "new": c.New}
	}
	if c := event.Changes.Local; c != nil {
		data["local"] = map[string]string{"old": c.Old, "new": c.New}
	}

	payload := webhookPayload{
		EventType: "ip.change",
		EventID:   event.EventID,
		Timestamp: event.Timestamp,
		Machine:   event.Machine,
		Hostname:  event.Hostname,
		Data:      data,
	}

	return n.send(payload)
}

// send posts the payload, signing it when a secret is configured
func (n *WebhookNotifier) send(payload webhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ipwatch-webhook/"+version.GetInfo().Version)
	if n.config.Secret != "" {
		req.Header.Set("X-IPWatch-Signature", signPayload(data, []byte(n.config.Secret)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

// signPayload computes the hex HMAC-SHA256 signature of the payload
func signPayload(data, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
