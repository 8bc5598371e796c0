package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ipwatch/internal/config"
	"ipwatch/internal/types"
	"ipwatch/internal/utils"
)

// TelegramNotifier sends change notifications through the Telegram bot API
type TelegramNotifier struct {
	config *config.TelegramConfig
	client *http.Client
	logger *zap.Logger
}

// telegramMessage represents a Telegram sendMessage request
type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// telegramResponse represents a Telegram API response
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewTelegramNotifier creates a Telegram notifier
func NewTelegramNotifier(cfg *config.TelegramConfig, logger *zap.Logger) *TelegramNotifier {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}

	return &TelegramNotifier{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// Name returns the channel name
func (n *TelegramNotifier) Name() string {
	return "telegram"
}

// NotifyIPChange sends an IP change notification to every configured chat
func (n *TelegramNotifier) NotifyIPChange(event *types.ChangeEvent) error {
	var b strings.Builder
	fmt.Fprintf(&b, "*IP change on %s* (%s)\n", event.Machine, event.Hostname)
	for _, line := range event.Changes.Summaries() {
		fmt.Fprintf(&b, "%s\n", line)
	}
	if event.Server != "" {
		fmt.Fprintf(&b, "Server queried: %s\n", event.Server)
	}
	fmt.Fprintf(&b, "Detected at %s", event.Timestamp.Format("2006-01-02 15:04:05 MST"))

	text := b.String()
	for _, chatID := range n.config.ChatIDs {
		if err := n.sendMessage(chatID, text); err != nil {
			return fmt.Errorf("failed to send to chat %s: %w", chatID, err)
		}
	}

	return nil
}

// sendMessage sends one message with retries
func (n *TelegramNotifier) sendMessage(chatID, text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.config.BotToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	}

	return utils.Retry(3, time.Second, func() error {
		return n.doSendMessage(url, msg)
	})
}

// doSendMessage performs the actual API call
func (n *TelegramNotifier) doSendMessage(url string, msg telegramMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !tr.OK {
		return fmt.Errorf("telegram API error: %s", tr.Description)
	}

	return nil
}
