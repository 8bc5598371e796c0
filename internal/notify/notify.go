package notify

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ipwatch/internal/config"
	"ipwatch/internal/types"
)

// Notifier represents a single notification channel
type Notifier interface {
	// Name returns the channel name for logging
	Name() string

	// NotifyIPChange sends an IP change notification
	NotifyIPChange(event *types.ChangeEvent) error
}

// Manager fans an IP change event out to every enabled channel
type Manager struct {
	logger    *zap.Logger
	notifiers []Notifier
}

// NewManager creates a notification manager with all enabled channels
func NewManager(cfg *config.NotifyConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{logger: logger}

	if cfg.Email != nil && cfg.Email.Enabled {
		email, err := NewEmailNotifier(cfg.Email, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email notifier: %w", err)
		}
		m.notifiers = append(m.notifiers, email)
	}

	if cfg.Webhook != nil && cfg.Webhook.Enabled {
		m.notifiers = append(m.notifiers, NewWebhookNotifier(cfg.Webhook, logger))
	}

	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		m.notifiers = append(m.notifiers, NewTelegramNotifier(cfg.Telegram, logger))
	}

	return m, nil
}

// Enabled reports whether any channel is configured
func (m *Manager) Enabled() bool {
	return len(m.notifiers) > 0
}

// NotifyIPChange sends the event to every channel and joins any failures.
// A non-nil return means at least one delivery failed; the caller decides
// whether the change counts as notified.
func (m *Manager) NotifyIPChange(event *types.ChangeEvent) error {
	var errs []error

	for _, n := range m.notifiers {
		if err := n.NotifyIPChange(event); err != nil {
			m.logger.Error("Notification failed",
				zap.String("notifier", n.Name()),
				zap.String("event_id", event.EventID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s notification failed: %w", n.Name(), err))
			continue
		}
		m.logger.Info("Notification sent",
			zap.String("notifier", n.Name()),
			zap.String("event_id", event.EventID))
	}

	return errors.Join(errs...)
}
