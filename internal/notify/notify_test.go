package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ipwatch/internal/config"
	"ipwatch/internal/types"
)

type stubNotifier struct {
	name  string
	err   error
	calls int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) NotifyIPChange(_ *types.ChangeEvent) error {
	s.calls++
	return s.err
}

func TestManagerEnabled(t *testing.T) {
	m, err := NewManager(&config.NotifyConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	m, err = NewManager(&config.NotifyConfig{
		Webhook: &config.WebhookConfig{Enabled: true, URL: "https://hooks.example.com"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, m.Enabled())
}

func TestManagerSkipsDisabledChannels(t *testing.T) {
	m, err := NewManager(&config.NotifyConfig{
		Email:    &config.EmailConfig{Enabled: false},
		Webhook:  &config.WebhookConfig{Enabled: false},
		Telegram: &config.TelegramConfig{Enabled: false},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, m.Enabled())
}

func TestManagerFansOutToAllChannels(t *testing.T) {
	a := &stubNotifier{name: "a"}
	b := &stubNotifier{name: "b"}
	m := &Manager{logger: zaptest.NewLogger(t), notifiers: []Notifier{a, b}}

	require.NoError(t, m.NotifyIPChange(testChangeEvent()))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestManagerContinuesAfterChannelFailure(t *testing.T) {
	failed := &stubNotifier{name: "broken", err: errors.New("unreachable")}
	ok := &stubNotifier{name: "ok"}
	m := &Manager{logger: zaptest.NewLogger(t), notifiers: []Notifier{failed, ok}}

	err := m.NotifyIPChange(testChangeEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken notification failed")
	// The healthy channel was still attempted.
	assert.Equal(t, 1, ok.calls)
}
