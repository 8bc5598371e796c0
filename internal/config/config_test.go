package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultTryCount, cfg.TryCount)
	assert.Equal(t, DefaultBlacklist, cfg.IPBlacklist)
	assert.Equal(t, DefaultRegistryURL, cfg.Registry.RemoteURL)
	assert.Equal(t, DefaultRegistryMaxAge, cfg.Registry.MaxAge)
	assert.Equal(t, DefaultLookupTimeout, cfg.LookupTimeout)
	assert.NotEmpty(t, cfg.SaveIPPath)
	assert.NotEmpty(t, cfg.Registry.CacheFile)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
machine: homeserver
receiver_email: ops@example.com, backup@example.com
try_count: 3
repeat: 300
registry:
  max_age: 720h
notify:
  email:
    enabled: true
    mode: command
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "homeserver", cfg.Machine)
	assert.Equal(t, 3, cfg.TryCount)
	assert.Equal(t, 300, cfg.Repeat)
	assert.Equal(t, 720*time.Hour, cfg.Registry.MaxAge)
	assert.Equal(t, []string{"ops@example.com", "backup@example.com"}, cfg.Receivers())

	require.NotNil(t, cfg.Notify.Email)
	assert.Equal(t, "command", cfg.Notify.Email.Mode)
	assert.Equal(t, "/usr/bin/mail", cfg.Notify.Email.Command)

	require.NoError(t, cfg.Validate())
	// receiver_email was folded into the email notifier.
	assert.Equal(t, []string{"ops@example.com", "backup@example.com"}, cfg.Notify.Email.To)
}

func TestValidateRequiresMachine(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())

	cfg.Machine = "homeserver"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadBlacklistPattern(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Machine = "homeserver"
	cfg.IPBlacklist = "192.168.[*.*"

	assert.Error(t, cfg.Validate())
}

func TestValidateEmailRequiresRecipients(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Machine = "homeserver"
	cfg.Notify.Email = &EmailConfig{Enabled: true, Mode: "command", Command: "/usr/bin/mail"}

	assert.Error(t, cfg.Validate())

	cfg.ReceiverEmail = "ops@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestValidateSMTPRequiresServerAndFrom(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Machine = "homeserver"
	cfg.ReceiverEmail = "ops@example.com"
	cfg.Notify.Email = &EmailConfig{Enabled: true, Mode: "smtp"}

	assert.Error(t, cfg.Validate())

	cfg.Notify.Email.SMTPServer = "smtp.example.com"
	cfg.Notify.Email.From = "ipwatch@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestValidateWebhookRequiresURL(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Machine = "homeserver"
	cfg.Notify.Webhook = &WebhookConfig{Enabled: true}

	assert.Error(t, cfg.Validate())

	cfg.Notify.Webhook.URL = "https://hooks.example.com/ipwatch"
	assert.NoError(t, cfg.Validate())
}

func TestBlacklistPatterns(t *testing.T) {
	cfg := &Config{IPBlacklist: "192.168.*.*, 10.*.*.*"}
	assert.Equal(t, []string{"192.168.*.*", "10.*.*.*"}, cfg.BlacklistPatterns())
}
