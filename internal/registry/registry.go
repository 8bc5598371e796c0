package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"ipwatch/internal/config"
)

// maxPayloadBytes bounds the remote server list payload
const maxPayloadBytes = 1 << 20

// ParseMode describes how a lookup service's response is parsed
type ParseMode string

const (
	// ParsePlainText treats the trimmed response body as the address
	ParsePlainText ParseMode = "plain_text"

	// ParseJSONField extracts a named top-level field of a JSON body
	ParseJSONField ParseMode = "json_field"
)

// Entry represents one external IP lookup service. Immutable once loaded.
type Entry struct {
	URL   string    `json:"url"`
	Parse ParseMode `json:"parse_mode"`
	Field string    `json:"field_name,omitempty"` // JSON field name, json_field mode only
}

// UnmarshalJSON accepts either a full entry object or a bare URL string.
// The upstream ipwatch list is a plain array of URL strings.
func (e *Entry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var u string
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		*e = Entry{URL: u, Parse: ParsePlainText}
		return nil
	}

	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// validate normalizes the entry and reports whether it is usable
func (e *Entry) validate() error {
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("malformed url %q: %w", e.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q in %q", u.Scheme, e.URL)
	}

	switch e.Parse {
	case "":
		e.Parse = ParsePlainText
	case ParsePlainText:
	case ParseJSONField:
		if e.Field == "" {
			return fmt.Errorf("entry %q uses json_field mode without a field name", e.URL)
		}
	default:
		return fmt.Errorf("unrecognized parse mode %q for %q", e.Parse, e.URL)
	}

	return nil
}

// Registry is the ordered list of lookup services for one cycle
type Registry struct {
	Entries   []Entry
	FetchedAt time.Time
}

// Manager loads the server registry, refreshing the cached copy from the
// canonical remote list when it goes stale
type Manager struct {
	cfg      *config.RegistryConfig
	store    CacheStore
	client   *http.Client
	readOnly bool // skip cache writes (dry run)
	logger   *zap.Logger
}

// NewManager creates a registry manager
func NewManager(cfg *config.RegistryConfig, store CacheStore, readOnly bool, logger *zap.Logger) *Manager {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}

	return &Manager{
		cfg:      cfg,
		store:    store,
		client:   client,
		readOnly: readOnly,
		logger:   logger,
	}
}

// Load returns a usable registry. The fallback chain is fresh cache ->
// remote fetch -> stale cache -> built-in default list, so this never
// fails outright.
func (m *Manager) Load(ctx context.Context) *Registry {
	snap, err := m.store.Load()
	if err != nil && !errors.Is(err, ErrNoCache) {
		m.logger.Warn("Failed to read server list cache", zap.Error(err))
	}

	if snap != nil && len(snap.Servers) > 0 && time.Since(snap.FetchedAt) < m.cfg.MaxAge {
		return &Registry{Entries: snap.Servers, FetchedAt: snap.FetchedAt}
	}

	// Cache is missing or stale; try the canonical remote list.
	reg, err := m.refresh(ctx)
	if err == nil {
		return reg
	}
	m.logger.Warn("Failed to refresh server list",
		zap.String("url", m.cfg.RemoteURL),
		zap.Error(err))

	if snap != nil && len(snap.Servers) > 0 {
		m.logger.Info("Using stale server list cache",
			zap.Time("fetched_at", snap.FetchedAt),
			zap.Int("servers", len(snap.Servers)))
		return &Registry{Entries: snap.Servers, FetchedAt: snap.FetchedAt}
	}

	m.logger.Info("Using built-in server list", zap.Int("servers", len(builtinEntries)))
	return &Registry{Entries: builtinServers()}
}

// refresh fetches the remote list, validates it and updates the cache
func (m *Manager) refresh(ctx context.Context) (*Registry, error) {
	entries, err := m.fetchRemote(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snap := &Snapshot{FetchedAt: now, Servers: entries}

	if !m.readOnly {
		if err := m.store.Save(snap); err != nil {
			// The fetched list is still good for this cycle.
			m.logger.Error("Failed to write server list cache", zap.Error(err))
		}
	}

	m.logger.Info("Refreshed server list",
		zap.String("url", m.cfg.RemoteURL),
		zap.Int("servers", len(entries)))

	return &Registry{Entries: entries, FetchedAt: now}, nil
}

// fetchRemote downloads and validates the canonical server list
func (m *Manager) fetchRemote(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.RemoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server list source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	raw, err := decodeServerList(body)
	if err != nil {
		return nil, err
	}

	// Malformed entries are skipped with a warning, not fatal.
	entries := make([]Entry, 0, len(raw))
	for _, entry := range raw {
		if err := entry.validate(); err != nil {
			m.logger.Warn("Skipping malformed server entry", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("server list contained no usable entries")
	}

	return entries, nil
}

// decodeServerList accepts both a bare entry array and an object wrapping
// it in a "servers" field
func decodeServerList(body []byte) ([]Entry, error) {
	var wrapped struct {
		Servers []Entry `json:"servers"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Servers) > 0 {
		return wrapped.Servers, nil
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("malformed server list payload: %w", err)
	}
	return entries, nil
}
