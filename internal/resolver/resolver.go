package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ipwatch/internal/registry"
	"ipwatch/internal/types"
	"ipwatch/internal/utils"
)

// maxResponseBytes bounds a lookup service response body
const maxResponseBytes = 4 << 10

// Some lookup services answer differently (or not at all) to obvious bot
// user agents.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// AttemptError records why a single lookup attempt failed
type AttemptError struct {
	Server string
	Err    error
}

// ResolutionError reports that every lookup attempt failed. It is a soft
// failure: the caller skips notification for this cycle and tries again
// on the next one.
type ResolutionError struct {
	Attempts []AttemptError
}

// Error implements the error interface
func (e *ResolutionError) Error() string {
	if len(e.Attempts) == 0 {
		return "external address resolution failed: no attempts made"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("external address resolution failed after %d attempts, last error from %s: %v",
		len(e.Attempts), last.Server, last.Err)
}

// Options configures a Resolver
type Options struct {
	TryCount  int           // total attempts across the server list
	Timeout   time.Duration // per-request timeout
	Blacklist *Blacklist
}

// Resolver queries lookup services in registry order until one returns a
// valid, non-blacklisted external address
type Resolver struct {
	client    *http.Client
	blacklist *Blacklist
	tryCount  int
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a resolver
func New(opts Options, logger *zap.Logger) *Resolver {
	if opts.TryCount <= 0 {
		opts.TryCount = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
		},
	}

	return &Resolver{
		client:    client,
		blacklist: opts.Blacklist,
		tryCount:  opts.TryCount,
		timeout:   opts.Timeout,
		logger:    logger,
	}
}

// ResolveExternal iterates server entries in registry order, wrapping
// around until the configured try count is exhausted, and returns the
// first validated success. All failures are collected into the returned
// *ResolutionError for diagnostics.
func (r *Resolver) ResolveExternal(ctx context.Context, reg *registry.Registry) (*types.ResolvedAddress, error) {
	if reg == nil || len(reg.Entries) == 0 {
		return nil, fmt.Errorf("server registry is empty")
	}

	resErr := &ResolutionError{}
	for attempt := 0; attempt < r.tryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			resErr.Attempts = append(resErr.Attempts, AttemptError{Server: "", Err: err})
			break
		}

		entry := reg.Entries[attempt%len(reg.Entries)]
		addr, err := r.query(ctx, entry)
		if err != nil {
			r.logger.Warn("Lookup attempt failed",
				zap.Int("attempt", attempt+1),
				zap.String("server", entry.URL),
				zap.Error(err))
			resErr.Attempts = append(resErr.Attempts, AttemptError{Server: entry.URL, Err: err})
			continue
		}

		r.logger.Debug("Resolved external address",
			zap.Int("attempt", attempt+1),
			zap.String("server", entry.URL),
			zap.String("ip", addr.Value))
		return addr, nil
	}

	return nil, resErr
}

// query performs a single bounded-timeout request against one entry
func (r *Resolver) query(ctx context.Context, entry registry.Entry) (*types.ResolvedAddress, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain, application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	value, err := parseBody(entry, body)
	if err != nil {
		return nil, err
	}

	if !utils.IsValidIP(value) {
		return nil, fmt.Errorf("invalid IP address: %q", value)
	}

	if r.blacklist.Match(value) {
		return nil, fmt.Errorf("address %s is blacklisted", value)
	}

	family, _ := utils.FamilyOf(value)
	return &types.ResolvedAddress{
		Value:      value,
		Family:     family,
		Source:     types.SourceExternal,
		Server:     entry.URL,
		ResolvedAt: time.Now(),
	}, nil
}

// parseBody extracts the candidate address per the entry's parse mode
func parseBody(entry registry.Entry, body []byte) (string, error) {
	switch entry.Parse {
	case registry.ParseJSONField:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return "", fmt.Errorf("malformed JSON response: %w", err)
		}
		raw, ok := fields[entry.Field]
		if !ok {
			return "", fmt.Errorf("response has no %q field", entry.Field)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", fmt.Errorf("field %q is not a string: %w", entry.Field, err)
		}
		return strings.TrimSpace(value), nil

	default: // plain text
		value := strings.TrimSpace(string(body))
		if value == "" {
			return "", fmt.Errorf("empty response body")
		}
		return value, nil
	}
}
