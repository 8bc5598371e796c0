package resolver

import (
	"fmt"
	"path/filepath"
)

// Blacklist holds glob patterns for addresses that must never be treated
// as valid discovery results, e.g. "192.168.*.*"
type Blacklist struct {
	patterns []string
}

// NewBlacklist creates a blacklist, rejecting malformed patterns
func NewBlacklist(patterns []string) (*Blacklist, error) {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, "0.0.0.0"); err != nil {
			return nil, fmt.Errorf("invalid blacklist pattern %q: %w", pattern, err)
		}
	}
	return &Blacklist{patterns: patterns}, nil
}

// Match reports whether ip matches any blacklist pattern
func (b *Blacklist) Match(ip string) bool {
	if b == nil {
		return false
	}
	for _, pattern := range b.patterns {
		if matched, _ := filepath.Match(pattern, ip); matched {
			return true
		}
	}
	return false
}

// Patterns returns the configured patterns
func (b *Blacklist) Patterns() []string {
	if b == nil {
		return nil
	}
	return b.patterns
}
