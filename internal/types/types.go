package types

import (
	"fmt"
	"time"
)

// IPFamily identifies the address family of a resolved address
type IPFamily string

const (
	IPv4 IPFamily = "ipv4"
	IPv6 IPFamily = "ipv6"
)

// AddressSource identifies how an address was discovered
type AddressSource string

const (
	SourceExternal AddressSource = "external"
	SourceLocal    AddressSource = "local"
)

// ResolvedAddress represents a single validated resolution result
type ResolvedAddress struct {
	Value      string        `json:"value"`
	Family     IPFamily      `json:"family"`
	Source     AddressSource `json:"source"`
	Server     string        `json:"server,omitempty"` // lookup service that answered, external only
	ResolvedAt time.Time     `json:"resolved_at"`
}

// SavedState represents the last known addresses persisted between runs
type SavedState struct {
	External  string
	Local     string
	CheckedAt time.Time
}

// Change represents one address difference against the saved state
type Change struct {
	Source AddressSource `json:"source"`
	Old    string        `json:"old,omitempty"`
	New    string        `json:"new"`
}

// String returns a human readable description of the change
func (c *Change) String() string {
	old := c.Old
	if old == "" {
		old = "(none)"
	}
	return fmt.Sprintf("%s IP changed: %s -> %s", c.Source, old, c.New)
}

// ChangeSet enumerates which addresses changed during a cycle
type ChangeSet struct {
	External *Change `json:"external,omitempty"`
	Local    *Change `json:"local,omitempty"`
	FirstRun bool    `json:"first_run"`
}

// HasChanges reports whether any address changed
func (cs *ChangeSet) HasChanges() bool {
	return cs.External != nil || cs.Local != nil
}

// Summaries returns one description line per change
func (cs *ChangeSet) Summaries() []string {
	var lines []string
	if cs.External != nil {
		lines = append(lines, cs.External.String())
	}
	if cs.Local != nil {
		lines = append(lines, cs.Local.String())
	}
	return lines
}

// ChangeEvent is handed to notifiers and the history store when a cycle
// detects at least one change
type ChangeEvent struct {
	EventID   string    `json:"event_id"`
	Machine   string    `json:"machine"`
	Hostname  string    `json:"hostname"`
	Changes   ChangeSet `json:"changes"`
	Server    string    `json:"server,omitempty"` // lookup service the external address came from
	Timestamp time.Time `json:"timestamp"`
}

// Status represents the monitor state exposed over the status API
type Status struct {
	Machine    string    `json:"machine"`
	External   string    `json:"external_ip,omitempty"`
	Local      string    `json:"local_ip,omitempty"`
	LastCheck  time.Time `json:"last_check"`
	LastChange time.Time `json:"last_change,omitempty"`
	Cycles     int64     `json:"cycles"`
	LastError  string    `json:"last_error,omitempty"`
}
