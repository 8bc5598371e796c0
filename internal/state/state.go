// Package state persists the last known addresses between runs in a
// human-readable key=value file.
package state

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ipwatch/internal/types"
	"ipwatch/internal/utils"
)

// Store reads and writes the saved-state file
type Store struct {
	path string
}

// NewStore creates a state store for the given file path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the saved state. A missing file is not an error and returns
// (nil, nil): that is the first-run case.
func (s *Store) Load() (*types.SavedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	saved := &types.SavedState{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("malformed state file %s: line %q", s.path, line)
		}

		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "external":
			if value != "" && !utils.IsValidIP(value) {
				return nil, fmt.Errorf("corrupt state file %s: invalid external address %q", s.path, value)
			}
			saved.External = value
		case "local":
			if value != "" && !utils.IsValidIP(value) {
				return nil, fmt.Errorf("corrupt state file %s: invalid local address %q", s.path, value)
			}
			saved.Local = value
		case "checked_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				saved.CheckedAt = t
			}
		default:
			// Unknown keys are tolerated for forward compatibility.
		}
	}

	return saved, nil
}

// Save writes the state with an atomic replace so an interrupted run never
// leaves a partial file behind
func (s *Store) Save(saved *types.SavedState) error {
	var b strings.Builder
	b.WriteString("# last known addresses, maintained by ipwatch\n")
	fmt.Fprintf(&b, "external=%s\n", saved.External)
	fmt.Fprintf(&b, "local=%s\n", saved.Local)
	if !saved.CheckedAt.IsZero() {
		fmt.Fprintf(&b, "checked_at=%s\n", saved.CheckedAt.UTC().Format(time.RFC3339))
	}

	if err := utils.WriteFileAtomic(s.path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to save state file: %w", err)
	}

	return nil
}
