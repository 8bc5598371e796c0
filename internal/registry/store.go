package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"ipwatch/internal/utils"
)

// ErrNoCache indicates that no cached server list exists yet
var ErrNoCache = errors.New("no cached server list")

// Snapshot is the cached form of the server registry
type Snapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	Servers   []Entry   `json:"servers"`
}

// CacheStore persists registry snapshots between runs. Implementations
// must tolerate concurrent processes reading while one writes.
type CacheStore interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// FileStore is the on-disk cache store
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed cache store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the cached snapshot
func (s *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCache
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse cache file %s: %w", s.path, err)
	}

	return &snap, nil
}

// Save writes the snapshot with an atomic replace
func (s *FileStore) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return utils.WriteFileAtomic(s.path, data, 0644)
}

// MemoryStore is an in-memory cache store for tests
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemoryStore creates an in-memory cache store, optionally pre-seeded
func NewMemoryStore(snap *Snapshot) *MemoryStore {
	return &MemoryStore{snap: snap}
}

// Load returns the stored snapshot
func (s *MemoryStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		return nil, ErrNoCache
	}
	snap := *s.snap
	return &snap, nil
}

// Save stores the snapshot
func (s *MemoryStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *snap
	s.snap = &copied
	return nil
}
