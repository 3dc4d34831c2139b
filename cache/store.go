package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("cache miss")

// ErrIntegrity is returned by Put when the key already holds different
// content. Keys are write-once; a collision is never silently overwritten.
var ErrIntegrity = errors.New("cache integrity conflict")

// Store is a content-addressed key/value store for reusable setup
// artifacts. Entries are a blob file plus a JSON sidecar under dir;
// the in-memory index is rebuilt by scanning the directory on open.
type Store struct {
	dir      string
	capacity int64 // total blob bytes before eviction, 0 = unbounded

	mu      sync.Mutex
	entries map[string]*entry
	size    int64
}

type entry struct {
	Key        string    `json:"key"`
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	LastAccess time.Time `json:"last_access"`

	pins int
}

// Open creates or reopens a store rooted at dir. capacity limits total
// stored bytes; least-recently-used entries are evicted past it.
func Open(dir string, capacity int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{
		dir:      dir,
		capacity: capacity,
		entries:  make(map[string]*entry),
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache directory: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil || e.Key == "" {
			continue
		}
		if _, err := os.Stat(s.blobPath(e.Key)); err != nil {
			// Sidecar without blob, drop it
			os.Remove(filepath.Join(dir, f.Name()))
			continue
		}
		s.entries[e.Key] = &e
		s.size += e.Size
	}

	return s, nil
}

// Put stores blob under key. Re-putting identical content is an
// idempotent success with at most one physical write; differing content
// under an existing key fails with ErrIntegrity.
func (s *Store) Put(key string, blob []byte) error {
	sum := sha256.Sum256(blob)
	digest := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		if existing.SHA256 != digest {
			return fmt.Errorf("%w: key %q already holds different content", ErrIntegrity, key)
		}
		existing.LastAccess = time.Now()
		s.writeSidecar(existing)
		return nil
	}

	blobPath := s.blobPath(key)
	tmp := blobPath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("failed to write cache blob: %w", err)
	}
	if err := os.Rename(tmp, blobPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache blob: %w", err)
	}

	e := &entry{
		Key:        key,
		SHA256:     digest,
		Size:       int64(len(blob)),
		LastAccess: time.Now(),
	}
	s.writeSidecar(e)
	s.entries[key] = e
	s.size += e.Size

	s.evictLocked()
	return nil
}

// Get returns the blob stored under key, or ErrMiss. The entry is pinned
// for the duration of the read so a concurrent eviction sweep cannot
// remove it mid-flight.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrMiss, key)
	}
	e.pins++
	s.mu.Unlock()

	blob, err := os.ReadFile(s.blobPath(key))

	s.mu.Lock()
	e.pins--
	if err == nil {
		e.LastAccess = time.Now()
		s.writeSidecar(e)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to read cache blob: %w", err)
	}
	return blob, nil
}

// Len returns the number of stored entries
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Size returns the total stored blob bytes
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// evictLocked removes least-recently-used unpinned entries until the
// store is under capacity. Caller holds s.mu.
func (s *Store) evictLocked() {
	if s.capacity <= 0 || s.size <= s.capacity {
		return
	}

	candidates := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.pins == 0 {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for _, e := range candidates {
		if s.size <= s.capacity {
			return
		}
		os.Remove(s.blobPath(e.Key))
		os.Remove(s.sidecarPath(e.Key))
		s.size -= e.Size
		delete(s.entries, e.Key)
	}
}

func (s *Store) writeSidecar(e *entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	// Best effort: a missing sidecar only loses the entry on reopen
	_ = os.WriteFile(s.sidecarPath(e.Key), data, 0644)
}

func (s *Store) blobPath(key string) string {
	return filepath.Join(s.dir, keyID(key)+".blob")
}

func (s *Store) sidecarPath(key string) string {
	return filepath.Join(s.dir, keyID(key)+".json")
}

// keyID maps an arbitrary key string to a safe filename
func keyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
