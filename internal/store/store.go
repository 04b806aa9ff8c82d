package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a key doesn't exist.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidScope is returned when an invalid scope is provided.
	ErrInvalidScope = errors.New("invalid scope: must be global, folder, or page")
)

// Store is a file-backed key-value store. Each scope key maps to one JSON
// file written atomically.
type Store struct {
	mu  sync.RWMutex
	dir string
	now func() time.Time
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// DefaultDir returns the per-user store directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(base, "perfdash", "store"), nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

func validateScope(scope string) error {
	switch scope {
	case ScopeGlobal, ScopeFolder, ScopePage:
		return nil
	}
	return ErrInvalidScope
}

func (s *Store) path(scope, scopeKey string) string {
	if scope == ScopeGlobal {
		return filepath.Join(s.dir, scope, "global.json")
	}
	return filepath.Join(s.dir, scope, hashScopeKey(scopeKey)+".json")
}

// Get returns the entry for key.
func (s *Store) Get(scope, scopeKey, key string) (*Entry, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sf, err := loadScopeFile(s.path(scope, scopeKey))
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, ErrNotFound
	}
	entry, ok := sf.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// GetInto decodes the value for key into v.
func (s *Store) GetInto(scope, scopeKey, key string, v any) error {
	entry, err := s.Get(scope, scopeKey, key)
	if err != nil {
		return err
	}
	return entry.Decode(v)
}

// Set stores value under key. Updating an entry keeps its creation time.
func (s *Store) Set(scope, scopeKey, key string, value any) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(scope, scopeKey)
	sf, err := loadScopeFile(path)
	if err != nil {
		return err
	}
	if sf == nil {
		sf = newScopeFile(scope, scopeKey)
	}

	now := s.now()
	entry := &Entry{Value: raw, CreatedAt: now, UpdatedAt: now}
	if existing, ok := sf.Entries[key]; ok {
		entry.CreatedAt = existing.CreatedAt
	}
	sf.Entries[key] = entry
	sf.UpdatedAt = now
	return saveScopeFile(path, sf)
}

// Delete removes key. The scope file is removed with its last entry.
func (s *Store) Delete(scope, scopeKey, key string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(scope, scopeKey)
	sf, err := loadScopeFile(path)
	if err != nil {
		return err
	}
	if sf == nil {
		return ErrNotFound
	}
	if _, ok := sf.Entries[key]; !ok {
		return ErrNotFound
	}
	delete(sf.Entries, key)

	if len(sf.Entries) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove empty store file: %w", err)
		}
		return nil
	}
	sf.UpdatedAt = s.now()
	return saveScopeFile(path, sf)
}

// List returns the keys of a scope in sorted order.
func (s *Store) List(scope, scopeKey string) ([]string, error) {
	entries, err := s.GetAll(scope, scopeKey)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetAll returns every entry of a scope.
func (s *Store) GetAll(scope, scopeKey string) (map[string]*Entry, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sf, err := loadScopeFile(s.path(scope, scopeKey))
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return map[string]*Entry{}, nil
	}
	return sf.Entries, nil
}

// Clear removes a whole scope.
func (s *Store) Clear(scope, scopeKey string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(scope, scopeKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove store file: %w", err)
	}
	return nil
}

// loadScopeFile returns nil with no error if the file doesn't exist.
func loadScopeFile(path string) (*scopeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	var sf scopeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse store file %s: %w", path, err)
	}
	if sf.Entries == nil {
		sf.Entries = make(map[string]*Entry)
	}
	return &sf, nil
}

// saveScopeFile writes via temp file + rename.
func saveScopeFile(path string, sf *scopeFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
