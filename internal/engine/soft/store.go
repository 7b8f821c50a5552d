package soft

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/wire"
)

// Record is the persisted form of a key bound to an alias.
type Record struct {
	Alias       string            `json:"alias"`
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Family      string            `json:"family"`
	Algorithm   string            `json:"algorithm"`
	Extractable bool              `json:"extractable"`
	Usages      []string          `json:"usages"`
	Kind        string            `json:"kind"`
	Hash        *wire.ShaMetadata `json:"hash,omitempty"`
	Material    []byte            `json:"material"`
}

// Store persists key records by alias.
type Store interface {
	Exists(alias string) (bool, error)
	// Put stores a new record. It fails with engine.ErrKeyExists when the
	// alias is taken.
	Put(rec Record) error
	// Get fails with engine.ErrKeyNotFound for an unknown alias.
	Get(alias string) (Record, error)
	Delete(alias string) error
	List() ([]string, error)
}

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Exists(alias string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[alias]
	return ok, nil
}

func (s *MemoryStore) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Alias]; ok {
		return fmt.Errorf("%w: alias %s", engine.ErrKeyExists, rec.Alias)
	}
	rec.Material = append([]byte(nil), rec.Material...)
	s.records[rec.Alias] = rec
	return nil
}

func (s *MemoryStore) Get(alias string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[alias]
	if !ok {
		return Record{}, fmt.Errorf("%w: alias %s", engine.ErrKeyNotFound, alias)
	}
	return rec, nil
}

func (s *MemoryStore) Delete(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[alias]; !ok {
		return fmt.Errorf("%w: alias %s", engine.ErrKeyNotFound, alias)
	}
	delete(s.records, alias)
	return nil
}

func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for alias := range s.records {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out, nil
}

// FileStore keeps one JSON file per alias in a directory.
// File names are the hex encoding of the alias so any alias is a valid name.
type FileStore struct {
	dir string
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)

const recordExt = ".json"

// NewFileStore opens (and creates if needed) a record directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the record directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(alias string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(alias))+recordExt)
}

func (s *FileStore) Exists(alias string) (bool, error) {
	_, err := os.Stat(s.path(alias))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat key record: %w", err)
}

func (s *FileStore) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}

	// O_EXCL makes the existence check and the creation a single step.
	f, err := os.OpenFile(s.path(rec.Alias), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: alias %s", engine.ErrKeyExists, rec.Alias)
		}
		return fmt.Errorf("failed to create key record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("failed to write key record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync key record: %w", err)
	}
	return f.Close()
}

func (s *FileStore) Get(alias string) (Record, error) {
	data, err := os.ReadFile(s.path(alias))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: alias %s", engine.ErrKeyNotFound, alias)
		}
		return Record{}, fmt.Errorf("failed to read key record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse key record %s: %w", alias, err)
	}
	return rec, nil
}

func (s *FileStore) Delete(alias string) error {
	if err := os.Remove(s.path(alias)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: alias %s", engine.ErrKeyNotFound, alias)
		}
		return fmt.Errorf("failed to delete key record: %w", err)
	}
	return nil
}

func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		alias, err := hex.DecodeString(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		out = append(out, string(alias))
	}
	sort.Strings(out)
	return out, nil
}
