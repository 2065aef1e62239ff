package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/eugenenazirov/exchange-office/internal/currency"
	"github.com/eugenenazirov/exchange-office/internal/exchange"
)

var (
	// ErrNotFound indicates no table has been persisted yet.
	ErrNotFound = fmt.Errorf("storage: %w", exchange.ErrTableNotFound)
	// ErrCorrupt indicates the persisted table could not be decoded.
	ErrCorrupt = errors.New("storage: exchange table is corrupt")
)

// Storage persists the exchange rate table.
type Storage interface {
	Load() (exchange.Table, error)
	Save(table exchange.Table) error
}

// FileStorage keeps the table as a JSON document on disk.
// Constructing it does not touch the filesystem; the file appears on first Save.
type FileStorage struct {
	mu   sync.RWMutex
	path string
}

// NewFileStorage returns storage backed by the JSON file at path.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("storage: path must not be empty")
	}
	return &FileStorage{path: path}, nil
}

// Path returns the location of the JSON document.
func (s *FileStorage) Path() string {
	return s.path
}

// Load reads and decodes the stored table.
func (s *FileStorage) Load() (exchange.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return exchange.Table{}, ErrNotFound
		}
		return exchange.Table{}, fmt.Errorf("storage: read %s: %w", s.path, err)
	}

	var table exchange.Table
	if err := json.Unmarshal(data, &table); err != nil {
		return exchange.Table{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if table.Exchanges == nil {
		table.Exchanges = map[currency.Code]exchange.Rate{}
	}
	return table, nil
}

// Save atomically replaces the stored table.
func (s *FileStorage) Save(table exchange.Table) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode table: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("storage: replace %s: %w", s.path, err)
	}
	return nil
}

// MemoryStorage keeps the table in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu    sync.RWMutex
	table *exchange.Table
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load returns a copy of the stored table.
func (s *MemoryStorage) Load() (exchange.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.table == nil {
		return exchange.Table{}, ErrNotFound
	}
	return s.table.Clone(), nil
}

// Save stores a copy of table.
func (s *MemoryStorage) Save(table exchange.Table) error {
	clone := table.Clone()

	s.mu.Lock()
	s.table = &clone
	s.mu.Unlock()

	return nil
}
