package display

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// CodeStore persists the device code of a display across restarts.
type CodeStore interface {
	// Load returns the stored code, or "" if none is stored.
	Load() (string, error)
	Save(code string) error
	Clear() error
}

type storedState struct {
	DeviceCode string `toml:"device_code"`
}

// FileCodeStore keeps the device code in a TOML file.
type FileCodeStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCodeStore creates a store backed by the file at path.
func NewFileCodeStore(path string) *FileCodeStore {
	return &FileCodeStore{path: path}
}

// Path returns the state file location.
func (s *FileCodeStore) Path() string {
	return s.path
}

// Load reads the stored code. A missing file is not an error.
func (s *FileCodeStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st storedState
	if _, err := toml.DecodeFile(s.path, &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading display state from %s: %w", s.path, err)
	}
	return st.DeviceCode, nil
}

// Save writes code, replacing the file atomically.
func (s *FileCodeStore) Save(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".display-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(storedState{DeviceCode: code}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode display state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write display state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace display state: %w", err)
	}
	return nil
}

// Clear removes the stored code.
func (s *FileCodeStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear display state: %w", err)
	}
	return nil
}

var _ CodeStore = (*FileCodeStore)(nil)
