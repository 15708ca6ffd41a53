package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/castboard/castboard/internal/auth"
)

type storedSession struct {
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	UserID       string `toml:"user_id,omitempty"`
	Email        string `toml:"email,omitempty"`
}

// FileTokenStore keeps a session in a TOML file readable only by its owner.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a store backed by the file at path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load reads the stored session. A missing file yields empty tokens.
func (s *FileTokenStore) Load() (Tokens, error) {
	var st storedSession
	if _, err := toml.DecodeFile(s.path, &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Tokens{}, nil
		}
		return Tokens{}, fmt.Errorf("reading session from %s: %w", s.path, err)
	}

	t := Tokens{AccessToken: st.AccessToken, RefreshToken: st.RefreshToken}
	if st.UserID != "" || st.Email != "" {
		t.User = &auth.User{ID: st.UserID, Email: st.Email}
	}
	return t, nil
}

// Save writes t, replacing the file atomically.
func (s *FileTokenStore) Save(t Tokens) error {
	st := storedSession{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if t.User != nil {
		st.UserID = t.User.ID
		st.Email = t.User.Email
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(st); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}
	return nil
}

// Clear removes the stored session.
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
