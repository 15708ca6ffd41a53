package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystemStore stores objects as files under a root directory:
//
//	<root>/
//	  uploads/
//	    <userID>/
//	      <unixMillis>_<fileName>
//
// URLs are formed by joining BaseURL and the object path.
type FileSystemStore struct {
	root    string
	baseURL string
}

// NewFileSystemStore creates the root directory if needed.
func NewFileSystemStore(root, baseURL string) (*FileSystemStore, error) {
	if root == "" {
		return nil, errors.New("filesystem store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &FileSystemStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// ValidatePath rejects empty, absolute, or parent-escaping paths.
func ValidatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	if path.Clean(p) != p {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return nil
}

func (s *FileSystemStore) fullPath(p string) (string, error) {
	if err := ValidatePath(p); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(p)), nil
}

// Put writes the object to a temporary file and renames it into place.
func (s *FileSystemStore) Put(ctx context.Context, p string, r io.Reader, size int64, _ string) (string, error) {
	full, err := s.fullPath(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write content: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("rename into place: %w", err)
	}

	return s.objectURL(p), nil
}

// Delete removes the file.
func (s *FileSystemStore) Delete(_ context.Context, p string) error {
	full, err := s.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// URL returns the object URL if the file exists.
func (s *FileSystemStore) URL(_ context.Context, p string) (string, error) {
	full, err := s.fullPath(p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat file: %w", err)
	}
	return s.objectURL(p), nil
}

// Check verifies the root directory is writable.
func (s *FileSystemStore) Check(context.Context) error {
	f, err := os.CreateTemp(s.root, ".check-*")
	if err != nil {
		return fmt.Errorf("root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Open returns a reader for the object. Used to serve files over HTTP.
func (s *FileSystemStore) Open(p string) (*os.File, error) {
	full, err := s.fullPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full) //nolint:gosec // path validated above
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *FileSystemStore) objectURL(p string) string {
	return s.baseURL + "/" + p
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}

var _ Store = (*FileSystemStore)(nil)
