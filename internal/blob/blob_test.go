package blob_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castboard/castboard/internal/blob"
)

func TestMemoryStore_PutDelete(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore("https://cdn.test")

	url, err := store.Put(ctx, "uploads/u1/1_a.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/uploads/u1/1_a.png", url)
	assert.True(t, store.Has("uploads/u1/1_a.png"))

	require.NoError(t, store.Delete(ctx, "uploads/u1/1_a.png"))
	assert.False(t, store.Has("uploads/u1/1_a.png"))

	err = store.Delete(ctx, "uploads/u1/1_a.png")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestMemoryStore_SizeMismatch(t *testing.T) {
	store := blob.NewMemoryStore("")
	_, err := store.Put(context.Background(), "a/b", strings.NewReader("abc"), 5, "")
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_InjectedErrors(t *testing.T) {
	store := blob.NewMemoryStore("")
	store.PutErr = errors.New("quota exceeded")

	_, err := store.Put(context.Background(), "a/b", strings.NewReader("x"), 1, "")
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestFileSystemStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := blob.NewFileSystemStore(root, "http://localhost:8080/files/")
	require.NoError(t, err)

	url, err := store.Put(ctx, "uploads/u1/10_clip.mp4", bytes.NewReader([]byte("video")), 5, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/uploads/u1/10_clip.mp4", url)

	data, err := os.ReadFile(filepath.Join(root, "uploads", "u1", "10_clip.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))

	got, err := store.URL(ctx, "uploads/u1/10_clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, url, got)

	require.NoError(t, store.Delete(ctx, "uploads/u1/10_clip.mp4"))
	assert.ErrorIs(t, store.Delete(ctx, "uploads/u1/10_clip.mp4"), blob.ErrNotFound)

	_, err = store.URL(ctx, "uploads/u1/10_clip.mp4")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	require.NoError(t, store.Check(ctx))
}

func TestFileSystemStore_RejectsEscapingPaths(t *testing.T) {
	store, err := blob.NewFileSystemStore(t.TempDir(), "")
	require.NoError(t, err)

	for _, p := range []string{"", "/etc/passwd", "../x", "uploads/../../x", "a//b"} {
		_, err := store.Put(context.Background(), p, strings.NewReader(""), 0, "")
		assert.ErrorIs(t, err, blob.ErrInvalidPath, p)
	}
}

func TestProgressReader_Monotonic(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1000)
	var seen []blob.Progress

	r := blob.NewProgressReader(bytes.NewReader(payload), int64(len(payload)), func(p blob.Progress) {
		seen = append(seen, p)
	})

	buf := make([]byte, 128)
	for {
		_, err := r.Read(buf)
		if err != nil {
			break
		}
	}

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].BytesTransferred, seen[i-1].BytesTransferred)
	}
	last := seen[len(seen)-1]
	assert.Equal(t, 1.0, last.Fraction())
	assert.Equal(t, 100, last.Percent())
	assert.Equal(t, int64(1000), r.BytesRead())
}

func TestProgress_Fraction(t *testing.T) {
	assert.Equal(t, 0.5, blob.Progress{BytesTransferred: 50, TotalBytes: 100}.Fraction())
	assert.Equal(t, 1.0, blob.Progress{BytesTransferred: 0, TotalBytes: 0}.Fraction())
	assert.Equal(t, 33, blob.Progress{BytesTransferred: 1, TotalBytes: 3}.Percent())
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	store, err := blob.NewFromConfig(ctx, blob.Config{Type: blob.TypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &blob.MemoryStore{}, store)

	store, err = blob.NewFromConfig(ctx, blob.Config{Type: blob.TypeFileSystem, Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &blob.FileSystemStore{}, store)

	_, err = blob.NewFromConfig(ctx, blob.Config{Type: blob.TypeFileSystem})
	require.Error(t, err)

	_, err = blob.NewFromConfig(ctx, blob.Config{Type: "ftp"})
	require.Error(t, err)
}
