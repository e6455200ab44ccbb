package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *ArtifactStore {
	t.Helper()
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestIsSafeZipName(t *testing.T) {
	assert.True(t, IsSafeZipName("album-abc123.zip"))
	assert.True(t, IsSafeZipName("My-Album-2020.zip"))

	assert.False(t, IsSafeZipName(""))
	assert.False(t, IsSafeZipName("  "))
	assert.False(t, IsSafeZipName("."))
	assert.False(t, IsSafeZipName(".."))
	assert.False(t, IsSafeZipName("a/b.zip"))
	assert.False(t, IsSafeZipName("a\\b.zip"))
	assert.False(t, IsSafeZipName("a\x00b.zip"))
}

func TestResolveZipPathRejectsUnsafeNames(t *testing.T) {
	store := newStore(t)

	path, err := store.ResolveZipPath("album.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "album.zip"), path)

	_, err = store.ResolveZipPath("../escape.zip")
	assert.Error(t, err)
	_, err = store.ResolveZipPath("nested/name.zip")
	assert.Error(t, err)
}

func TestResolveWithinRoot(t *testing.T) {
	root := t.TempDir()

	full, err := ResolveWithinRoot(root, "Artists/Album")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Artists", "Album"), full)

	// Leading slashes are treated as relative to the root, not the host.
	full, err = ResolveWithinRoot(root, "/Artists/Album")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Artists", "Album"), full)

	_, err = ResolveWithinRoot(root, "../outside")
	assert.Error(t, err)
	_, err = ResolveWithinRoot(root, "a/../../outside")
	assert.Error(t, err)
	_, err = ResolveWithinRoot(root, "a\x00b")
	assert.Error(t, err)
	_, err = ResolveWithinRoot(root, "")
	assert.Error(t, err)
}

func TestTempPathIsUniqueSibling(t *testing.T) {
	store := newStore(t)
	final := filepath.Join(store.Root(), "album.zip")

	first := store.TempPath(final, "test")
	second := store.TempPath(final, "test")

	assert.True(t, strings.HasPrefix(first, final+".tmp-test-"))
	assert.NotEqual(t, first, second)
	assert.Equal(t, store.Root(), filepath.Dir(first))
}

func TestPublishReplacesStaleFile(t *testing.T) {
	store := newStore(t)
	final := filepath.Join(store.Root(), "album.zip")
	require.NoError(t, os.WriteFile(final, []byte("stale"), 0o644))

	temp := store.TempPath(final, "test")
	require.NoError(t, os.WriteFile(temp, []byte("fresh"), 0o644))
	require.NoError(t, store.Publish(temp, final))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteFile(t *testing.T) {
	store := newStore(t)
	source := filepath.Join(t.TempDir(), "user-build.zip")
	require.NoError(t, os.WriteFile(source, []byte("payload"), 0o644))

	target, err := store.PromoteFile(source, "album.zip")
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// The original stays; promotion never moves the caller's file.
	_, err = os.Stat(source)
	assert.NoError(t, err)

	size, err := store.FileSize("album.zip")
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), size)
}

func TestRemoveDistinguishesMissing(t *testing.T) {
	store := newStore(t)
	final := filepath.Join(store.Root(), "album.zip")
	require.NoError(t, os.WriteFile(final, []byte("x"), 0o644))

	result, err := store.Remove("album.zip")
	require.NoError(t, err)
	assert.True(t, result.Removed)
	assert.False(t, result.Missing)

	result, err = store.Remove("album.zip")
	require.NoError(t, err)
	assert.False(t, result.Removed)
	assert.True(t, result.Missing)
}

func TestFileExists(t *testing.T) {
	store := newStore(t)
	assert.False(t, store.FileExists("album.zip"))

	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "album.zip"), []byte("x"), 0o644))
	assert.True(t, store.FileExists("album.zip"))

	// Directories never count as servable artifacts.
	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "dir.zip"), 0o755))
	assert.False(t, store.FileExists("dir.zip"))
}

func TestCapacityBytes(t *testing.T) {
	store := newStore(t)
	capacity, err := store.CapacityBytes()
	require.NoError(t, err)
	assert.Greater(t, capacity, uint64(0))
}
