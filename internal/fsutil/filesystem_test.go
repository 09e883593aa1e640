package fsutil

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/out/a.html")
	require.NoError(t, err)
	_, err = w.Write([]byte("<html>"))
	require.NoError(t, err)
	assert.False(t, mfs.Exists("/out/a.html"))

	require.NoError(t, w.Close())
	assert.True(t, mfs.Exists("/out/a.html"))

	data, err := mfs.ReadFile("/out/./a.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(data))
	assert.Equal(t, []string{"/out/a.html"}, mfs.Files())
}

func TestMemoryFileSystem_MissingFile(t *testing.T) {
	_, err := NewMemoryFileSystem().ReadFile("/nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/a/b/c", 0o755))
	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		assert.True(t, mfs.Exists(p), p)
	}
	assert.False(t, mfs.Exists("/a/b/d"))
}

func TestOSFileSystem(t *testing.T) {
	var osfs OSFileSystem
	dir := filepath.Join(t.TempDir(), "nested")
	require.NoError(t, osfs.MkdirAll(dir, 0o755))
	assert.True(t, osfs.Exists(dir))

	path := filepath.Join(dir, "x.txt")
	w, err := osfs.Create(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := osfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.False(t, osfs.Exists(filepath.Join(dir, "missing")))
}
